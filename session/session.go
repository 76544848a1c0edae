// Package session holds the unit of isolation for one user: registered
// servers, discovered tools, credentials and live provider connections.
// Session state is in-memory and scoped to an inactivity timeout.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/registry"
	"github.com/effective-security/mcphub/vault"
)

// ServerDescriptor identifies one tool-provider server within a session.
// Tags, Types, Rating and Verified are display-only metadata.
type ServerDescriptor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Tags     []string `json:"tags,omitempty"`
	Types    []string `json:"types,omitempty"`
	Rating   float64  `json:"rating,omitempty"`
	Verified bool     `json:"verified,omitempty"`
}

// Session is one user's orchestration state. The embedded mutex serializes
// server registration, tool execution and the expiry sweep for this session;
// different sessions share nothing.
type Session struct {
	sync.Mutex

	ID        string
	CreatedAt time.Time

	Registry *registry.ToolRegistry
	Vault    *vault.Vault

	// lastActive is atomic, not guarded by the mutex: the expiry sweep reads
	// it while holding the store lock, and must never wait on a session busy
	// in a registration or tool call.
	lastActive atomic.Int64

	llmAPIKey     string
	serverConfigs []ServerDescriptor
	connections   map[string]mcpclient.Provider
}

func newSession(id string, reg *registry.ToolRegistry, vlt *vault.Vault) *Session {
	now := time.Now()
	sess := &Session{
		ID:          id,
		CreatedAt:   now,
		Registry:    reg,
		Vault:       vlt,
		connections: make(map[string]mcpclient.Provider),
	}
	sess.lastActive.Store(now.UnixNano())
	return sess
}

// Touch refreshes the activity timestamp. Lock-free.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the last activity timestamp. Lock-free.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// SetAPIKey stores the LLM API key on the session.
func (s *Session) SetAPIKey(key string) {
	s.Lock()
	defer s.Unlock()
	s.llmAPIKey = key
}

// APIKey returns the LLM API key, empty when not set.
func (s *Session) APIKey() string {
	s.Lock()
	defer s.Unlock()
	return s.llmAPIKey
}

// Descriptors returns a copy of the registered server descriptors.
func (s *Session) Descriptors() []ServerDescriptor {
	s.Lock()
	defer s.Unlock()
	return append([]ServerDescriptor(nil), s.serverConfigs...)
}

// DescriptorLocked returns the descriptor for a server id.
// Callers must hold the session lock.
func (s *Session) DescriptorLocked(serverID string) (ServerDescriptor, bool) {
	for _, d := range s.serverConfigs {
		if d.ID == serverID {
			return d, true
		}
	}
	return ServerDescriptor{}, false
}

// UpsertDescriptorLocked inserts or replaces a descriptor, matching by id or
// by url so the same endpoint is never registered twice. It returns the
// replaced descriptor when one matched.
// Callers must hold the session lock.
func (s *Session) UpsertDescriptorLocked(desc ServerDescriptor) (ServerDescriptor, bool) {
	for i, d := range s.serverConfigs {
		if d.ID == desc.ID || d.URL == desc.URL {
			s.serverConfigs[i] = desc
			return d, true
		}
	}
	s.serverConfigs = append(s.serverConfigs, desc)
	return ServerDescriptor{}, false
}

// RemoveDescriptorLocked removes a descriptor by id; absent ids are a no-op.
// Callers must hold the session lock.
func (s *Session) RemoveDescriptorLocked(serverID string) {
	for i, d := range s.serverConfigs {
		if d.ID == serverID {
			s.serverConfigs = append(s.serverConfigs[:i], s.serverConfigs[i+1:]...)
			return
		}
	}
}

// ConnectionLocked returns the live connection for a server, if any.
// Callers must hold the session lock.
func (s *Session) ConnectionLocked(serverID string) (mcpclient.Provider, bool) {
	conn, ok := s.connections[serverID]
	return conn, ok
}

// SetConnectionLocked installs the live connection for a server.
// Callers must hold the session lock, and the server descriptor must be
// registered: connections keys are always a subset of serverConfigs ids.
func (s *Session) SetConnectionLocked(serverID string, conn mcpclient.Provider) {
	s.connections[serverID] = conn
}

// DropConnectionLocked removes and returns the connection for a server.
// Callers must hold the session lock.
func (s *Session) DropConnectionLocked(serverID string) (mcpclient.Provider, bool) {
	conn, ok := s.connections[serverID]
	if ok {
		delete(s.connections, serverID)
	}
	return conn, ok
}

// CloseAllLocked closes every connection, best-effort, and clears the map.
// Callers must hold the session lock.
func (s *Session) CloseAllLocked() []error {
	var errs []error
	for id, conn := range s.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.connections, id)
	}
	return errs
}
