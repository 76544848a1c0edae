package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/metricskey"
	"github.com/effective-security/mcphub/registry"
	"github.com/effective-security/mcphub/vault"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "session")

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

const (
	// DefaultTimeout is the inactivity timeout after which a session expires.
	DefaultTimeout = 24 * time.Hour
	// DefaultSweepInterval is how often the expiry sweep runs.
	DefaultSweepInterval = 10 * time.Minute
)

// StoreConfig configures the session store.
type StoreConfig struct {
	// Timeout is the inactivity timeout, DefaultTimeout when zero.
	Timeout time.Duration
	// SweepInterval is the sweep period, DefaultSweepInterval when zero.
	SweepInterval time.Duration
	// CredentialParser is shared by the per-session tool registries.
	CredentialParser *registry.CredentialParser
	// VaultKey seals every session vault; a random key is generated when nil.
	VaultKey []byte
}

// Store creates, looks up and expires sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout       time.Duration
	sweepInterval time.Duration
	credPar       *registry.CredentialParser
	vaultKey      []byte
}

// NewStore returns an empty session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	key := cfg.VaultKey
	if key == nil {
		var err error
		key, err = vault.NewKey()
		if err != nil {
			return nil, err
		}
	}
	s := &Store{
		sessions:      make(map[string]*Session),
		timeout:       cfg.Timeout,
		sweepInterval: cfg.SweepInterval,
		credPar:       cfg.CredentialParser,
		vaultKey:      key,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = DefaultSweepInterval
	}
	return s, nil
}

// Create allocates a new session with empty collections and a fresh id.
func (s *Store) Create() (*Session, error) {
	vlt, err := vault.New(s.vaultKey)
	if err != nil {
		return nil, err
	}
	sess := newSession(uuid.NewString(), registry.New(s.credPar), vlt)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	metricskey.StatsSessionsCreated.IncrCounter(1)
	logger.KV(xlog.DEBUG, "status", "session_created", "session", sess.ID)
	return sess, nil
}

// Get returns the session and refreshes its activity timestamp.
func (s *Store) Get(id string) (*Session, error) {
	sess, err := s.Peek(id)
	if err != nil {
		return nil, err
	}
	sess.Touch()
	return sess, nil
}

// Peek returns the session without refreshing activity; used by read-only
// lookups that should not keep a session alive.
func (s *Store) Peek(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.WithStack(ErrNotFound)
	}
	return sess, nil
}

// Remove tears down one session explicitly: connections closed best-effort,
// session dropped. Unknown ids are a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.teardown(sess)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run sweeps expired sessions on a fixed interval until ctx is canceled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes every session idle longer than the timeout and closes its
// connections. Safe to run concurrently with request handling: the scan under
// the store lock reads only the atomic activity timestamp, so a session stuck
// in a slow dial or tool call never stalls Create/Get/Peek for the others.
// Teardown takes the per-session lock outside the store lock, and an in-flight
// request may observe ErrNotFound after its session is swept.
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-s.timeout)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.teardown(sess)
		metricskey.StatsSessionsExpired.IncrCounter(1)
		logger.KV(xlog.INFO, "status", "session_expired", "session", sess.ID)
	}
	return len(expired)
}

// Shutdown closes every connection across every session; used on process
// termination.
func (s *Store) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		s.teardown(sess)
	}
}

func (s *Store) teardown(sess *Session) {
	sess.Lock()
	errs := sess.CloseAllLocked()
	sess.Unlock()
	for _, err := range errs {
		logger.KV(xlog.WARNING,
			"status", "connection_close_failed",
			"session", sess.ID,
			"err", err.Error(),
		)
	}
}
