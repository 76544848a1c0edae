// Package registry keeps the per-session catalog of tools discovered from
// registered provider servers.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "registry")

// CredentialRequirement is a declared secret a tool needs before it can be
// invoked successfully.
type CredentialRequirement struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Description     string `json:"description,omitempty"`
	AcquisitionHint string `json:"acquisition_hint,omitempty"`
}

// ToolRecord is one discovered tool and the server that owns it.
type ToolRecord struct {
	Name        string
	Description string
	ServerID    string
	ServerName  string
	// InputSchema is the parsed argument schema, nil when the provider sent none.
	InputSchema *jsonschema.Schema
	// RawSchema is the schema exactly as the provider sent it, passed through
	// to the LLM tool definition.
	RawSchema              json.RawMessage
	CredentialRequirements []CredentialRequirement
}

// ToolRegistry maps tool names to records for one session.
// Tool names are unique within a session: a later registration of the same
// name overwrites the prior record, including one from another server.
type ToolRegistry struct {
	mu      sync.RWMutex
	byName  map[string]*ToolRecord
	names   []string
	credPar *CredentialParser
}

// New returns an empty registry using the given credential parser.
func New(credPar *CredentialParser) *ToolRegistry {
	if credPar == nil {
		credPar = NewCredentialParser(nil, false)
	}
	return &ToolRegistry{
		byName:  make(map[string]*ToolRecord),
		credPar: credPar,
	}
}

// Register stores one ToolRecord per raw tool, keyed by tool name.
func (r *ToolRegistry) Register(serverID, serverName string, tools []mcpclient.RawTool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, raw := range tools {
		rec := &ToolRecord{
			Name:        raw.Name,
			Description: raw.Description,
			ServerID:    serverID,
			ServerName:  serverName,
			RawSchema:   raw.InputSchema,
		}
		if len(raw.InputSchema) > 0 {
			sch := new(jsonschema.Schema)
			if err := json.Unmarshal(raw.InputSchema, sch); err != nil {
				logger.KV(xlog.WARNING,
					"status", "invalid_tool_schema",
					"tool", raw.Name,
					"server", serverID,
					"err", err.Error(),
				)
			} else {
				rec.InputSchema = sch
				rec.CredentialRequirements = r.credPar.Parse(sch)
			}
		}

		if prev, ok := r.byName[raw.Name]; ok {
			if prev.ServerID != serverID {
				logger.KV(xlog.WARNING,
					"status", "tool_name_collision",
					"tool", raw.Name,
					"prev_server", prev.ServerID,
					"server", serverID,
				)
			}
		} else {
			r.names = append(r.names, raw.Name)
		}
		r.byName[raw.Name] = rec
	}
}

// RemoveByServer deletes every record owned by the given server.
func (r *ToolRegistry) RemoveByServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.names[:0]
	for _, name := range r.names {
		rec := r.byName[name]
		if rec != nil && rec.ServerID == serverID {
			delete(r.byName, name)
			continue
		}
		kept = append(kept, name)
	}
	r.names = kept
}

// Get returns the record for a tool name, or nil when absent.
func (r *ToolRegistry) Get(toolName string) *ToolRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[toolName]
}

// All returns every record in registration order.
func (r *ToolRegistry) All() []*ToolRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*ToolRecord, 0, len(r.names))
	for _, name := range r.names {
		if rec := r.byName[name]; rec != nil {
			list = append(list, rec)
		}
	}
	return list
}

// AllByServer returns every record owned by the given server.
func (r *ToolRegistry) AllByServer(serverID string) []*ToolRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*ToolRecord
	for _, name := range r.names {
		if rec := r.byName[name]; rec != nil && rec.ServerID == serverID {
			list = append(list, rec)
		}
	}
	return list
}

// AllWithCredentialRequirements returns every record declaring at least one
// credential requirement.
func (r *ToolRegistry) AllWithCredentialRequirements() []*ToolRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*ToolRecord
	for _, name := range r.names {
		if rec := r.byName[name]; rec != nil && len(rec.CredentialRequirements) > 0 {
			list = append(list, rec)
		}
	}
	return list
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
