// Package api exposes the hub over HTTP JSON. Every route except session
// creation is scoped to a session identified by the X-MCP-Session-ID header.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/connmgr"
	"github.com/effective-security/mcphub/orchestrator"
	"github.com/effective-security/mcphub/session"
	"github.com/effective-security/mcphub/vault"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "api")

// SessionHeader carries the session id on every scoped request.
const SessionHeader = "X-MCP-Session-ID"

type ctxKey int

const sessionCtxKey ctxKey = iota

// Server wires the HTTP surface to the hub components.
type Server struct {
	sessions *session.Store
	manager  *connmgr.Manager
	chat     *orchestrator.Orchestrator
	validate *validator.Validate
}

// NewServer returns the HTTP API server.
func NewServer(sessions *session.Store, manager *connmgr.Manager, chat *orchestrator.Orchestrator) *Server {
	return &Server{
		sessions: sessions,
		manager:  manager,
		chat:     chat,
		validate: validator.New(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session", s.createSession)

	scoped := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withSession(h)
	}
	mux.HandleFunc("POST /v1/settings/apikey", scoped(s.setAPIKey))
	mux.HandleFunc("POST /v1/servers", scoped(s.registerServer))
	mux.HandleFunc("DELETE /v1/servers/{id}", scoped(s.unregisterServer))
	mux.HandleFunc("GET /v1/servers", scoped(s.listServers))
	mux.HandleFunc("GET /v1/servers/candidates", scoped(s.listCandidates))
	mux.HandleFunc("GET /v1/tools", scoped(s.listTools))
	mux.HandleFunc("GET /v1/tools/credentials", scoped(s.listCredentialRequirements))
	mux.HandleFunc("POST /v1/tools/credentials", scoped(s.setCredentials))
	mux.HandleFunc("POST /v1/tools/execute", scoped(s.executeTool))
	mux.HandleFunc("POST /v1/chat/completions", scoped(s.chatCompletion))
	return mux
}

// withSession resolves the session header and refreshes session activity.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing "+SessionHeader+" header")
			return
		}
		sess, err := s.sessions.Get(id)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey, sess)
		next(w, r.WithContext(ctx))
	}
}

func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionCtxKey).(*session.Session)
	return sess
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.KV(xlog.WARNING, "reason", "encode response", "err", err.Error())
	}
}

// writeDomainError maps hub errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = http.StatusUnauthorized
	case errors.Is(err, connmgr.ErrToolNotFound),
		errors.Is(err, connmgr.ErrServerNotFound),
		errors.Is(err, vault.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrMissingCredential):
		code = http.StatusPreconditionFailed
	case connmgr.IsConnectionError(err), connmgr.IsToolExecutionError(err):
		code = http.StatusBadGateway
	default:
		var upstream *orchestrator.UpstreamError
		if errors.As(err, &upstream) {
			code = http.StatusBadGateway
		} else {
			code = http.StatusInternalServerError
		}
	}
	writeError(w, code, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
