package api

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/orchestrator"
	"github.com/effective-security/mcphub/pkg/llms"
	"github.com/effective-security/mcphub/registry"
	"github.com/effective-security/mcphub/session"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID,
	})
}

type apiKeyRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

func (s *Server) setAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionFrom(r).SetAPIKey(req.APIKey)
	w.WriteHeader(http.StatusNoContent)
}

type registerServerRequest struct {
	ID       string   `json:"id"`
	Name     string   `json:"name" validate:"required"`
	URL      string   `json:"url" validate:"required,url"`
	Tags     []string `json:"tags"`
	Types    []string `json:"types"`
	Rating   float64  `json:"rating"`
	Verified bool     `json:"verified"`
}

type registerServerResponse struct {
	Server session.ServerDescriptor `json:"server"`
	Tools  int                      `json:"tools"`
}

func (s *Server) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sess := sessionFrom(r)
	desc := session.ServerDescriptor{
		ID:       req.ID,
		Name:     req.Name,
		URL:      req.URL,
		Tags:     req.Tags,
		Types:    req.Types,
		Rating:   req.Rating,
		Verified: req.Verified,
	}
	if err := s.manager.RegisterServer(r.Context(), sess, desc); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerServerResponse{
		Server: desc,
		Tools:  len(sess.Registry.AllByServer(desc.ID)),
	})
}

func (s *Server) unregisterServer(w http.ResponseWriter, r *http.Request) {
	s.manager.UnregisterServer(r.Context(), sessionFrom(r), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": sessionFrom(r).Descriptors(),
	})
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	list := s.manager.FetchCandidateServers(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": list,
	})
}

type toolView struct {
	Name                   string                           `json:"name"`
	Description            string                           `json:"description,omitempty"`
	ServerID               string                           `json:"server_id"`
	ServerName             string                           `json:"server_name,omitempty"`
	InputSchema            json.RawMessage                  `json:"input_schema,omitempty"`
	CredentialRequirements []registry.CredentialRequirement `json:"credential_requirements,omitempty"`
}

func toolViewOf(rec *registry.ToolRecord) toolView {
	return toolView{
		Name:                   rec.Name,
		Description:            rec.Description,
		ServerID:               rec.ServerID,
		ServerName:             rec.ServerName,
		InputSchema:            rec.RawSchema,
		CredentialRequirements: rec.CredentialRequirements,
	}
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	recs := sessionFrom(r).Registry.All()
	list := make([]toolView, 0, len(recs))
	for _, rec := range recs {
		list = append(list, toolViewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": list,
	})
}

type credentialStatus struct {
	ToolName     string                           `json:"tool_name"`
	ServerID     string                           `json:"server_id"`
	ServerName   string                           `json:"server_name,omitempty"`
	Requirements []registry.CredentialRequirement `json:"requirements"`
	Stored       bool                             `json:"stored"`
}

func (s *Server) listCredentialRequirements(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	recs := sess.Registry.AllWithCredentialRequirements()
	list := make([]credentialStatus, 0, len(recs))
	for _, rec := range recs {
		list = append(list, credentialStatus{
			ToolName:     rec.Name,
			ServerID:     rec.ServerID,
			ServerName:   rec.ServerName,
			Requirements: rec.CredentialRequirements,
			Stored:       sess.Vault.Has(rec.Name, rec.ServerID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credentials": list,
	})
}

type setCredentialsRequest struct {
	ToolName    string            `json:"tool_name" validate:"required"`
	Credentials map[string]string `json:"credentials" validate:"required"`
}

func (s *Server) setCredentials(w http.ResponseWriter, r *http.Request) {
	var req setCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := sessionFrom(r)
	rec := sess.Registry.Get(req.ToolName)
	if rec == nil {
		writeError(w, http.StatusNotFound, "unknown tool: "+req.ToolName)
		return
	}
	if err := sess.Vault.Set(rec.Name, rec.ServerID, req.Credentials); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeToolRequest struct {
	ToolName string         `json:"tool_name" validate:"required"`
	Args     map[string]any `json:"args"`
}

type executeToolResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	var req executeToolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.manager.ExecuteToolCall(r.Context(), sessionFrom(r), req.ToolName, req.Args)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeToolResponse{
		Content: res.Content,
		IsError: res.IsError,
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content" validate:"required"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages" validate:"required,min=1,dive"`
	Tools    bool          `json:"tools"`
}

type chatResponse struct {
	Content   string                 `json:"content"`
	ToolsUsed bool                   `json:"tools_used"`
	ToolUses  []orchestrator.ToolUse `json:"tool_uses,omitempty"`
}

func (s *Server) chatCompletion(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs := make([]llms.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role, err := parseRole(m.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		msgs = append(msgs, llms.MessageFromTextParts(role, m.Content))
	}

	sess := sessionFrom(r)
	result, err := s.chat.Turn(r.Context(), sess, orchestrator.TurnRequest{
		Messages:     msgs,
		IncludeTools: req.Tools,
	})
	if err != nil {
		logger.ContextKV(r.Context(), xlog.WARNING,
			"status", "chat_turn_failed",
			"session", sess.ID,
			"err", err.Error(),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Content:   result.Final.GetContent(),
		ToolsUsed: result.ToolsUsed,
		ToolUses:  result.ToolUses,
	})
}

func parseRole(role string) (llms.Role, error) {
	switch role {
	case "", "user", "human":
		return llms.RoleHuman, nil
	case "system":
		return llms.RoleSystem, nil
	case "assistant", "ai":
		return llms.RoleAI, nil
	default:
		return "", errors.Newf("unsupported message role: %q", role)
	}
}
