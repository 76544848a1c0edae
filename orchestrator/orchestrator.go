// Package orchestrator drives one conversational turn: it asks the LLM for a
// completion, executes any requested tool calls through the connection
// manager, folds the results back into the conversation and repeats until the
// model produces a final answer or the round limit is hit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/llms"
	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/pkg/metricskey"
	"github.com/effective-security/mcphub/session"
	"github.com/effective-security/mcphub/store"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "orchestrator")

// DefaultMaxRounds caps the number of tool-use rounds per turn.
const DefaultMaxRounds = 5

// ErrMissingCredential is returned when the session has no LLM API key.
var ErrMissingCredential = errors.New("LLM API key is not set for the session")

// UpstreamError reports a failure of the LLM backend; it aborts the turn.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream provider error: %s", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ModelFactory builds an LLM backend for a session's API key.
type ModelFactory func(apiKey string) (llms.Model, error)

// ToolExecutor dispatches one tool call for a session; implemented by
// connmgr.Manager.
type ToolExecutor interface {
	ExecuteToolCall(ctx context.Context, sess *session.Session, toolName string, args map[string]any) (*mcpclient.Result, error)
}

// TurnRequest is one chat turn from the client.
type TurnRequest struct {
	// Messages is the new conversation input, usually one human message.
	Messages []llms.Message
	// IncludeTools offers the session's registered tools to the model.
	IncludeTools bool
}

// ToolUse records one tool invocation made during a turn, for UI transparency.
type ToolUse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	// Final is the model's final response for the turn.
	Final *llms.ContentResponse
	// Intermediate holds the tool-requesting responses preceding Final.
	Intermediate []*llms.ContentResponse
	// ToolUses lists every tool invocation in dispatch order.
	ToolUses []ToolUse
	// ToolsUsed is set when at least one tool was invoked.
	ToolsUsed bool
}

// Orchestrator coordinates LLM rounds and tool dispatch. It is an explicitly
// constructed, dependency-injected object; per-session state stays on the session.
type Orchestrator struct {
	models    ModelFactory
	executor  ToolExecutor
	history   store.MessageStore
	maxRounds int
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds overrides the tool-use round cap.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		o.maxRounds = n
	}
}

// WithHistory sets the conversation history store.
func WithHistory(history store.MessageStore) Option {
	return func(o *Orchestrator) {
		o.history = history
	}
}

// New returns an orchestrator.
func New(models ModelFactory, executor ToolExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		models:    models,
		executor:  executor,
		history:   store.NewMemoryStore(),
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Turn executes one conversational turn for the session.
func (o *Orchestrator) Turn(ctx context.Context, sess *session.Session, req TurnRequest) (*TurnResult, error) {
	apiKey := sess.APIKey()
	if apiKey == "" {
		return nil, errors.WithStack(ErrMissingCredential)
	}
	model, err := o.models(apiKey)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	modelName := model.GetName()
	defer metricskey.PerfChatTurn.MeasureSince(started, modelName)

	result, err := o.run(ctx, sess, model, req)
	if err != nil {
		metricskey.StatsChatTurnsFailed.IncrCounter(1, modelName)
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, model llms.Model, req TurnRequest) (*TurnResult, error) {
	var toolDefs []llms.Tool
	if req.IncludeTools {
		for _, rec := range sess.Registry.All() {
			var params any
			if len(rec.RawSchema) > 0 {
				params = rec.RawSchema
			}
			toolDefs = append(toolDefs, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        rec.Name,
					Description: rec.Description,
					Parameters:  params,
				},
			})
		}
	}

	messages := o.history.Messages(ctx, sess.ID)
	messages = append(messages, req.Messages...)

	result := &TurnResult{}
	var resp *llms.ContentResponse
	for round := 0; ; round++ {
		// the last allowed round omits tools to force a natural-language answer
		offered := len(toolDefs) > 0 && round < o.maxRounds
		opts := []llms.CallOption{}
		if offered {
			opts = append(opts, llms.WithTools(toolDefs))
		}

		var err error
		resp, err = model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return nil, errors.WithStack(&UpstreamError{Err: err})
		}

		toolCalls := collectToolCalls(resp)
		if len(toolCalls) == 0 || !offered {
			break
		}

		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "tool_calls_requested",
			"session", sess.ID,
			"round", round,
			"count", len(toolCalls),
		)

		result.Intermediate = append(result.Intermediate, resp)
		result.ToolsUsed = true

		messages = append(messages, llms.MessageFromToolCalls(llms.RoleAI, toolCalls...))
		responses := o.dispatch(ctx, sess, toolCalls)
		for _, tr := range responses {
			result.ToolUses = append(result.ToolUses, ToolUse{
				ID:        tr.ToolCallID,
				Name:      tr.Name,
				Arguments: argumentsOf(toolCalls, tr.ToolCallID),
				Content:   tr.Content,
				IsError:   tr.IsError,
			})
			messages = append(messages, llms.MessageFromToolResponse(llms.RoleTool, tr))
		}
	}

	result.Final = resp

	// persist the human input and the final answer, not the tool traffic
	hist := append([]llms.Message(nil), req.Messages...)
	if len(resp.Choices) > 0 {
		hist = append(hist, llms.MessageFromTextParts(llms.RoleAI, resp.Choices[0].Content))
	}
	if err := o.history.Add(ctx, sess.ID, hist...); err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "failed_to_store_history",
			"session", sess.ID,
			"err", err.Error(),
		)
	}
	return result, nil
}

// collectToolCalls gathers the tool calls of every choice, preserving the
// order the model requested them.
func collectToolCalls(resp *llms.ContentResponse) []llms.ToolCall {
	var toolCalls []llms.ToolCall
	for _, choice := range resp.Choices {
		for i, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("%s_%d", tc.FunctionCall.Name, i)
			}
			tc.Type = values.StringsCoalesce(tc.Type, "function")
			toolCalls = append(toolCalls, tc)
		}
	}
	return toolCalls
}

// dispatch executes the round's tool calls concurrently and returns the
// responses in request order. A failed call becomes an error-flagged result;
// it never aborts its siblings.
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, toolCalls []llms.ToolCall) []llms.ToolCallResponse {
	results := make([]llms.ToolCallResponse, len(toolCalls))

	var wg sync.WaitGroup
	wg.Add(len(toolCalls))
	for i, toolCall := range toolCalls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			results[index] = o.execute(ctx, sess, tc)
		}(i, toolCall)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) execute(ctx context.Context, sess *session.Session, tc llms.ToolCall) llms.ToolCallResponse {
	toolName := tc.FunctionCall.Name
	resp := llms.ToolCallResponse{
		ToolCallID: tc.ID,
		Name:       toolName,
	}

	var args map[string]any
	if raw := tc.FunctionCall.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			resp.IsError = true
			resp.Content = fmt.Sprintf("Tool call failed: invalid arguments: %s", err)
			return resp
		}
	}

	res, err := o.executor.ExecuteToolCall(ctx, sess, toolName, args)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"session", sess.ID,
			"tool", toolName,
			"err", err.Error(),
		)
		resp.IsError = true
		resp.Content = fmt.Sprintf("Tool call failed: %s", err)
		return resp
	}

	resp.Content = res.Content
	resp.IsError = res.IsError
	return resp
}

func argumentsOf(toolCalls []llms.ToolCall, id string) string {
	for _, tc := range toolCalls {
		if tc.ID == id {
			return tc.FunctionCall.Arguments
		}
	}
	return ""
}
