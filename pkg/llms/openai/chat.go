package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/llms"
)

// ChatMessage is one message of a chat-completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries the tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID identifies the call a role=tool message responds to.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a wire-format tool call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the function name and JSON arguments of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a wire-format tool definition.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function offered to the model.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ChatRequest is a chat-completions request payload.
type ChatRequest struct {
	Model               string         `json:"model"`
	Messages            []*ChatMessage `json:"messages"`
	Temperature         float64        `json:"temperature,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
	Tools               []Tool         `json:"tools,omitempty"`
	ToolChoice          any            `json:"tool_choice,omitempty"`
}

// ChatCompletionChoice is one returned completion.
type ChatCompletionChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
}

// ChatCompletionResponse is a chat-completions response payload.
type ChatCompletionResponse struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Choices []*ChatCompletionChoice `json:"choices"`
}

type errorMessage struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// StatusError is returned when the backend responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream provider error: status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) createChat(ctx context.Context, payload *ChatRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/chat/completions", payload.Model), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send chat request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chat response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var em errorMessage
		msg := string(data)
		if err := json.Unmarshal(data, &em); err == nil && em.Error.Message != "" {
			msg = em.Error.Message
		}
		return nil, errors.WithStack(&StatusError{
			StatusCode: resp.StatusCode,
			Message:    msg,
		})
	}

	var response ChatCompletionResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chat response")
	}
	return &response, nil
}

func messagesToChat(messages []llms.Message) ([]*ChatMessage, error) {
	chatMsgs := make([]*ChatMessage, 0, len(messages))
	for _, mc := range messages {
		msg := &ChatMessage{}
		switch mc.Role {
		case llms.RoleSystem:
			msg.Role = RoleSystem
		case llms.RoleAI:
			msg.Role = RoleAssistant
		case llms.RoleHuman:
			msg.Role = RoleUser
		case llms.RoleTool:
			msg.Role = RoleTool
			if len(mc.Parts) != 1 {
				return nil, errors.Newf("expected exactly one part for role %v, got %d", mc.Role, len(mc.Parts))
			}
			p, ok := mc.Parts[0].(llms.ToolCallResponse)
			if !ok {
				return nil, errors.Newf("expected part of type ToolCallResponse for role %v, got %T", mc.Role, mc.Parts[0])
			}
			msg.ToolCallID = p.ToolCallID
			msg.Content = p.Content
			chatMsgs = append(chatMsgs, msg)
			continue
		default:
			return nil, errors.Newf("role %v not supported", mc.Role)
		}

		for _, part := range mc.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				if msg.Content != "" {
					msg.Content += "\n"
				}
				msg.Content += p.Text
			case llms.ToolCall:
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{
					ID:   p.ID,
					Type: p.Type,
					Function: FunctionCall{
						Name:      p.FunctionCall.Name,
						Arguments: p.FunctionCall.Arguments,
					},
				})
			default:
				return nil, errors.Newf("content part %T not supported for role %v", part, mc.Role)
			}
		}
		chatMsgs = append(chatMsgs, msg)
	}
	return chatMsgs, nil
}
