// Package store keeps per-session conversation history.
// The default backend is in-memory; a Redis backend is available when history
// should survive across processes.
package store

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "store")

// MaxMessages is the number of messages retained per session.
const MaxMessages = 50

// MessageStore stores chat history per session.
type MessageStore interface {
	Messages(ctx context.Context, sessionID string) []llms.Message
	Add(ctx context.Context, sessionID string, msgs ...llms.Message) error
	Reset(ctx context.Context, sessionID string) error
}

// messageModel is the serializable form of llms.Message: the part interface
// is flattened into concrete fields.
type messageModel struct {
	Role         llms.Role              `json:"role"`
	Text         string                 `json:"text,omitempty"`
	ToolCalls    []llms.ToolCall        `json:"tool_calls,omitempty"`
	ToolResponse *llms.ToolCallResponse `json:"tool_response,omitempty"`
}

func toModel(msg llms.Message) messageModel {
	m := messageModel{Role: msg.Role}
	for _, p := range msg.Parts {
		switch typ := p.(type) {
		case llms.TextContent:
			if m.Text != "" {
				m.Text += "\n"
			}
			m.Text += typ.Text
		case llms.ToolCall:
			m.ToolCalls = append(m.ToolCalls, typ)
		case llms.ToolCallResponse:
			resp := typ
			m.ToolResponse = &resp
		}
	}
	return m
}

func fromModel(m messageModel) llms.Message {
	msg := llms.Message{Role: m.Role}
	if m.Text != "" {
		msg.Parts = append(msg.Parts, llms.TextPart(m.Text))
	}
	for _, tc := range m.ToolCalls {
		msg.Parts = append(msg.Parts, tc)
	}
	if m.ToolResponse != nil {
		msg.Parts = append(msg.Parts, *m.ToolResponse)
	}
	return msg
}

func marshalMessage(msg llms.Message) ([]byte, error) {
	data, err := json.Marshal(toModel(msg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}
	return data, nil
}

func unmarshalMessage(data []byte) (llms.Message, error) {
	var m messageModel
	if err := json.Unmarshal(data, &m); err != nil {
		return llms.Message{}, errors.Wrap(err, "failed to unmarshal message")
	}
	return fromModel(m), nil
}
