package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/llms"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint used when no base URL is configured.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultChatModel is used when the caller does not specify a model.
	DefaultChatModel = "gpt-5-mini"
)

const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleTool      = "tool"
)

// ErrEmptyResponse is returned when the backend returns no choices.
var ErrEmptyResponse = errors.New("empty response")

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an OpenAI-compatible chat-completions client.
// The token is per-instance so a fresh client can be built for each session key.
type Client struct {
	provider llms.ProviderType
	model    string

	token      string
	baseURL    string
	apiVersion string
	httpClient Doer
}

var _ llms.Model = (*Client)(nil)

// Option is an option for the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithAPIVersion sets the api-version query parameter, required for Azure.
func WithAPIVersion(apiVersion string) Option {
	return func(c *Client) {
		c.apiVersion = apiVersion
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient Doer) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New returns a new chat-completions client for the given provider and token.
func New(provider llms.ProviderType, token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("api token is required")
	}
	c := &Client{
		provider:   provider,
		model:      DefaultChatModel,
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetProviderType implements the Model interface.
func (c *Client) GetProviderType() llms.ProviderType {
	return c.provider
}

// GetName implements the Model interface.
func (c *Client) GetName() string {
	return c.model
}

// GenerateContent implements the Model interface.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	chatMsgs, err := messagesToChat(messages)
	if err != nil {
		return nil, err
	}

	req := &ChatRequest{
		Model:               opts.Model,
		Messages:            chatMsgs,
		Temperature:         opts.Temperature,
		MaxCompletionTokens: opts.MaxTokens,
		ToolChoice:          opts.ToolChoice,
	}
	if req.Model == "" {
		req.Model = c.model
	}
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		req.Tools = append(req.Tools, Tool{
			Type: t.Type,
			Function: FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	resp, err := c.createChat(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	choices := make([]*llms.ContentChoice, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		choice := &llms.ContentChoice{
			Content:    ch.Message.Content,
			StopReason: ch.FinishReason,
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		choices = append(choices, choice)
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.provider == llms.ProviderAzure {
		req.Header.Set("api-key", c.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) buildURL(suffix string, model string) string {
	if c.provider == llms.ProviderAzure {
		// azure example url:
		// /openai/deployments/{model}/chat/completions?api-version={api_version}
		return fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
			strings.TrimRight(c.baseURL, "/"), model, suffix, c.apiVersion)
	}
	return fmt.Sprintf("%s%s", c.baseURL, suffix)
}
