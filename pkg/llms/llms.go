package llms

import (
	"context"
)

//go:generate mockgen -destination=../../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcphub/pkg/llms Model

// ProviderType is the type of LLM provider behind a Model.
type ProviderType string

const (
	// ProviderOpenAI is an OpenAI-compatible chat-completions backend.
	ProviderOpenAI ProviderType = "OPENAI"
	// ProviderAzure is the Azure OpenAI flavor of the same API.
	ProviderAzure ProviderType = "AZURE"
	// ProviderPerplexity is the Perplexity flavor of the same API.
	ProviderPerplexity ProviderType = "PERPLEXITY"
)

// Model is the minimal contract the orchestration core needs from an LLM
// backend: one chat-completion call with optional tool definitions.
type Model interface {
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GetName returns the model name used for requests.
	GetName() string
	// GenerateContent asks the model to generate content from a sequence of
	// messages, optionally offering tools for function calling.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}

// CallOption configures a single GenerateContent call.
type CallOption func(*CallOptions)

// CallOptions is a set of options for a GenerateContent call.
type CallOptions struct {
	// Model overrides the client default model.
	Model string
	// MaxTokens is the maximum number of completion tokens to generate.
	MaxTokens int
	// Temperature is the sampling temperature, between 0 and 1.
	Temperature float64
	// Tools is a list of tool definitions offered to the model.
	Tools []Tool
	// ToolChoice can be "none", "auto" or a specific tool selector.
	ToolChoice any
}

// Tool is a definition of a tool that can be offered to the model.
type Tool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition is a definition of a function that can be called by the model.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON schema of the function arguments.
	Parameters any `json:"parameters,omitempty"`
}

// WithModel overrides the model for the call.
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithMaxTokens sets the maximum number of completion tokens.
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithTools sets the tool definitions offered to the model.
func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) {
		o.Tools = tools
	}
}

// WithToolChoice sets the tool choice behavior for the call.
func WithToolChoice(choice any) CallOption {
	return func(o *CallOptions) {
		o.ToolChoice = choice
	}
}
