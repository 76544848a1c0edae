// Package mcpclient wraps the MCP client library behind the small
// connect / list-tools / call-tool capability the orchestration core needs.
// The wire protocol stays opaque to the rest of the system.
package mcpclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	mcpgolang "github.com/metoro-io/mcp-golang"
	mcphttp "github.com/metoro-io/mcp-golang/transport/http"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "mcpclient")

// RawTool is a tool as discovered from a provider, schema not yet interpreted.
type RawTool struct {
	Name        string
	Description string
	// InputSchema is the raw JSON schema of the tool arguments.
	InputSchema json.RawMessage
}

// Result is the content returned by a tool invocation.
type Result struct {
	// Content is the flattened textual content of the response.
	Content string
	// IsError is set when the provider reported the invocation as failed.
	IsError bool
}

// Provider is a live connection to one tool-provider server.
type Provider interface {
	// ListTools returns every tool the provider exposes.
	ListTools(ctx context.Context) ([]RawTool, error)
	// CallTool invokes a named tool with the given arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*Result, error)
	// Close releases the underlying transport.
	Close() error
}

// Dialer opens provider connections; substituted with a fake in tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Provider, error)
}

type httpDialer struct {
	endpoint string
}

// NewHTTPDialer returns a Dialer speaking MCP over HTTP.
// endpoint is the request path on the provider, "/mcp" by default.
func NewHTTPDialer(endpoint string) Dialer {
	if endpoint == "" {
		endpoint = "/mcp"
	}
	return &httpDialer{endpoint: endpoint}
}

func (d *httpDialer) Dial(ctx context.Context, url string) (Provider, error) {
	tr := mcphttp.NewHTTPClientTransport(d.endpoint)
	tr.WithBaseURL(strings.TrimSuffix(url, "/"))

	cl := mcpgolang.NewClient(tr)
	if _, err := cl.Initialize(ctx); err != nil {
		_ = tr.Close()
		return nil, errors.WithMessagef(err, "failed to initialize provider at %s", url)
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "url", url)
	return &httpProvider{client: cl, transport: tr, url: url}, nil
}

type httpProvider struct {
	client    *mcpgolang.Client
	transport *mcphttp.HTTPClientTransport
	url       string
}

func (p *httpProvider) ListTools(ctx context.Context) ([]RawTool, error) {
	var tools []RawTool
	var cursor *string
	for {
		resp, err := p.client.ListTools(ctx, cursor)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to list tools from %s", p.url)
		}
		for _, t := range resp.Tools {
			raw := RawTool{Name: t.Name}
			if t.Description != nil {
				raw.Description = *t.Description
			}
			if t.InputSchema != nil {
				js, err := json.Marshal(t.InputSchema)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid input schema for tool %s", t.Name)
				}
				raw.InputSchema = js
			}
			tools = append(tools, raw)
		}
		if resp.NextCursor == nil {
			break
		}
		cursor = resp.NextCursor
	}
	return tools, nil
}

func (p *httpProvider) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	resp, err := p.client.CallTool(ctx, name, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to call tool %s", name)
	}

	var sb strings.Builder
	for _, c := range resp.Content {
		if c == nil || c.TextContent == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.TextContent.Text)
	}
	return &Result{Content: sb.String()}, nil
}

func (p *httpProvider) Close() error {
	return p.transport.Close()
}
