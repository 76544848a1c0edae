// Package registryclient talks to the central server-discovery registry.
// The registry is an external collaborator and purely advisory: the core only
// consumes candidate server descriptors from it.
package registryclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/session"
)

// DefaultTimeout bounds one registry request.
const DefaultTimeout = 10 * time.Second

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches candidate server descriptors over HTTP JSON.
type Client struct {
	baseURL    string
	httpClient Doer
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient Doer) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New returns a registry client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type serverEntry struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Tags     []string `json:"tags,omitempty"`
	Types    []string `json:"types,omitempty"`
	Rating   float64  `json:"rating,omitempty"`
	Verified bool     `json:"verified,omitempty"`
}

// FetchCandidateServers returns the registry's current server catalog.
func (c *Client) FetchCandidateServers(ctx context.Context) ([]session.ServerDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/servers", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create registry request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query registry")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("registry returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read registry response")
	}

	var entries []serverEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal registry response")
	}

	list := make([]session.ServerDescriptor, 0, len(entries))
	for _, e := range entries {
		list = append(list, session.ServerDescriptor{
			ID:       e.ID,
			Name:     e.Name,
			URL:      e.URL,
			Tags:     e.Tags,
			Types:    e.Types,
			Rating:   e.Rating,
			Verified: e.Verified,
		})
	}
	return list, nil
}
