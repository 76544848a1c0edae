// Package connmgr owns the lifecycle of connections from a session to its
// tool-provider servers: connect, discover, reconnect, close. It populates
// the session's ToolRegistry and dispatches tool calls.
package connmgr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/pkg/metricskey"
	"github.com/effective-security/mcphub/session"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/singleflight"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphub", "connmgr")

// DefaultCallTimeout bounds a single tool call when the caller supplied no
// deadline of its own.
const DefaultCallTimeout = 60 * time.Second

// CandidateSource supplies candidate server descriptors; implemented by the
// external registry client.
type CandidateSource interface {
	FetchCandidateServers(ctx context.Context) ([]session.ServerDescriptor, error)
}

// Manager is the connection manager. One instance serves all sessions; all
// per-session state lives on the session itself.
type Manager struct {
	dialer      mcpclient.Dialer
	candidates  CandidateSource
	retry       RetryPolicy
	callTimeout time.Duration

	// reconnects are coalesced per (session, server)
	sf singleflight.Group
}

// Option configures the Manager.
type Option func(*Manager)

// WithRetryPolicy overrides the reconnect retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) {
		m.retry = p
	}
}

// WithCallTimeout overrides the default per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.callTimeout = d
	}
}

// WithCandidateSource sets the external registry collaborator.
func WithCandidateSource(src CandidateSource) Option {
	return func(m *Manager) {
		m.candidates = src
	}
}

// NewManager returns a connection manager dialing providers with the given dialer.
func NewManager(dialer mcpclient.Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:      dialer,
		retry:       DefaultRetryPolicy,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterServer upserts the descriptor and connects to it. Registration is
// rejected when the connect or discovery probe fails: a server a user can see
// in their list is never silently broken.
func (m *Manager) RegisterServer(ctx context.Context, sess *session.Session, desc session.ServerDescriptor) error {
	sess.Lock()
	defer sess.Unlock()

	conn, tools, err := m.dial(ctx, desc)
	if err != nil {
		metricskey.StatsServerConnectsFailed.IncrCounter(1, desc.ID)
		return err
	}

	// Replace any prior registration of the same id or url.
	if prev, ok := sess.UpsertDescriptorLocked(desc); ok {
		if old, live := sess.DropConnectionLocked(prev.ID); live {
			if cerr := old.Close(); cerr != nil {
				logger.ContextKV(ctx, xlog.WARNING,
					"status", "stale_connection_close_failed",
					"server", prev.ID,
					"err", cerr.Error(),
				)
			}
		}
		sess.Registry.RemoveByServer(prev.ID)
	}
	sess.SetConnectionLocked(desc.ID, conn)
	sess.Registry.Register(desc.ID, desc.Name, tools)

	logger.ContextKV(ctx, xlog.INFO,
		"status", "server_registered",
		"session", sess.ID,
		"server", desc.ID,
		"tools", len(tools),
	)
	return nil
}

// dial opens a connection and immediately lists tools as a liveness probe.
// Any failure closes the half-open connection and leaves nothing behind.
func (m *Manager) dial(ctx context.Context, desc session.ServerDescriptor) (mcpclient.Provider, []mcpclient.RawTool, error) {
	started := time.Now()
	defer metricskey.PerfServerConnect.MeasureSince(started, desc.ID)

	conn, err := m.dialer.Dial(ctx, desc.URL)
	if err != nil {
		return nil, nil, errors.WithStack(&ConnectionError{ServerID: desc.ID, URL: desc.URL, Err: err})
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.WithStack(&ConnectionError{ServerID: desc.ID, URL: desc.URL, Err: err})
	}
	metricskey.StatsServerConnectsSucceeded.IncrCounter(1, desc.ID)
	return conn, tools, nil
}

// GetOrReconnect returns the live connection for a server, or performs exactly
// one connect attempt. Concurrent reconnects of the same (session, server) are
// coalesced: only one physical attempt occurs and every caller shares its result.
func (m *Manager) GetOrReconnect(ctx context.Context, sess *session.Session, serverID string) (mcpclient.Provider, error) {
	sess.Lock()
	if conn, ok := sess.ConnectionLocked(serverID); ok {
		sess.Unlock()
		return conn, nil
	}
	desc, ok := sess.DescriptorLocked(serverID)
	sess.Unlock()
	if !ok {
		return nil, errors.WithStack(&ConnectionError{ServerID: serverID, Err: ErrServerNotFound})
	}

	v, err, _ := m.sf.Do(sess.ID+"/"+serverID, func() (any, error) {
		// a racing caller may have installed the connection already
		sess.Lock()
		if conn, ok := sess.ConnectionLocked(serverID); ok {
			sess.Unlock()
			return conn, nil
		}
		sess.Unlock()

		conn, tools, err := m.dial(ctx, desc)
		if err != nil {
			return nil, err
		}

		sess.Lock()
		defer sess.Unlock()
		if _, still := sess.DescriptorLocked(serverID); !still {
			// unregistered while we were dialing
			_ = conn.Close()
			return nil, errors.WithStack(&ConnectionError{ServerID: serverID, Err: ErrServerNotFound})
		}
		sess.SetConnectionLocked(serverID, conn)
		sess.Registry.RemoveByServer(serverID)
		sess.Registry.Register(serverID, desc.Name, tools)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(mcpclient.Provider), nil
}

// UnregisterServer closes the connection, removes the descriptor and drops
// every tool and credential owned by the server. Unknown ids are a no-op.
func (m *Manager) UnregisterServer(ctx context.Context, sess *session.Session, serverID string) {
	sess.Lock()
	defer sess.Unlock()

	if conn, ok := sess.DropConnectionLocked(serverID); ok {
		if err := conn.Close(); err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "connection_close_failed",
				"session", sess.ID,
				"server", serverID,
				"err", err.Error(),
			)
		}
	}
	sess.RemoveDescriptorLocked(serverID)
	sess.Registry.RemoveByServer(serverID)
	sess.Vault.DeleteByServer(serverID)
}

// ExecuteToolCall resolves the tool, reconnects if needed and invokes the
// provider. Connect failures are retried per the RetryPolicy, once by
// default; provider-side failures are not retried.
func (m *Manager) ExecuteToolCall(ctx context.Context, sess *session.Session, toolName string, args map[string]any) (*mcpclient.Result, error) {
	rec := sess.Registry.Get(toolName)
	if rec == nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		return nil, errors.WithStack(ErrToolNotFound)
	}

	if _, ok := ctx.Deadline(); !ok && m.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
	}

	started := time.Now()
	res, err := backoff.RetryWithData(func() (*mcpclient.Result, error) {
		conn, err := m.GetOrReconnect(ctx, sess, rec.ServerID)
		if err != nil {
			if errors.Is(err, ErrServerNotFound) {
				return nil, backoff.Permanent(err)
			}
			// retryable: the next attempt dials again
			return nil, err
		}
		res, err := conn.CallTool(ctx, toolName, args)
		if err != nil {
			// drop the possibly dead connection so a later call reconnects,
			// but do not retry the invocation itself
			sess.Lock()
			if cur, ok := sess.ConnectionLocked(rec.ServerID); ok && cur == conn {
				sess.DropConnectionLocked(rec.ServerID)
				_ = conn.Close()
			}
			sess.Unlock()
			return nil, backoff.Permanent(errors.WithStack(&ToolExecutionError{
				Tool:     toolName,
				ServerID: rec.ServerID,
				Err:      err,
			}))
		}
		return res, nil
	}, m.retry.New(ctx))
	metricskey.PerfToolCall.MeasureSince(started, toolName)

	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"session", sess.ID,
			"tool", toolName,
			"err", err.Error(),
		)
		return nil, err
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	return res, nil
}

// FetchCandidateServers delegates to the external registry. The registry is
// advisory: failures are logged and an empty list returned, never an error.
func (m *Manager) FetchCandidateServers(ctx context.Context) []session.ServerDescriptor {
	if m.candidates == nil {
		return nil
	}
	list, err := m.candidates.FetchCandidateServers(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "registry_unreachable",
			"err", err.Error(),
		)
		return nil
	}
	return list
}
