package connmgr_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/connmgr"
	"github.com/effective-security/mcphub/pkg/mcpclient"
	"github.com/effective-security/mcphub/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	tools  []mcpclient.RawTool
	callFn func(name string, args map[string]any) (*mcpclient.Result, error)

	listErr error
	closed  atomic.Int32
}

func (p *fakeProvider) ListTools(ctx context.Context) ([]mcpclient.RawTool, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.tools, nil
}

func (p *fakeProvider) CallTool(ctx context.Context, name string, args map[string]any) (*mcpclient.Result, error) {
	if p.callFn != nil {
		return p.callFn(name, args)
	}
	return &mcpclient.Result{Content: "ok: " + name}, nil
}

func (p *fakeProvider) Close() error {
	p.closed.Add(1)
	return nil
}

// fakeDialer hands out providers per url and can be scripted to fail the
// first N dials or to dial slowly.
type fakeDialer struct {
	mu        sync.Mutex
	providers map[string]*fakeProvider
	failnext  int
	delay     time.Duration
	dials     atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		providers: make(map[string]*fakeProvider),
	}
}

func (d *fakeDialer) serve(url string, p *fakeProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[url] = p
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (mcpclient.Provider, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failnextLocked() {
		return nil, errors.New("connection refused")
	}
	p, ok := d.providers[url]
	if !ok {
		return nil, errors.Newf("no such host: %s", url)
	}
	return p, nil
}

func (d *fakeDialer) failnextLocked() bool {
	if d.failnext > 0 {
		d.failnext--
		return true
	}
	return false
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failnext = n
}

var fastRetry = connmgr.RetryPolicy{
	MaxRetries:      1,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	st, err := session.NewStore(session.StoreConfig{})
	require.NoError(t, err)
	sess, err := st.Create()
	require.NoError(t, err)
	return sess
}

func echoServer() (*fakeProvider, session.ServerDescriptor) {
	p := &fakeProvider{
		tools: []mcpclient.RawTool{
			{
				Name:        "echo",
				Description: "echoes input",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
			},
			{Name: "add", Description: "adds two numbers"},
		},
	}
	return p, session.ServerDescriptor{ID: "srv1", Name: "Echo Server", URL: "http://echo"}
}

func Test_Manager_RegisterServer(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider, desc := echoServer()
	dialer.serve(desc.URL, provider)

	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))
	assert.Len(t, sess.Descriptors(), 1)
	assert.Equal(t, 2, sess.Registry.Len())
	assert.NotNil(t, sess.Registry.Get("echo"))
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func Test_Manager_RegisterServer_Rollback(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	err := mgr.RegisterServer(ctx, sess, session.ServerDescriptor{ID: "srv1", Name: "Gone", URL: "http://gone"})
	require.Error(t, err)
	assert.True(t, connmgr.IsConnectionError(err))

	// nothing is left behind
	assert.Empty(t, sess.Descriptors())
	assert.Equal(t, 0, sess.Registry.Len())
}

func Test_Manager_RegisterServer_ProbeFailureClosesConn(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider := &fakeProvider{listErr: errors.New("tools/list failed")}
	dialer.serve("http://half-open", provider)

	err := mgr.RegisterServer(ctx, sess, session.ServerDescriptor{ID: "srv1", Name: "Half", URL: "http://half-open"})
	require.Error(t, err)
	assert.True(t, connmgr.IsConnectionError(err))
	assert.Equal(t, int32(1), provider.closed.Load())
	assert.Empty(t, sess.Descriptors())
}

func Test_Manager_RegisterServer_Upsert(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	first, desc := echoServer()
	dialer.serve(desc.URL, first)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))

	second := &fakeProvider{
		tools: []mcpclient.RawTool{{Name: "search", Description: "searches"}},
	}
	dialer.serve(desc.URL, second)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))

	// still one server; the stale connection is closed and the tool set replaced
	assert.Len(t, sess.Descriptors(), 1)
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Nil(t, sess.Registry.Get("echo"))
	assert.NotNil(t, sess.Registry.Get("search"))
}

func Test_Manager_UnregisterServer(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider, desc := echoServer()
	dialer.serve(desc.URL, provider)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))
	require.NoError(t, sess.Vault.Set("echo", desc.ID, map[string]string{"token": "x"}))

	mgr.UnregisterServer(ctx, sess, desc.ID)
	assert.Empty(t, sess.Descriptors())
	assert.Equal(t, 0, sess.Registry.Len())
	assert.Equal(t, int32(1), provider.closed.Load())
	assert.False(t, sess.Vault.Has("echo", desc.ID))

	// unregistering again is a no-op
	mgr.UnregisterServer(ctx, sess, desc.ID)
}

func Test_Manager_ExecuteToolCall(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider, desc := echoServer()
	provider.callFn = func(name string, args map[string]any) (*mcpclient.Result, error) {
		if name == "echo" {
			text, _ := args["text"].(string)
			return &mcpclient.Result{Content: text}, nil
		}
		return &mcpclient.Result{Content: "42"}, nil
	}
	dialer.serve(desc.URL, provider)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))

	res, err := mgr.ExecuteToolCall(ctx, sess, "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.False(t, res.IsError)

	_, err = mgr.ExecuteToolCall(ctx, sess, "no-such-tool", nil)
	assert.ErrorIs(t, err, connmgr.ErrToolNotFound)
}

func Test_Manager_ExecuteToolCall_ReconnectRetry(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider, desc := echoServer()
	dialer.serve(desc.URL, provider)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))

	// simulate a lost connection; the first reconnect attempt fails and the
	// retry policy covers it
	sess.Lock()
	sess.DropConnectionLocked(desc.ID)
	sess.Unlock()
	dialer.failNext(1)

	res, err := mgr.ExecuteToolCall(ctx, sess, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok: echo", res.Content)
	// initial register + failed reconnect + successful reconnect
	assert.Equal(t, int32(3), dialer.dials.Load())
}

func Test_Manager_ExecuteToolCall_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider, desc := echoServer()
	var calls atomic.Int32
	provider.callFn = func(name string, args map[string]any) (*mcpclient.Result, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}
	dialer.serve(desc.URL, provider)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))

	_, err := mgr.ExecuteToolCall(ctx, sess, "echo", nil)
	require.Error(t, err)
	assert.True(t, connmgr.IsToolExecutionError(err))
	// invocation failures are not retried
	assert.Equal(t, int32(1), calls.Load())
	// the possibly dead connection was dropped and closed
	assert.Equal(t, int32(1), provider.closed.Load())

	// tool stays registered; the next call reconnects
	provider.callFn = nil
	res, err := mgr.ExecuteToolCall(ctx, sess, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: echo", res.Content)
}

func Test_Manager_ExecuteToolCall_ConcurrentIsolation(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	good, goodDesc := echoServer()
	dialer.serve(goodDesc.URL, good)
	require.NoError(t, mgr.RegisterServer(ctx, sess, goodDesc))

	bad := &fakeProvider{
		tools: []mcpclient.RawTool{{Name: "flaky"}},
		callFn: func(name string, args map[string]any) (*mcpclient.Result, error) {
			return nil, errors.New("flaky backend")
		},
	}
	badDesc := session.ServerDescriptor{ID: "srv2", Name: "Flaky", URL: "http://flaky"}
	dialer.serve(badDesc.URL, bad)
	require.NoError(t, mgr.RegisterServer(ctx, sess, badDesc))

	var wg sync.WaitGroup
	var goodErr, badErr error
	var res *mcpclient.Result
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, goodErr = mgr.ExecuteToolCall(ctx, sess, "echo", map[string]any{"text": "x"})
	}()
	go func() {
		defer wg.Done()
		_, badErr = mgr.ExecuteToolCall(ctx, sess, "flaky", nil)
	}()
	wg.Wait()

	require.NoError(t, goodErr)
	assert.Equal(t, "ok: echo", res.Content)
	require.Error(t, badErr)
	assert.True(t, connmgr.IsToolExecutionError(badErr))
}

func Test_Manager_GetOrReconnect_SingleFlight(t *testing.T) {
	ctx := context.Background()
	dialer := newFakeDialer()
	mgr := connmgr.NewManager(dialer, connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	provider, desc := echoServer()
	dialer.serve(desc.URL, provider)
	require.NoError(t, mgr.RegisterServer(ctx, sess, desc))

	sess.Lock()
	sess.DropConnectionLocked(desc.ID)
	sess.Unlock()

	dialer.delay = 20 * time.Millisecond
	before := dialer.dials.Load()

	var wg sync.WaitGroup
	conns := make([]mcpclient.Provider, 10)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := mgr.GetOrReconnect(ctx, sess, desc.ID)
			assert.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	// every caller shares one physical reconnect
	assert.Equal(t, int32(1), dialer.dials.Load()-before)
	for _, conn := range conns {
		assert.Same(t, provider, conn)
	}
}

func Test_Manager_GetOrReconnect_UnknownServer(t *testing.T) {
	ctx := context.Background()
	mgr := connmgr.NewManager(newFakeDialer(), connmgr.WithRetryPolicy(fastRetry))
	sess := newTestSession(t)

	_, err := mgr.GetOrReconnect(ctx, sess, "no-such-server")
	require.Error(t, err)
	assert.ErrorIs(t, err, connmgr.ErrServerNotFound)
}

type fakeCandidates struct {
	list []session.ServerDescriptor
	err  error
}

func (c *fakeCandidates) FetchCandidateServers(ctx context.Context) ([]session.ServerDescriptor, error) {
	return c.list, c.err
}

func Test_Manager_FetchCandidateServers(t *testing.T) {
	ctx := context.Background()

	// no source configured
	mgr := connmgr.NewManager(newFakeDialer())
	assert.Nil(t, mgr.FetchCandidateServers(ctx))

	// advisory: failures yield an empty list, not an error
	mgr = connmgr.NewManager(newFakeDialer(),
		connmgr.WithCandidateSource(&fakeCandidates{err: errors.New("registry down")}))
	assert.Nil(t, mgr.FetchCandidateServers(ctx))

	want := []session.ServerDescriptor{{ID: "srv1", Name: "One", URL: "http://one"}}
	mgr = connmgr.NewManager(newFakeDialer(),
		connmgr.WithCandidateSource(&fakeCandidates{list: want}))
	assert.Equal(t, want, mgr.FetchCandidateServers(ctx))
}
