package qbt

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfxdev/qbtclient/request"
)

// scriptedSender answers calls from a fixed script; the last step repeats.
type scriptedSender struct {
	mu    sync.Mutex
	steps []step
	calls []sentRequest
}

type step struct {
	status int
	body   string
	header http.Header
	err    error
}

type sentRequest struct {
	method string
	path   string
	opts   request.Options
}

func (s *scriptedSender) Do(ctx context.Context, method, path string, opts ...request.Option) (*request.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var options request.Options
	for _, opt := range opts {
		opt(&options)
	}
	s.calls = append(s.calls, sentRequest{method: method, path: path, opts: options})

	i := len(s.calls) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	header := st.header
	if header == nil {
		header = http.Header{}
	}
	return &request.Response{StatusCode: st.status, Header: header, Body: []byte(st.body)}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type executorFixture struct {
	exec    *Executor
	sender  *scriptedSender
	sleeps  *recordedSleeps
	auth    *fakeAuth
	session *Session
	metrics *Metrics
}

func newExecutorFixture(t *testing.T, cfg Config, steps ...step) *executorFixture {
	t.Helper()

	metrics, err := newMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	if cfg.Clock == nil {
		cfg.Clock = newFakeClock()
	}
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.RetryJitter = -1

	sender := &scriptedSender{steps: steps}
	sleeps := &recordedSleeps{}
	exec := NewExecutor(sender, cfg, nil, metrics)
	exec.sleep = sleeps.sleep

	auth := &fakeAuth{}
	session := NewSession(auth, cfg.Clock, time.Hour, nil, metrics)
	exec.SetSession(session)

	return &executorFixture{
		exec:    exec,
		sender:  sender,
		sleeps:  sleeps,
		auth:    auth,
		session: session,
		metrics: metrics,
	}
}

func TestExecuteSuccess(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusOK, body: "v4.6.2"})

	body, err := f.exec.Execute(context.Background(), Get("app/version", nil))
	require.NoError(t, err)
	assert.Equal(t, "v4.6.2", body)

	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, http.MethodGet, f.sender.calls[0].method)
	assert.Equal(t, "/api/v2/app/version", f.sender.calls[0].path)
	assert.Equal(t, DefaultRequestTimeout, f.sender.calls[0].opts.Timeout)
	assert.Equal(t, int32(1), f.auth.logins.Load(), "the first call logs in")
	assert.Empty(t, f.sleeps.delays)
}

func TestExecuteParamsPlacement(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusOK})
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, Get("torrents/info", url.Values{"category": {"linux"}}))
	require.NoError(t, err)
	_, err = f.exec.Execute(ctx, Post("torrents/delete", url.Values{"hashes": {"abc"}}))
	require.NoError(t, err)

	assert.Equal(t, "linux", f.sender.calls[0].opts.Query.Get("category"))
	assert.Empty(t, f.sender.calls[0].opts.Form)
	assert.Equal(t, "abc", f.sender.calls[1].opts.Form.Get("hashes"))
	assert.Empty(t, f.sender.calls[1].opts.Query)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	f := newExecutorFixture(t, Config{},
		step{status: http.StatusServiceUnavailable},
		step{status: http.StatusServiceUnavailable, header: http.Header{"Retry-After": {"2"}}},
		step{status: http.StatusOK, body: "done"},
	)

	body, err := f.exec.Execute(context.Background(), Get("transfer/info", nil))
	require.NoError(t, err)
	assert.Equal(t, "done", body)

	assert.Equal(t, 3, f.sender.callCount())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 2 * time.Second}, f.sleeps.delays)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Retries.WithLabelValues("transfer/info")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Attempts.WithLabelValues("transfer/info", "503")))
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusServiceUnavailable, body: "busy"})

	_, err := f.exec.Execute(context.Background(), Get("transfer/info", nil))
	require.Error(t, err)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorCodeAPI, clientErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, clientErr.StatusCode)
	assert.Equal(t, "busy", clientErr.Body)
	assert.False(t, clientErr.Permanent)

	assert.Equal(t, DefaultMaxAttempts, f.sender.callCount())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.sleeps.delays)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Failures.WithLabelValues("transfer/info", string(ErrorCodeAPI))))
}

func TestExecuteServerErrorAfterRetries(t *testing.T) {
	f := newExecutorFixture(t, Config{MaxAttempts: 2}, step{status: http.StatusInternalServerError})

	_, err := f.exec.Execute(context.Background(), Get("sync/maindata", nil))
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, 2, f.sender.callCount())
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusUnsupportedMediaType, ErrAPI},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newExecutorFixture(t, Config{}, step{status: tt.status})

			_, err := f.exec.Execute(context.Background(), Post("torrents/setCategory", nil))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, 1, f.sender.callCount())
			assert.Empty(t, f.sleeps.delays)
			assert.True(t, f.session.Valid(), "client errors keep the session")
		})
	}
}

func TestExecuteCustomRetryableStatusCodes(t *testing.T) {
	f := newExecutorFixture(t, Config{RetryableStatusCodes: []int{http.StatusConflict}},
		step{status: http.StatusConflict},
		step{status: http.StatusOK},
	)

	_, err := f.exec.Execute(context.Background(), Post("torrents/createCategory", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, f.sender.callCount())
}

func TestExecuteUnauthorizedInvalidatesSession(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			f := newExecutorFixture(t, Config{}, step{status: status})

			_, err := f.exec.Execute(context.Background(), Get("torrents/info", nil))
			require.Error(t, err)
			assert.Equal(t, status, statusCodeOf(err))

			assert.Equal(t, 1, f.sender.callCount(), "authorization failures are not retried")
			assert.Equal(t, StateLoggedOut, f.session.State())
			assert.False(t, f.session.Valid())
		})
	}
}

func TestExecuteReloginAfterInvalidation(t *testing.T) {
	f := newExecutorFixture(t, Config{},
		step{status: http.StatusForbidden},
		step{status: http.StatusOK, body: "[]"},
	)
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, Get("torrents/info", nil))
	require.ErrorIs(t, err, ErrForbidden)

	body, err := f.exec.Execute(ctx, Get("torrents/info", nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", body)
	assert.Equal(t, int32(2), f.auth.logins.Load())
}

func TestExecuteSkipAuthLeavesSessionAlone(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusForbidden})

	req := Post(loginPath, url.Values{"username": {"admin"}})
	req.SkipAuth = true
	_, err := f.exec.Execute(context.Background(), req)

	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(0), f.auth.logins.Load())
}

func TestExecuteTransportFailures(t *testing.T) {
	cause := errors.New("read tcp 127.0.0.1:8080: connection reset by peer")
	f := newExecutorFixture(t, Config{}, step{err: cause})

	_, err := f.exec.Execute(context.Background(), Get("app/version", nil))
	require.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, cause)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Contains(t, clientErr.Message, "after 3 attempts")

	assert.Equal(t, DefaultMaxAttempts, f.sender.callCount())
	assert.Len(t, f.sleeps.delays, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Attempts.WithLabelValues("app/version", "transport_error")))
}

func TestExecuteTransportFailureThenSuccess(t *testing.T) {
	f := newExecutorFixture(t, Config{},
		step{err: errors.New("connection refused")},
		step{status: http.StatusOK, body: "ok"},
	)

	body, err := f.exec.Execute(context.Background(), Get("app/version", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusBadGateway})

	ctx, cancel := context.WithCancel(context.Background())
	f.exec.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.exec.Execute(ctx, Get("torrents/info", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.sender.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Failures.WithLabelValues("torrents/info", "cancelled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Failures.WithLabelValues("torrents/info", string(ErrorCodeNetwork))))
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusOK})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.exec.Execute(ctx, Get("torrents/info", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.sender.callCount())
}

func TestExecuteVersionGate(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusOK})
	req := Get("torrents/export", nil).RequireVersion(Version(2, 8, 14))

	_, err := f.exec.Execute(context.Background(), req)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "unknown", clientErr.Current)

	f.exec.SetServerVersion(Version(2, 8, 3))
	_, err = f.exec.Execute(context.Background(), req)
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	assert.Equal(t, 0, f.sender.callCount(), "the gate never touches the network")
	assert.Equal(t, int32(0), f.auth.logins.Load())

	f.exec.SetServerVersion(Version(2, 11, 2))
	_, err = f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.callCount())
}

func TestExecuteMissingAttachment(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusOK})
	missing := filepath.Join(t.TempDir(), "missing.torrent")

	_, err := f.exec.Execute(context.Background(), Upload("torrents/add", nil, Attachment{Path: missing}))
	require.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.Equal(t, 0, f.sender.callCount())
	assert.Equal(t, int32(0), f.auth.logins.Load())
}

func TestExecuteAttachmentReadOnEveryAttempt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ubuntu.torrent")
	require.NoError(t, os.WriteFile(path, []byte("d8:announce0:e"), 0o600))

	f := newExecutorFixture(t, Config{},
		step{status: http.StatusServiceUnavailable},
		step{status: http.StatusOK, body: "Ok."},
	)

	req := Upload("torrents/add", url.Values{"category": {"linux"}}, Attachment{Path: path})
	_, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, f.sender.calls, 2)
	for _, call := range f.sender.calls {
		require.Len(t, call.opts.Files, 1)
		file := call.opts.Files[0]
		assert.Equal(t, "torrents", file.Field)
		assert.Equal(t, "ubuntu.torrent", file.Name)
		assert.Equal(t, "application/x-bittorrent", file.ContentType)
		assert.Equal(t, []byte("d8:announce0:e"), file.Data)
		assert.Equal(t, "linux", call.opts.Form.Get("category"))
	}
}

func TestExecuteInlineAttachment(t *testing.T) {
	f := newExecutorFixture(t, Config{}, step{status: http.StatusOK})

	req := Upload("torrents/add", nil, Attachment{Name: "notes.txt", Data: []byte("plain text")})
	_, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	file := f.sender.calls[0].opts.Files[0]
	assert.Equal(t, "notes.txt", file.Name)
	assert.Contains(t, file.ContentType, "text/plain")
}

func TestExecuteRateLimited(t *testing.T) {
	f := newExecutorFixture(t, Config{RequestsPerSecond: 1000}, step{status: http.StatusOK})

	for i := 0; i < 5; i++ {
		_, err := f.exec.Execute(context.Background(), Get("app/version", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, f.sender.callCount())
}
