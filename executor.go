package qbt

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jfxdev/qbtclient/request"
)

// Sender is the HTTP primitive the executor drives; *request.Transport
// implements it.
type Sender interface {
	Do(ctx context.Context, method, path string, opts ...request.Option) (*request.Response, error)
}

// Executor runs Requests: version gate, session check, then a bounded retry
// loop with backoff. It is safe for concurrent use.
type Executor struct {
	sender  Sender
	session *Session
	backoff BackoffPolicy
	limiter *rate.Limiter
	clock   Clock
	fsys    FileSystem
	logger  *zap.Logger
	metrics *Metrics

	timeout     time.Duration
	maxAttempts int
	retryable   []int

	version atomic.Pointer[ServerVersion]

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an Executor. The session is attached with SetSession
// because the session's login goes through the executor itself.
func NewExecutor(sender Sender, cfg Config, logger *zap.Logger, metrics *Metrics) *Executor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics, _ = newMetrics(nil)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Executor{
		sender:      sender,
		backoff:     NewBackoffPolicy(cfg.RetryBackoff, cfg.RetryJitter),
		limiter:     limiter,
		clock:       cfg.Clock,
		fsys:        cfg.FileSystem,
		logger:      logger,
		metrics:     metrics,
		timeout:     cfg.RequestTimeout,
		maxAttempts: cfg.MaxAttempts,
		retryable:   slices.Clone(cfg.RetryableStatusCodes),
		sleep:       sleepContext,
	}
}

// SetSession attaches the session consulted before non-auth calls.
func (e *Executor) SetSession(s *Session) {
	e.session = s
}

// SetServerVersion records the negotiated Web API version used by the version gate.
func (e *Executor) SetServerVersion(v ServerVersion) {
	e.version.Store(&v)
}

// ServerVersion returns the negotiated version, if any.
func (e *Executor) ServerVersion() (ServerVersion, bool) {
	v := e.version.Load()
	if v == nil {
		return ServerVersion{}, false
	}
	return *v, true
}

func (e *Executor) isRetryableStatusCode(statusCode int) bool {
	return slices.Contains(e.retryable, statusCode)
}

// checkVersion runs the version gate against the negotiated version.
func (e *Executor) checkVersion(req Request) error {
	if req.MinVersion == nil {
		return nil
	}
	current, ok := e.ServerVersion()
	if !ok {
		return newUnsupportedVersionError(req.operation(), *req.MinVersion, "unknown")
	}
	return CheckSupported(req.MinVersion, current, req.operation())
}

// Execute sends req and returns the response body of the first successful
// attempt. Failures are returned as *ClientError, except caller cancellation
// which surfaces the context error.
func (e *Executor) Execute(ctx context.Context, req Request) (string, error) {
	op := req.operation()
	start := time.Now()

	body, err := e.execute(ctx, req)

	e.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.Failures.WithLabelValues(op, failureLabel(err)).Inc()
	}
	return body, err
}

func (e *Executor) execute(ctx context.Context, req Request) (string, error) {
	op := req.operation()
	logger := e.logger.With(zap.String("request_id", uuid.NewString()), zap.String("operation", op))

	if err := e.checkVersion(req); err != nil {
		logger.Debug("rejected by version gate", zap.Error(err))
		return "", err
	}

	if err := req.checkFiles(e.fsys); err != nil {
		return "", err
	}

	var generation uint64
	if !req.SkipAuth && e.session != nil {
		if err := e.session.EnsureAuthenticated(ctx, false); err != nil {
			return "", err
		}
		generation = e.session.Generation()
	}

	var (
		lastResp *request.Response
		lastErr  error
	)

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", NewClientError(ErrorCodeNetwork, "rate limiter rejected the request", err, false)
		}

		// Attachments are read per attempt; a previous attempt may have consumed them.
		files, err := req.loadFiles(e.fsys)
		if err != nil {
			return "", err
		}

		logger.Debug("sending request", zap.Int("attempt", attempt), zap.String("method", req.Method))
		resp, err := e.sender.Do(ctx, req.Method, req.url(), append(req.options(files), request.WithTimeout(e.timeout))...)

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.metrics.observeAttempt(op, 0)
			lastResp, lastErr = nil, err

			if attempt == e.maxAttempts {
				break
			}
			delay := e.backoff.ComputeDelay(attempt, nil)
			logger.Warn("transport failure, retrying",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			if err := e.wait(ctx, op, delay); err != nil {
				return "", err
			}
			continue
		}

		e.metrics.observeAttempt(op, resp.StatusCode)
		lastResp, lastErr = resp, nil

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return string(resp.Body), nil
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if !req.SkipAuth && e.session != nil {
				e.session.Invalidate(generation)
			}
			break
		}

		if !e.isRetryableStatusCode(resp.StatusCode) || attempt == e.maxAttempts {
			break
		}

		var hint *time.Duration
		if d, ok := retryAfter(resp.Header, e.clock.Now()); ok {
			hint = &d
		}
		delay := e.backoff.ComputeDelay(attempt, hint)
		logger.Warn("retryable status, retrying",
			zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode), zap.Duration("delay", delay))
		if err := e.wait(ctx, op, delay); err != nil {
			return "", err
		}
	}

	if lastResp == nil {
		err := newNetworkError(op, e.maxAttempts, lastErr)
		logger.Warn("request failed", zap.Error(err))
		return "", err
	}

	err := classifyHTTPStatusCode(op, lastResp.StatusCode, lastResp.Body)
	logger.Debug("request failed", zap.Error(err))
	return "", err
}

func (e *Executor) wait(ctx context.Context, op string, delay time.Duration) error {
	e.metrics.Retries.WithLabelValues(op).Inc()
	return e.sleep(ctx, delay)
}
