package qbt

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Session states and events.
const (
	StateLoggedOut = "logged_out"
	StateLoggedIn  = "logged_in"

	eventLogin  = "login"
	eventLogout = "logout"
)

// Authenticator performs the login and logout calls for a Session.
type Authenticator interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Session tracks whether the client holds a usable session cookie and
// serializes logins: concurrent callers that find the session expired wait
// for a single login instead of each sending one.
type Session struct {
	auth     Authenticator
	clock    Clock
	lifetime time.Duration
	logger   *zap.Logger
	metrics  *Metrics

	state *fsm.FSM
	// gate is a context-aware mutex guarding logins and state changes.
	gate *semaphore.Weighted

	expiresAt  atomic.Int64 // unix nanoseconds
	generation atomic.Uint64
	// loginSeq counts finished logins; written under gate.
	loginSeq atomic.Uint64
	// logoutSeq counts Logout calls. A login that sees it change while in
	// flight discards its session.
	logoutSeq atomic.Uint64

	// lastErr is the outcome of the latest login; guarded by gate.
	lastErr error
}

// NewSession returns a logged-out session.
func NewSession(auth Authenticator, clock Clock, lifetime time.Duration, logger *zap.Logger, metrics *Metrics) *Session {
	if clock == nil {
		clock = systemClock{}
	}
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics, _ = newMetrics(nil)
	}

	s := &Session{
		auth:     auth,
		clock:    clock,
		lifetime: lifetime,
		logger:   logger,
		metrics:  metrics,
		gate:     semaphore.NewWeighted(1),
	}

	s.state = fsm.NewFSM(
		StateLoggedOut,
		fsm.Events{
			{Name: eventLogin, Src: []string{StateLoggedOut, StateLoggedIn}, Dst: StateLoggedIn},
			{Name: eventLogout, Src: []string{StateLoggedIn, StateLoggedOut}, Dst: StateLoggedOut},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("session state changed", zap.String("from", e.Src), zap.String("to", e.Dst))
				if e.Dst == StateLoggedIn {
					s.metrics.Sessions.Inc()
				} else if e.Src == StateLoggedIn {
					s.metrics.Sessions.Dec()
				}
			},
		},
	)

	return s
}

// State returns StateLoggedIn or StateLoggedOut. An expired login is still
// reported as logged in until the next EnsureAuthenticated.
func (s *Session) State() string {
	return s.state.Current()
}

// Generation identifies the current login; it changes on every successful login.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Valid reports whether the session is logged in and not past its estimated expiry.
func (s *Session) Valid() bool {
	return s.state.Is(StateLoggedIn) && s.clock.Now().UnixNano() < s.expiresAt.Load()
}

// EnsureAuthenticated logs in unless a valid session exists. With force, it
// logs in again even if the session looks valid, unless another caller
// completed a login while this one was waiting.
func (s *Session) EnsureAuthenticated(ctx context.Context, force bool) error {
	if !force && s.Valid() {
		return nil
	}

	seq := s.loginSeq.Load()

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)

	if s.loginSeq.Load() != seq {
		// A login finished while we waited; share its outcome.
		if s.lastErr != nil {
			return s.lastErr
		}
		if s.Valid() {
			return nil
		}
	} else if !force && s.Valid() {
		return nil
	}

	return s.loginLocked(ctx)
}

// loginLocked performs one login; the gate must be held.
func (s *Session) loginLocked(ctx context.Context) error {
	start := s.clock.Now()
	logouts := s.logoutSeq.Load()
	s.logger.Info("logging in")

	err := s.auth.Login(ctx)
	s.metrics.observeLogin(err)
	if err == nil && s.logoutSeq.Load() != logouts {
		discarded := newLoginFailedError(0, "session logged out while login was in flight", nil)
		discarded.Permanent = false
		err = discarded
	}

	if err != nil {
		s.transition(ctx, eventLogout)

		if ctx.Err() != nil {
			// The caller gave up; waiting callers retry on their own.
			return err
		}

		var clientErr *ClientError
		if !errors.As(err, &clientErr) || clientErr.Code != ErrorCodeLoginFailed {
			err = newLoginFailedError(statusCodeOf(err), "login request failed", err)
		}
		s.publish(err)
		s.logger.Warn("login failed", zap.Error(err))
		return err
	}

	s.expiresAt.Store(s.clock.Now().Add(s.lifetime).UnixNano())
	s.generation.Add(1)
	s.transition(ctx, eventLogin)
	if s.logoutSeq.Load() != logouts {
		// Logout ran between the check above and the transition.
		s.markLoggedOut(ctx)
	}
	s.publish(nil)
	s.logger.Info("logged in", zap.Duration("took", s.clock.Now().Sub(start)))
	return nil
}

// Invalidate marks the session logged out after the server rejected it.
// A rejection observed under an older login generation is ignored because a
// newer login already replaced that session.
func (s *Session) Invalidate(generation uint64) {
	if generation != s.generation.Load() {
		return
	}

	ctx := context.Background()
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.gate.Release(1)

	if generation != s.generation.Load() {
		return
	}
	s.expiresAt.Store(0)
	s.transition(ctx, eventLogout)
	s.logger.Info("session invalidated by server")
}

// Logout sends a best-effort logout and always leaves the session logged out.
// Calling it on a logged-out session sends nothing.
func (s *Session) Logout(ctx context.Context) error {
	s.logoutSeq.Add(1)
	if err := s.gate.Acquire(ctx, 1); err != nil {
		// A login holding the gate sees logoutSeq and will not log in.
		s.markLoggedOut(ctx)
		return err
	}
	defer s.gate.Release(1)

	var err error
	if s.state.Is(StateLoggedIn) {
		err = s.auth.Logout(ctx)
		if err != nil {
			s.logger.Warn("logout request failed", zap.Error(err))
		} else {
			s.logger.Info("logged out")
		}
	}
	s.markLoggedOut(ctx)
	return err
}

func (s *Session) markLoggedOut(ctx context.Context) {
	s.expiresAt.Store(0)
	s.transition(ctx, eventLogout)
}

// publish records the outcome of a login for callers queued on the gate.
func (s *Session) publish(err error) {
	s.lastErr = err
	s.loginSeq.Add(1)
}

// transition fires an fsm event. State changes are local bookkeeping, so they
// run even when the caller's context is already done.
func (s *Session) transition(ctx context.Context, event string) {
	err := s.state.Event(context.WithoutCancel(ctx), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	s.logger.Error("session transition failed", zap.String("event", event), zap.Error(err))
}

func statusCodeOf(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	return 0
}
