package qbt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jfxdev/qbtclient/request"
)

const (
	loginPath         = "auth/login"
	logoutPath        = "auth/logout"
	webAPIVersionPath = "app/webapiVersion"

	// closeTimeout bounds the logout sent by Close.
	closeTimeout = 5 * time.Second
)

// Client is a qBittorrent Web API client. One Client owns one cookie jar and
// one session; it is safe for concurrent use.
type Client struct {
	config  Config
	exec    *Executor
	session *Session
	logger  *zap.Logger
	metrics *Metrics

	probe singleflight.Group
}

// New builds a client. It does not contact the server; the first call (or
// Connect) logs in.
func New(config Config) (*Client, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(config)
	metrics, err := newMetrics(config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("error registering metrics: %w", err)
	}

	transport, err := request.New(request.Config{
		BaseURL:            config.BaseURL,
		UserAgent:          config.UserAgent,
		InsecureSkipVerify: config.InsecureSkipVerify,
		Logger:             logger.Named("transport").Sugar(),
	})
	if err != nil {
		return nil, err
	}

	return newClient(config, transport, logger, metrics), nil
}

// newClient wires the executor and session around sender; config must already
// carry defaults.
func newClient(config Config, sender Sender, logger *zap.Logger, metrics *Metrics) *Client {
	exec := NewExecutor(sender, config, logger, metrics)
	auth := &credentialAuth{
		exec:     exec,
		username: config.Username,
		password: config.Password,
	}
	session := NewSession(auth, config.Clock, config.SessionLifetime, logger.Named("session"), metrics)
	exec.SetSession(session)

	return &Client{
		config:  config,
		exec:    exec,
		session: session,
		logger:  logger,
		metrics: metrics,
	}
}

// Metrics exposes the client's collectors.
func (qb *Client) Metrics() *Metrics {
	return qb.metrics
}

// Session exposes the session state machine.
func (qb *Client) Session() *Session {
	return qb.session
}

// EnsureAuthenticated logs in if needed; force re-authenticates unconditionally.
func (qb *Client) EnsureAuthenticated(ctx context.Context, force bool) error {
	return qb.session.EnsureAuthenticated(ctx, force)
}

// SetServerVersion records the Web API version used by version-gated calls.
func (qb *Client) SetServerVersion(v ServerVersion) {
	qb.exec.SetServerVersion(v)
}

// ServerVersion returns the negotiated Web API version, if known.
func (qb *Client) ServerVersion() (ServerVersion, bool) {
	return qb.exec.ServerVersion()
}

// Connect logs in and negotiates the Web API version.
func (qb *Client) Connect(ctx context.Context) (ServerVersion, error) {
	if err := qb.session.EnsureAuthenticated(ctx, false); err != nil {
		return ServerVersion{}, err
	}
	return qb.negotiateVersion(ctx)
}

// negotiateVersion probes app/webapiVersion once; concurrent callers share the probe.
func (qb *Client) negotiateVersion(ctx context.Context) (ServerVersion, error) {
	if v, ok := qb.exec.ServerVersion(); ok {
		return v, nil
	}

	ch := qb.probe.DoChan(webAPIVersionPath, func() (interface{}, error) {
		body, err := qb.exec.Execute(context.WithoutCancel(ctx), Get(webAPIVersionPath, nil))
		if err != nil {
			return nil, err
		}
		v, err := ParseServerVersion(body)
		if err != nil {
			return nil, err
		}
		qb.exec.SetServerVersion(v)
		qb.logger.Info("negotiated web api version", zap.Stringer("version", v))
		return v, nil
	})

	select {
	case <-ctx.Done():
		return ServerVersion{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ServerVersion{}, fmt.Errorf("failed to negotiate web api version: %w", res.Err)
		}
		return res.Val.(ServerVersion), nil
	}
}

// Execute runs a request through the resilient transport. Version-gated
// requests trigger version negotiation first when it has not happened yet.
func (qb *Client) Execute(ctx context.Context, req Request) (string, error) {
	if req.MinVersion != nil {
		if _, ok := qb.exec.ServerVersion(); !ok {
			if _, err := qb.negotiateVersion(ctx); err != nil {
				return "", err
			}
		}
	}
	return qb.exec.Execute(ctx, req)
}

// Logout ends the server session; the client logs in again on the next call.
func (qb *Client) Logout(ctx context.Context) error {
	return qb.session.Logout(ctx)
}

// Close logs out with a short timeout.
func (qb *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return qb.Logout(ctx)
}

// credentialAuth logs in with the configured username and password.
type credentialAuth struct {
	exec     *Executor
	username string
	password string
}

func (a *credentialAuth) Login(ctx context.Context) error {
	req := Post(loginPath, url.Values{
		"username": {a.username},
		"password": {a.password},
	})
	req.SkipAuth = true

	body, err := a.exec.Execute(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		status := statusCodeOf(err)
		message := "login request failed"
		if status == http.StatusForbidden {
			message = "login refused, client IP may be banned after too many failed attempts"
		}
		return newLoginFailedError(status, message, err)
	}

	// qBittorrent answers 200 with "Fails." for bad credentials.
	if strings.TrimSpace(body) != "Ok." {
		return newLoginFailedError(http.StatusOK, fmt.Sprintf("invalid username or password: %s", truncateBody([]byte(body))), nil)
	}
	return nil
}

func (a *credentialAuth) Logout(ctx context.Context) error {
	req := Post(logoutPath, nil)
	req.SkipAuth = true
	_, err := a.exec.Execute(ctx, req)
	return err
}
