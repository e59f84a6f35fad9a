// Package request is the HTTP primitive used by the qbt client: one resty
// client per Transport, with its own cookie jar and connection pool.
package request

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 10
	DefaultUserAgent    = "qbtclient/1.0"
)

// Options holds the settings of a single request.
type Options struct {
	Timeout time.Duration
	Headers map[string]string
	Query   url.Values
	Form    url.Values
	Files   []File
}

// Option mutates Options.
type Option func(*Options)

// File is one multipart attachment.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Response is the part of an HTTP response the client cares about.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// WithTimeout bounds the whole request, including reading the body.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

// WithHeader adds a single header.
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithHeaders adds several headers at once.
func WithHeaders(headers map[string]string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// WithQuery sets URL query parameters.
func WithQuery(query url.Values) Option {
	return func(o *Options) {
		o.Query = query
	}
}

// WithForm sets form fields. They are url-encoded, or sent as multipart
// fields when files are attached.
func WithForm(form url.Values) Option {
	return func(o *Options) {
		o.Form = form
	}
}

// WithFile attaches a file and turns the request into multipart/form-data.
func WithFile(file File) Option {
	return func(o *Options) {
		o.Files = append(o.Files, file)
	}
}

// Config configures a Transport.
type Config struct {
	BaseURL            string
	UserAgent          string
	MaxRedirects       int
	InsecureSkipVerify bool
	// Logger receives resty's internal warnings; nil keeps resty's default.
	Logger resty.Logger
}

// Transport sends requests against one qBittorrent instance. It is safe for
// concurrent use; cookies persist across calls on the same Transport.
type Transport struct {
	client *resty.Client
	jar    http.CookieJar
	base   *url.URL
}

// New builds a Transport with a fresh cookie jar.
func New(cfg Config) (*Transport, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https scheme, got %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating cookie jar: %w", err)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}

	// Pooled transport only; retries are owned by the caller.
	pooled := retryablehttp.NewClient()
	pooled.RetryMax = 0
	pooled.Logger = nil

	client := resty.New()
	client.
		SetTransport(pooled.HTTPClient.Transport).
		SetBaseURL(base.String()).
		SetCookieJar(jar).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects)).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Referer", base.String())

	if cfg.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed WebUI certificates
	}
	if cfg.Logger != nil {
		client.SetLogger(cfg.Logger)
	}

	return &Transport{client: client, jar: jar, base: base}, nil
}

// BaseURL returns the normalized base URL.
func (t *Transport) BaseURL() string {
	return t.base.String()
}

// Cookies returns the cookies currently stored for the base URL.
func (t *Transport) Cookies() []*http.Cookie {
	return t.jar.Cookies(t.base)
}

// Do executes one HTTP request. Non-2xx statuses are not errors; err is only
// set when no response was received.
func (t *Transport) Do(ctx context.Context, method, path string, opts ...Option) (*Response, error) {
	options := &Options{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(options)
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	req := t.client.R().SetContext(ctx)
	for k, v := range options.Headers {
		req.SetHeader(k, v)
	}
	if len(options.Query) > 0 {
		req.SetQueryParamsFromValues(options.Query)
	}
	if len(options.Form) > 0 {
		req.SetFormDataFromValues(options.Form)
	}
	for _, f := range options.Files {
		req.SetMultipartField(f.Field, f.Name, f.ContentType, bytes.NewReader(f.Data))
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}
