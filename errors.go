package qbt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ErrorCode identifies the kind of failure surfaced by the client.
type ErrorCode string

const (
	// ErrorCodeNone indicates no error
	ErrorCodeNone ErrorCode = ""

	// ErrorCodeLoginFailed indicates the credentials were rejected or the login call failed
	ErrorCodeLoginFailed ErrorCode = "LOGIN_FAILED"

	// ErrorCodeUnsupportedVersion indicates the server API is older than the operation requires
	ErrorCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"

	// ErrorCodeBadRequest maps HTTP 400
	ErrorCodeBadRequest ErrorCode = "BAD_REQUEST"

	// ErrorCodeUnauthorized maps HTTP 401
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrorCodeForbidden maps HTTP 403, which qBittorrent returns for a missing or stale session
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"

	// ErrorCodeNotFound maps HTTP 404
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrorCodeConflict maps HTTP 409
	ErrorCodeConflict ErrorCode = "CONFLICT"

	// ErrorCodeServerError maps HTTP 500 once retries are exhausted
	ErrorCodeServerError ErrorCode = "SERVER_ERROR"

	// ErrorCodeFileNotFound indicates a local attachment is missing; no request was sent
	ErrorCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"

	// ErrorCodeNetwork indicates every attempt failed without an HTTP response
	ErrorCodeNetwork ErrorCode = "NETWORK_ERROR"

	// ErrorCodeAPI is the fallback for unmapped HTTP statuses
	ErrorCodeAPI ErrorCode = "API_ERROR"
)

// maxBodySnippet bounds the response body kept on an error.
const maxBodySnippet = 512

// Sentinels for errors.Is; only the code is compared.
var (
	ErrLoginFailed        = &ClientError{Code: ErrorCodeLoginFailed}
	ErrUnsupportedVersion = &ClientError{Code: ErrorCodeUnsupportedVersion}
	ErrBadRequest         = &ClientError{Code: ErrorCodeBadRequest}
	ErrUnauthorized       = &ClientError{Code: ErrorCodeUnauthorized}
	ErrForbidden          = &ClientError{Code: ErrorCodeForbidden}
	ErrNotFound           = &ClientError{Code: ErrorCodeNotFound}
	ErrConflict           = &ClientError{Code: ErrorCodeConflict}
	ErrServerError        = &ClientError{Code: ErrorCodeServerError}
	ErrFileNotFound       = &ClientError{Code: ErrorCodeFileNotFound}
	ErrNetwork            = &ClientError{Code: ErrorCodeNetwork}
	ErrAPI                = &ClientError{Code: ErrorCodeAPI}
)

// ClientError represents a structured error with classification
type ClientError struct {
	Code    ErrorCode
	Message string

	// Operation is the endpoint or operation name the error belongs to.
	Operation string
	// StatusCode is the HTTP status of the final response, 0 when none was received.
	StatusCode int
	// Body holds a truncated copy of the final response body.
	Body string

	// Required and Current are set for ErrorCodeUnsupportedVersion.
	Required ServerVersion
	Current  string

	Err error
	// Permanent indicates whether this error requires user intervention (true)
	// or can be resolved by retrying (false)
	Permanent bool
}

func (e *ClientError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Operation != "" {
		b.WriteString(" [")
		b.WriteString(e.Operation)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	return b.String()
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code, so errors.Is(err, ErrNotFound) works on any
// NOT_FOUND error regardless of its details.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Operation == "" && t.Message == ""
}

// IsPermanent returns true if the error requires user intervention
func (e *ClientError) IsPermanent() bool {
	return e.Permanent
}

// NewClientError creates a new ClientError
func NewClientError(code ErrorCode, message string, err error, permanent bool) *ClientError {
	return &ClientError{
		Code:      code,
		Message:   message,
		Err:       err,
		Permanent: permanent,
	}
}

func newUnsupportedVersionError(operation string, required ServerVersion, current string) *ClientError {
	return &ClientError{
		Code:      ErrorCodeUnsupportedVersion,
		Message:   fmt.Sprintf("requires Web API %s, server provides %s", required, current),
		Operation: operation,
		Required:  required,
		Current:   current,
		Permanent: true,
	}
}

func newLoginFailedError(statusCode int, message string, cause error) *ClientError {
	return &ClientError{
		Code:       ErrorCodeLoginFailed,
		Message:    message,
		Operation:  loginPath,
		StatusCode: statusCode,
		Err:        cause,
		Permanent:  true,
	}
}

// newDecodeError reports a successful response whose body could not be decoded.
// Sending the request again would return the same body.
func newDecodeError(operation string, body []byte, cause error) *ClientError {
	return &ClientError{
		Code:      ErrorCodeAPI,
		Message:   "invalid response body",
		Operation: operation,
		Body:      truncateBody(body),
		Err:       cause,
		Permanent: true,
	}
}

func newFileNotFoundError(operation, path string, cause error) *ClientError {
	return &ClientError{
		Code:      ErrorCodeFileNotFound,
		Message:   fmt.Sprintf("attachment %s is not readable", path),
		Operation: operation,
		Err:       cause,
		Permanent: true,
	}
}

func newNetworkError(operation string, attempts int, cause error) *ClientError {
	reason, _ := describeTransportError(cause)
	return &ClientError{
		Code:      ErrorCodeNetwork,
		Message:   fmt.Sprintf("%s after %d attempts", reason, attempts),
		Operation: operation,
		Err:       cause,
		Permanent: false,
	}
}

// classifyHTTPStatusCode maps a final non-2xx response onto the error taxonomy.
func classifyHTTPStatusCode(operation string, statusCode int, body []byte) *ClientError {
	e := &ClientError{
		Operation:  operation,
		StatusCode: statusCode,
		Body:       truncateBody(body),
		Permanent:  true,
	}

	switch statusCode {
	case http.StatusBadRequest:
		e.Code = ErrorCodeBadRequest
		e.Message = "request rejected as malformed"
	case http.StatusUnauthorized:
		e.Code = ErrorCodeUnauthorized
		e.Message = "session is not authorized"
	case http.StatusForbidden:
		e.Code = ErrorCodeForbidden
		e.Message = "access forbidden, session missing or expired"
	case http.StatusNotFound:
		e.Code = ErrorCodeNotFound
		e.Message = "resource not found"
	case http.StatusConflict:
		e.Code = ErrorCodeConflict
		e.Message = "request conflicts with server state"
	case http.StatusInternalServerError:
		e.Code = ErrorCodeServerError
		e.Message = "server failed to process the request"
		e.Permanent = false
	default:
		e.Code = ErrorCodeAPI
		e.Message = fmt.Sprintf("request failed with status %d %s", statusCode, http.StatusText(statusCode))
		e.Permanent = statusCode < http.StatusInternalServerError &&
			statusCode != http.StatusRequestTimeout &&
			statusCode != http.StatusTooManyRequests
	}

	if e.Body != "" {
		e.Message = fmt.Sprintf("%s: %s", e.Message, e.Body)
	}
	return e
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxBodySnippet {
		return s
	}
	cut := maxBodySnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// ClassifyError analyzes an error and returns a structured ClientError.
// Errors that are not already a ClientError are treated as transport failures.
func ClassifyError(err error) *ClientError {
	if err == nil {
		return nil
	}

	// Already a ClientError
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	reason, permanent := describeTransportError(err)
	return NewClientError(ErrorCodeNetwork, reason, err, permanent)
}

// describeTransportError explains a failure that produced no HTTP response.
// The boolean reports whether the condition needs configuration changes.
func describeTransportError(err error) (string, bool) {
	if err == nil {
		return "unknown transport failure", false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("failed to resolve hostname %s", dnsErr.Name), true
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "TLS certificate verification failed", true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if reason, permanent, ok := describeOpError(opErr); ok {
			return reason, permanent
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "request timed out", false
	}

	return describeByMessage(err.Error())
}

func describeOpError(opErr *net.OpError) (string, bool, bool) {
	msg := opErr.Error()
	if opErr.Op == "dial" {
		if strings.Contains(msg, "connection refused") {
			return "connection refused, server may be down or port is incorrect", false, true
		}
		if strings.Contains(msg, "no route to host") || strings.Contains(msg, "network is unreachable") {
			return "network unreachable", false, true
		}
	}
	if opErr.Timeout() {
		return "connection timed out", false, true
	}
	return "", false, false
}

func describeByMessage(errStr string) (string, bool) {
	lowerErr := strings.ToLower(errStr)

	switch {
	case strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded"):
		return "request timed out", false
	case strings.Contains(lowerErr, "malformed http response") ||
		strings.Contains(lowerErr, "first record does not look like a tls handshake"):
		return "protocol mismatch, check http vs https in BaseURL", true
	case strings.Contains(lowerErr, "certificate") || strings.Contains(lowerErr, "x509") ||
		strings.Contains(lowerErr, "tls"):
		return "TLS connection failed", true
	case strings.Contains(lowerErr, "connection refused"):
		return "connection refused", false
	case strings.Contains(lowerErr, "connection reset") || strings.Contains(lowerErr, "broken pipe") ||
		strings.Contains(lowerErr, "eof"):
		return "connection dropped", false
	case strings.Contains(lowerErr, "no such host"):
		return "DNS resolution failed", true
	default:
		return "transport failure", false
	}
}

// IsRetryableError returns true if the error is temporary and can be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return !ClassifyError(err).Permanent
}

// IsPermanentError returns true if the error requires user intervention
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Permanent
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeNone
	}
	return ClassifyError(err).Code
}
