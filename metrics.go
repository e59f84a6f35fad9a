package qbt

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	// Attempts counts every HTTP attempt by endpoint and outcome
	// (the status code, or "transport_error").
	Attempts *prometheus.CounterVec
	// Retries counts attempts that were followed by another attempt.
	Retries *prometheus.CounterVec
	// Failures counts calls that ended in an error, by error code.
	Failures *prometheus.CounterVec
	// Duration observes the latency of whole calls, retries included.
	Duration *prometheus.HistogramVec

	Logins *prometheus.CounterVec
	// Sessions is the number of clients on the registry that hold a session
	// they consider valid. Each client adds one on login and removes it on
	// logout, so clients sharing a registry do not overwrite each other.
	Sessions prometheus.Gauge
}

// newMetrics builds the collectors and registers them when reg is non-nil.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbt_client_attempts_total",
				Help: "Total number of HTTP attempts sent to qBittorrent",
			},
			[]string{"endpoint", "outcome"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbt_client_retries_total",
				Help: "Total number of attempts that were retried",
			},
			[]string{"endpoint"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbt_client_failures_total",
				Help: "Total number of calls that returned an error",
			},
			[]string{"endpoint", "code"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qbt_client_call_duration_seconds",
				Help:    "Call duration including retries and backoff",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbt_client_logins_total",
				Help: "Total number of login calls by result",
			},
			[]string{"result"},
		),
		Sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qbt_client_sessions_logged_in",
				Help: "Number of clients holding a session they consider valid",
			},
		),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.Attempts, err = register(reg, m.Attempts); err != nil {
		return nil, err
	}
	if m.Retries, err = register(reg, m.Retries); err != nil {
		return nil, err
	}
	if m.Failures, err = register(reg, m.Failures); err != nil {
		return nil, err
	}
	if m.Duration, err = register(reg, m.Duration); err != nil {
		return nil, err
	}
	if m.Logins, err = register(reg, m.Logins); err != nil {
		return nil, err
	}
	if m.Sessions, err = register(reg, m.Sessions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector another client already
// registered under the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *Metrics) observeAttempt(endpoint string, statusCode int) {
	outcome := "transport_error"
	if statusCode > 0 {
		outcome = strconv.Itoa(statusCode)
	}
	m.Attempts.WithLabelValues(endpoint, outcome).Inc()
}

// failureLabel is the code label of a failed call. Caller cancellation is not
// a transport failure and gets its own label.
func failureLabel(err error) string {
	var clientErr *ClientError
	switch {
	case errors.As(err, &clientErr):
		return string(clientErr.Code)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}
	return string(GetErrorCode(err))
}

func (m *Metrics) observeLogin(err error) {
	if err != nil {
		m.Logins.WithLabelValues("failure").Inc()
		return
	}
	m.Logins.WithLabelValues("success").Inc()
}
