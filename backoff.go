package qbt

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultRetryJitter  = 250 * time.Millisecond

	// Shift cap that keeps Base<<shift inside time.Duration.
	maxBackoffShift = 30
)

// BackoffPolicy computes the wait between two attempts of the same call.
type BackoffPolicy struct {
	// Base is the delay before the second attempt; it doubles per attempt.
	Base time.Duration
	// Jitter is the exclusive upper bound of the random delay added on top.
	Jitter time.Duration

	// jitterFn returns a value in [0, n); replaced in tests.
	jitterFn func(n int64) int64
}

// NewBackoffPolicy returns a policy with the given base and jitter.
func NewBackoffPolicy(base, jitter time.Duration) BackoffPolicy {
	return BackoffPolicy{Base: base, Jitter: jitter}
}

// ComputeDelay returns the delay after the failed attempt number attempt (1-based).
// A server hint, when present, wins over the exponential schedule.
func (p BackoffPolicy) ComputeDelay(attempt int, hint *time.Duration) time.Duration {
	if hint != nil {
		if *hint < 0 {
			return 0
		}
		return *hint
	}

	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := p.Base << uint(shift)
	if p.Jitter > 0 {
		delay += time.Duration(p.jitter(int64(p.Jitter)))
	}
	return delay
}

func (p BackoffPolicy) jitter(n int64) int64 {
	if p.jitterFn != nil {
		return p.jitterFn(n)
	}
	return rand.Int64N(n)
}

// retryAfter extracts a Retry-After hint, either delta-seconds or an HTTP date.
func retryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return 0, true
		}
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
