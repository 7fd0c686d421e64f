package chatclient

import "time"

// RetryPolicy bounds automatic reconnection. Delay maps a 1-based attempt
// number to the wait before that attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// DefaultRetryBaseDelay is the linear backoff step. Chat sessions are
// user-attended, so the backoff stays linear rather than exponential to keep
// recovery snappy after a blip.
const DefaultRetryBaseDelay = 2 * time.Second

// DefaultRetryMaxAttempts caps consecutive reconnects; beyond it the failure
// is terminal until the caller reconnects explicitly.
const DefaultRetryMaxAttempts = 5

// DefaultRetryPolicy returns the stock linear policy: 2s, 4s, 6s, 8s, 10s.
func DefaultRetryPolicy() RetryPolicy {
	return LinearRetryPolicy(DefaultRetryMaxAttempts, DefaultRetryBaseDelay)
}

// LinearRetryPolicy builds a policy waiting base*attempt before each attempt.
func LinearRetryPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay: func(attempt int) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return base * time.Duration(attempt)
		},
	}
}
