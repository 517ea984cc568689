package util

import (
	"time"

	"github.com/avast/retry-go"
)

// RetryPolicy bounds how often and how fast a failing operation is attempted again.
type RetryPolicy struct {
	Attempts uint          `validate:"gte=1"`
	Delay    time.Duration `validate:"gte=0"`
	MaxDelay time.Duration
}

// NoRetry runs an operation exactly once.
var NoRetry = RetryPolicy{Attempts: 1}

// Do runs action until it succeeds, fails with an error retryIf rejects, or the attempts are used up.
// The last error is returned unwrapped.
func (p RetryPolicy) Do(action func() error, retryIf func(error) bool, onRetry func(attempt uint, err error)) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxDelay))
	}
	if retryIf != nil {
		opts = append(opts, retry.RetryIf(retryIf))
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(onRetry))
	}
	return retry.Do(action, opts...)
}
