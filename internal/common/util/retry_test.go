package util

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestRetryPolicy_Do(t *testing.T) {
	tests := map[string]struct {
		policy        RetryPolicy
		failures      int
		retryIf       func(error) bool
		wantCalls     int
		wantSucceeded bool
	}{
		"succeeds first time": {
			policy:        RetryPolicy{Attempts: 3},
			failures:      0,
			wantCalls:     1,
			wantSucceeded: true,
		},
		"succeeds after retries": {
			policy:        RetryPolicy{Attempts: 3},
			failures:      2,
			wantCalls:     3,
			wantSucceeded: true,
		},
		"gives up": {
			policy:        RetryPolicy{Attempts: 2},
			failures:      5,
			wantCalls:     2,
			wantSucceeded: false,
		},
		"not retryable": {
			policy:        RetryPolicy{Attempts: 5},
			failures:      5,
			retryIf:       func(err error) bool { return false },
			wantCalls:     1,
			wantSucceeded: false,
		},
		"zero attempts runs once": {
			policy:        RetryPolicy{},
			failures:      5,
			wantCalls:     1,
			wantSucceeded: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			calls := 0
			var retried []uint
			err := tc.policy.Do(func() error {
				calls++
				if calls <= tc.failures {
					return errTransient
				}
				return nil
			}, tc.retryIf, func(attempt uint, err error) { retried = append(retried, attempt) })

			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantSucceeded {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errTransient)
			}
		})
	}
}
