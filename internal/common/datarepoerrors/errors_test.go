package datarepoerrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	tests := map[string]struct {
		err           error
		wantRetryable bool
	}{
		"nil":             {err: nil, wantRetryable: false},
		"plain":           {err: errors.New("boom"), wantRetryable: true},
		"already wrapped": {err: Retryable(errors.New("boom")), wantRetryable: true},
		"corrupt":         {err: errors.WithStack(&ErrCorruptState{Message: "bad"}), wantRetryable: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.wantRetryable, IsRetryable(Retryable(tc.err)))
		})
	}
}

func TestRetryable_KeepsCause(t *testing.T) {
	cause := &ErrConflict{Type: "file", Value: "/a"}
	err := errors.Wrap(Retryable(cause), "creating entry")
	assert.True(t, IsRetryable(err))
	assert.True(t, IsConflict(err))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "Path already exists: /a/b", (&ErrPathAlreadyExists{Path: "/a/b"}).Error())
	assert.Equal(t, `resource "x" of type "file" does not exist`, (&ErrNotFound{Type: "file", Value: "x"}).Error())
	assert.Equal(t, "file f1 is used by collection snap", (&ErrDependencyExists{ConsumerCollectionId: "snap", FileId: "f1"}).Error())
}
