package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

func TestNewKubernetesClient_RejectsInvalidLimits(t *testing.T) {
	tests := map[string]struct {
		qps   float32
		burst int
		field string
	}{
		"zero qps":   {qps: 0, burst: 10, field: "qps"},
		"zero burst": {qps: 10, burst: 0, field: "burst"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewKubernetesClient(tc.qps, tc.burst)
			var invalid *datarepoerrors.ErrInvalidArgument
			if assert.ErrorAs(t, err, &invalid) {
				assert.Equal(t, tc.field, invalid.Name)
			}
		})
	}
}
