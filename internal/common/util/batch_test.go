package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch(t *testing.T) {
	tests := map[string]struct {
		input     []string
		batchSize int
		expected  [][]string
	}{
		"empty": {
			input:     []string{},
			batchSize: 2,
			expected:  [][]string{},
		},
		"exact": {
			input:     []string{"a", "b", "c", "d"},
			batchSize: 2,
			expected:  [][]string{{"a", "b"}, {"c", "d"}},
		},
		"remainder": {
			input:     []string{"a", "b", "c"},
			batchSize: 2,
			expected:  [][]string{{"a", "b"}, {"c"}},
		},
		"batch larger than input": {
			input:     []string{"a"},
			batchSize: 5,
			expected:  [][]string{{"a"}},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Batch(tc.input, tc.batchSize))
		})
	}
}

func TestNewULID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewULID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
