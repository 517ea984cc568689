package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBulkRequest(t *testing.T) {
	tests := map[string]struct {
		content           string
		expectedMaxFailed *int
	}{
		"yaml without maxFailedFileLoads": {
			content: `
datasetId: collection
loadArray:
  - sourcePath: /src/a
    targetPath: /a
`,
		},
		"yaml with maxFailedFileLoads": {
			content: `
datasetId: collection
maxFailedFileLoads: 0
loadArray:
  - sourcePath: /src/a
    targetPath: /a
`,
			expectedMaxFailed: intPtr(0),
		},
		"json": {
			content:           `{"datasetId": "collection", "maxFailedFileLoads": -1, "loadArray": [{"sourcePath": "/src/a", "targetPath": "/a"}]}`,
			expectedMaxFailed: intPtr(-1),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "request.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			req, maxFailed, err := readBulkRequest(path)
			require.NoError(t, err)
			assert.Equal(t, "collection", req.CollectionId)
			require.Len(t, req.LoadArray, 1)
			assert.Equal(t, "/src/a", req.LoadArray[0].SourcePath)
			assert.Equal(t, "/a", req.LoadArray[0].TargetPath)
			assert.Equal(t, tc.expectedMaxFailed, maxFailed)
		})
	}
}

func TestReadBulkRequest_Missing(t *testing.T) {
	_, _, err := readBulkRequest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func intPtr(i int) *int {
	return &i
}
