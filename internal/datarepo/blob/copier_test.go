package blob

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/resource"
)

var created = time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)

func setup(t *testing.T, contents string) (string, *resource.Location) {
	sourceDir := t.TempDir()
	source := filepath.Join(sourceDir, "source.txt")
	require.NoError(t, os.WriteFile(source, []byte(contents), 0o644))
	return source, &resource.Location{CollectionName: "dataset", ProfileId: "profile", Uri: t.TempDir()}
}

func TestLocalCopier_Copy(t *testing.T) {
	tests := map[string]struct {
		source func(path string) string
	}{
		"plain path": {source: func(path string) string { return path }},
		"file url":   {source: func(path string) string { return "file://" + path }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			source, location := setup(t, "hello world")
			copier := NewLocalCopier(0, clocktesting.NewFakePassiveClock(created))

			info, err := copier.Copy(context.Background(), tc.source(source), location, "file-1", "/dir/data.txt")
			require.NoError(t, err)

			assert.Equal(t, int64(11), info.Size)
			assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", info.Checksums.Md5)
			assert.Equal(t, "c99465aa", info.Checksums.Crc32c)
			assert.Equal(t, created, info.CreatedDate)

			u, err := url.Parse(info.StorageLocation)
			require.NoError(t, err)
			assert.Equal(t, "file", u.Scheme)
			assert.Equal(t, filepath.Join(location.Uri, "file-1", "data.txt"), u.Path)
			contents, err := os.ReadFile(u.Path)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(contents))
		})
	}
}

func TestLocalCopier_CopyAgainReplaces(t *testing.T) {
	source, location := setup(t, "first")
	copier := NewLocalCopier(0, clocktesting.NewFakePassiveClock(created))
	_, err := copier.Copy(context.Background(), source, location, "file-1", "/data.txt")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(source, []byte("second"), 0o644))
	info, err := copier.Copy(context.Background(), source, location, "file-1", "/data.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size)

	entries, err := os.ReadDir(filepath.Join(location.Uri, "file-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalCopier_Errors(t *testing.T) {
	source, location := setup(t, "data")
	copier := NewLocalCopier(0, clocktesting.NewFakePassiveClock(created))

	_, err := copier.Copy(context.Background(), filepath.Join(filepath.Dir(source), "missing"), location, "file-1", "/a")
	var notFound *datarepoerrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
	assert.False(t, datarepoerrors.IsRetryable(err))

	for _, badSource := range []string{"gs://bucket/object", "relative/path", "file://"} {
		_, err = copier.Copy(context.Background(), badSource, location, "file-1", "/a")
		var invalid *datarepoerrors.ErrInvalidArgument
		assert.True(t, errors.As(err, &invalid), badSource)
	}

	_, err = copier.Copy(context.Background(), source, location, "file-1", "/")
	var invalid *datarepoerrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &invalid))
}

func TestLocalCopier_Throttled(t *testing.T) {
	source, location := setup(t, string(make([]byte, 3*chunkSize)))
	copier := NewLocalCopier(chunkSize, clocktesting.NewFakePassiveClock(created))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := copier.Copy(ctx, source, location, "file-1", "/big")
	assert.Error(t, err)
	assert.False(t, datarepoerrors.IsRetryable(err))

	_, statErr := os.Stat(filepath.Join(location.Uri, "file-1", "big"))
	assert.True(t, os.IsNotExist(statErr))
}
