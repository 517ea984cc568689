package filesystem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinvlad/jade-data-repo/internal/common/database"
	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
	datarepodb "github.com/dinvlad/jade-data-repo/internal/datarepo/database"
)

const collectionId = "dataset-1"

var testRetryPolicy = util.RetryPolicy{Attempts: 5, Delay: time.Millisecond}

// withServices runs test once per store implementation. Postgres is only used when configured.
func withServices(t *testing.T, test func(t *testing.T, service *Service)) {
	t.Run("memdb", func(t *testing.T) {
		store, err := NewMemDbStore()
		require.NoError(t, err)
		test(t, NewService(store, testRetryPolicy))
	})
	t.Run("postgres", func(t *testing.T) {
		if !database.TestPostgresAvailable() {
			t.Skipf("%s not set", database.TestPostgresEnv)
		}
		err := datarepodb.WithTestDb(func(db *pgxpool.Pool) error {
			test(t, NewService(NewPostgresStore(db), testRetryPolicy))
			return nil
		})
		require.NoError(t, err)
	})
}

func fileRef(fileId string, path string, loadTag string) *DirectoryEntry {
	return &DirectoryEntry{
		FileId:    fileId,
		IsFileRef: true,
		Path:      ParentPath(path),
		Name:      LeafName(path),
		LoadTag:   loadTag,
	}
}

func testFile(fileId string) *FileEntry {
	return &FileEntry{
		FileId:          fileId,
		CollectionId:    collectionId,
		Checksums:       Checksums{Crc32c: "deadbeef", Md5: "abc"},
		Size:            42,
		CreatedDate:     time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		StorageLocation: "file:///data/" + fileId,
		LoadTag:         "tag",
	}
}

func TestCreateEntry_MaterializesAncestors(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/a/b/c.txt", "tag")))

		for _, dir := range []string{"/a", "/a/b"} {
			entry, err := service.LookupByPath(ctx, collectionId, dir)
			require.NoError(t, err)
			require.NotNil(t, entry, dir)
			assert.False(t, entry.IsFileRef)
			assert.Equal(t, dir, entry.FullPath())
		}

		entry, err := service.LookupByPath(ctx, collectionId, "/a/b/c.txt")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, "f1", entry.FileId)
		assert.Equal(t, collectionId, entry.CollectionId)
		assert.Equal(t, "/a/b", entry.Path)
		assert.Equal(t, "c.txt", entry.Name)
		assert.True(t, entry.IsFileRef)
	})
}

func TestCreateEntry_Conflict(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/a/c.txt", "tag")))

		err := service.CreateEntry(ctx, collectionId, fileRef("f2", "/a/c.txt", "other"))
		assert.True(t, datarepoerrors.IsConflict(err))

		entry, err := service.LookupByPath(ctx, collectionId, "/a/c.txt")
		require.NoError(t, err)
		assert.Equal(t, "f1", entry.FileId)
	})
}

func TestCreateEntry_AncestorIsFile(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/a", "tag")))

		err := service.CreateEntry(ctx, collectionId, fileRef("f2", "/a/b", "tag"))
		var invalid *datarepoerrors.ErrInvalidArgument
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestCreateEntry_ConcurrentWritersOneWins(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		const writers = 8

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = service.CreateEntry(ctx, collectionId, fileRef(fmt.Sprintf("f%d", i), "/x/y/z.txt", fmt.Sprintf("tag%d", i)))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, datarepoerrors.IsConflict(err) || datarepoerrors.IsRetryable(err), "unexpected error %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestDeleteEntry_RemovesEmptyAncestors(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/adir/bdir/cdir/file.txt", "tag")))

		deleted, err := service.DeleteEntry(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.True(t, deleted)

		for _, path := range []string{"/adir", "/adir/bdir", "/adir/bdir/cdir", "/adir/bdir/cdir/file.txt"} {
			entry, err := service.LookupByPath(ctx, collectionId, path)
			require.NoError(t, err)
			assert.Nil(t, entry, path)
		}
	})
}

func TestDeleteEntry_KeepsNonEmptyAncestors(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/adir/bdir/cdir/file1.txt", "tag")))
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f2", "/adir/bdir/file2.txt", "tag")))

		deleted, err := service.DeleteEntry(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.True(t, deleted)

		cdir, err := service.LookupByPath(ctx, collectionId, "/adir/bdir/cdir")
		require.NoError(t, err)
		assert.Nil(t, cdir)

		for _, path := range []string{"/adir", "/adir/bdir", "/adir/bdir/file2.txt"} {
			entry, err := service.LookupByPath(ctx, collectionId, path)
			require.NoError(t, err)
			assert.NotNil(t, entry, path)
		}
	})
}

func TestDeleteEntry_Missing(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		deleted, err := service.DeleteEntry(context.Background(), collectionId, "nope")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestDeleteEntry_DependencyExists(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/a/file.txt", "tag")))
		require.NoError(t, service.AddDependency(ctx, "snapshot-1", "f1"))
		require.NoError(t, service.AddDependency(ctx, "snapshot-1", "f1"))

		_, err := service.DeleteEntry(ctx, collectionId, "f1")
		var dependencyExists *datarepoerrors.ErrDependencyExists
		require.ErrorAs(t, err, &dependencyExists)
		assert.Equal(t, "snapshot-1", dependencyExists.ConsumerCollectionId)

		require.NoError(t, service.RemoveDependency(ctx, "snapshot-1", "f1"))
		_, err = service.DeleteEntry(ctx, collectionId, "f1")
		assert.ErrorAs(t, err, &dependencyExists)

		require.NoError(t, service.RemoveDependency(ctx, "snapshot-1", "f1"))
		deleted, err := service.DeleteEntry(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.True(t, deleted)
	})
}

func TestRemoveDependency_FloorsAtZero(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.RemoveDependency(ctx, "snapshot-1", "f1"))
		require.NoError(t, service.AddDependency(ctx, "snapshot-1", "f1"))
		require.NoError(t, service.RemoveDependency(ctx, "snapshot-1", "f1"))
		require.NoError(t, service.RemoveDependency(ctx, "snapshot-1", "f1"))

		dependencies, err := service.LookupDependencies(ctx, "f1")
		require.NoError(t, err)
		assert.Empty(t, dependencies)

		require.NoError(t, service.AddDependency(ctx, "snapshot-1", "f1"))
		dependencies, err = service.LookupDependencies(ctx, "f1")
		require.NoError(t, err)
		require.Len(t, dependencies, 1)
		assert.Equal(t, int64(1), dependencies[0].RefCount)
	})
}

func TestFileEntries(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		file, err := service.LookupFile(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.Nil(t, file)

		require.NoError(t, service.CreateFileEntry(ctx, testFile("f1")))
		err = service.CreateFileEntry(ctx, testFile("f1"))
		assert.True(t, datarepoerrors.IsConflict(err))

		file, err = service.LookupFile(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.Equal(t, testFile("f1"), file)

		deleted, err := service.DeleteFileEntry(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.True(t, deleted)
	})
}

func TestDeleteFile(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("f1", "/a/file.txt", "tag")))
		require.NoError(t, service.CreateFileEntry(ctx, testFile("f1")))

		deleted, err := service.DeleteFile(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.True(t, deleted)

		file, err := service.LookupFile(ctx, collectionId, "f1")
		require.NoError(t, err)
		assert.Nil(t, file)
		dir, err := service.LookupByPath(ctx, collectionId, "/a")
		require.NoError(t, err)
		assert.Nil(t, dir)
	})
}

func itemPaths(item *Item) []string {
	paths := []string{item.Entry.FullPath()}
	for _, child := range item.Contents {
		paths = append(paths, itemPaths(child)...)
	}
	return paths
}

func TestListChildren_Depth(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		ctx := context.Background()
		for i, path := range []string{"/a/b/c/deep.txt", "/a/b/mid.txt", "/a/top.txt", "/z.txt"} {
			fileId := fmt.Sprintf("f%d", i)
			require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef(fileId, path, "tag")))
			require.NoError(t, service.CreateFileEntry(ctx, testFile(fileId)))
		}
		// In flight: entry reserved but never finalized.
		require.NoError(t, service.CreateEntry(ctx, collectionId, fileRef("pending", "/a/pending.txt", "tag")))

		tests := map[string]struct {
			path     string
			depth    int
			expected []string
		}{
			"node only": {
				path:     "/a",
				depth:    0,
				expected: []string{"/a"},
			},
			"one level": {
				path:     "/a",
				depth:    1,
				expected: []string{"/a", "/a/b", "/a/top.txt"},
			},
			"two levels": {
				path:     "/a",
				depth:    2,
				expected: []string{"/a", "/a/b", "/a/b/c", "/a/b/mid.txt", "/a/top.txt"},
			},
			"full subtree": {
				path:     "/a",
				depth:    -1,
				expected: []string{"/a", "/a/b", "/a/b/c", "/a/b/c/deep.txt", "/a/b/mid.txt", "/a/top.txt"},
			},
			"root one level": {
				path:     "/",
				depth:    1,
				expected: []string{"/", "/a", "/z.txt"},
			},
			"file": {
				path:     "/z.txt",
				depth:    -1,
				expected: []string{"/z.txt"},
			},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				item, err := service.ListChildren(ctx, collectionId, tc.path, tc.depth)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, itemPaths(item))
			})
		}

		_, err := service.ListChildren(ctx, collectionId, "/a/pending.txt", 0)
		assert.True(t, datarepoerrors.IsNotFound(err))
		_, err = service.ListChildren(ctx, collectionId, "/missing", 0)
		assert.True(t, datarepoerrors.IsNotFound(err))
	})
}

func TestLookupByPath_InvalidPath(t *testing.T) {
	withServices(t, func(t *testing.T, service *Service) {
		_, err := service.LookupByPath(context.Background(), collectionId, "relative/path")
		var invalid *datarepoerrors.ErrInvalidArgument
		assert.ErrorAs(t, err, &invalid)
	})
}
