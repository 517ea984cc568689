package filesystem

import (
	"context"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

const (
	entriesTable      = "entries"
	filesTable        = "files"
	dependenciesTable = "dependencies"

	idIndex     = "id"
	fileIdIndex = "fileId"
	parentIndex = "parent"
)

// entryRecord is the indexed form of a DirectoryEntry. Parent is never empty: entries below the root
// are stored with Parent "/".
type entryRecord struct {
	CollectionId string
	FullPath     string
	Parent       string
	FileId       string
	Entry        DirectoryEntry
}

type dependencyRecord struct {
	ConsumerCollectionId string
	FileId               string
	RefCount             int64
}

func namespaceSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			entriesTable: {
				Name: entriesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "CollectionId"},
							&memdb.StringFieldIndex{Field: "FullPath"},
						}},
					},
					fileIdIndex: {
						Name:   fileIdIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "CollectionId"},
							&memdb.StringFieldIndex{Field: "FileId"},
						}},
					},
					parentIndex: {
						Name: parentIndex,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "CollectionId"},
							&memdb.StringFieldIndex{Field: "Parent"},
						}},
					},
				},
			},
			filesTable: {
				Name: filesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "CollectionId"},
							&memdb.StringFieldIndex{Field: "FileId"},
						}},
					},
				},
			},
			dependenciesTable: {
				Name: dependenciesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "ConsumerCollectionId"},
							&memdb.StringFieldIndex{Field: "FileId"},
						}},
					},
					fileIdIndex: {
						Name:    fileIdIndex,
						Indexer: &memdb.StringFieldIndex{Field: "FileId"},
					},
				},
			},
		},
	}
}

// MemDbStore keeps the namespace in memory. go-memdb admits a single writer at a time, which makes every
// transaction serializable.
type MemDbStore struct {
	db *memdb.MemDB
}

func NewMemDbStore() (*MemDbStore, error) {
	db, err := memdb.NewMemDB(namespaceSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemDbStore{db: db}, nil
}

func (s *MemDbStore) WithTxn(_ context.Context, action func(txn StoreTxn) error) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := action(&memDbTxn{txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

type memDbTxn struct {
	txn *memdb.Txn
}

func parentKey(path string) string {
	if path == "" {
		return RootPath
	}
	return path
}

func (t *memDbTxn) GetEntryByPath(_ context.Context, collectionId string, path string) (*DirectoryEntry, error) {
	return t.firstEntry(idIndex, collectionId, path)
}

func (t *memDbTxn) GetEntryByFileId(_ context.Context, collectionId string, fileId string) (*DirectoryEntry, error) {
	return t.firstEntry(fileIdIndex, collectionId, fileId)
}

func (t *memDbTxn) firstEntry(index string, args ...interface{}) (*DirectoryEntry, error) {
	raw, err := t.txn.First(entriesTable, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if raw == nil {
		return nil, nil
	}
	entry := raw.(*entryRecord).Entry
	return &entry, nil
}

func (t *memDbTxn) InsertEntry(_ context.Context, entry *DirectoryEntry) error {
	fullPath := entry.FullPath()
	for _, lookup := range []struct {
		index string
		value string
	}{{idIndex, fullPath}, {fileIdIndex, entry.FileId}} {
		existing, err := t.txn.First(entriesTable, lookup.index, entry.CollectionId, lookup.value)
		if err != nil {
			return errors.WithStack(err)
		}
		if existing != nil {
			return errors.WithStack(&datarepoerrors.ErrConflict{Type: "directory entry", Value: lookup.value})
		}
	}
	record := &entryRecord{
		CollectionId: entry.CollectionId,
		FullPath:     fullPath,
		Parent:       parentKey(entry.Path),
		FileId:       entry.FileId,
		Entry:        *entry,
	}
	return errors.WithStack(t.txn.Insert(entriesTable, record))
}

func (t *memDbTxn) DeleteEntry(_ context.Context, collectionId string, fileId string) (bool, error) {
	raw, err := t.txn.First(entriesTable, fileIdIndex, collectionId, fileId)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if raw == nil {
		return false, nil
	}
	return true, errors.WithStack(t.txn.Delete(entriesTable, raw))
}

func (t *memDbTxn) HasChildren(_ context.Context, collectionId string, dirPath string) (bool, error) {
	raw, err := t.txn.First(entriesTable, parentIndex, collectionId, parentKey(dirPath))
	if err != nil {
		return false, errors.WithStack(err)
	}
	return raw != nil, nil
}

func (t *memDbTxn) ListChildren(_ context.Context, collectionId string, dirPath string) ([]*DirectoryEntry, error) {
	it, err := t.txn.Get(entriesTable, parentIndex, collectionId, parentKey(dirPath))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var children []*DirectoryEntry
	for obj := it.Next(); obj != nil; obj = it.Next() {
		entry := obj.(*entryRecord).Entry
		children = append(children, &entry)
	}
	slices.SortFunc(children, func(a, b *DirectoryEntry) bool { return a.Name < b.Name })
	return children, nil
}

func (t *memDbTxn) GetFile(_ context.Context, collectionId string, fileId string) (*FileEntry, error) {
	raw, err := t.txn.First(filesTable, idIndex, collectionId, fileId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if raw == nil {
		return nil, nil
	}
	file := *raw.(*FileEntry)
	return &file, nil
}

func (t *memDbTxn) InsertFile(_ context.Context, file *FileEntry) error {
	existing, err := t.txn.First(filesTable, idIndex, file.CollectionId, file.FileId)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return errors.WithStack(&datarepoerrors.ErrConflict{Type: "file", Value: file.FileId})
	}
	stored := *file
	return errors.WithStack(t.txn.Insert(filesTable, &stored))
}

func (t *memDbTxn) DeleteFile(_ context.Context, collectionId string, fileId string) (bool, error) {
	raw, err := t.txn.First(filesTable, idIndex, collectionId, fileId)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if raw == nil {
		return false, nil
	}
	return true, errors.WithStack(t.txn.Delete(filesTable, raw))
}

func (t *memDbTxn) IncrementDependency(_ context.Context, consumerCollectionId string, fileId string) error {
	record := &dependencyRecord{ConsumerCollectionId: consumerCollectionId, FileId: fileId, RefCount: 1}
	raw, err := t.txn.First(dependenciesTable, idIndex, consumerCollectionId, fileId)
	if err != nil {
		return errors.WithStack(err)
	}
	if raw != nil {
		record.RefCount = raw.(*dependencyRecord).RefCount + 1
	}
	return errors.WithStack(t.txn.Insert(dependenciesTable, record))
}

func (t *memDbTxn) DecrementDependency(_ context.Context, consumerCollectionId string, fileId string) error {
	raw, err := t.txn.First(dependenciesTable, idIndex, consumerCollectionId, fileId)
	if err != nil {
		return errors.WithStack(err)
	}
	if raw == nil {
		return nil
	}
	existing := raw.(*dependencyRecord)
	if existing.RefCount <= 1 {
		return errors.WithStack(t.txn.Delete(dependenciesTable, existing))
	}
	record := *existing
	record.RefCount--
	return errors.WithStack(t.txn.Insert(dependenciesTable, &record))
}

func (t *memDbTxn) ListDependencies(_ context.Context, fileId string) ([]*Dependency, error) {
	it, err := t.txn.Get(dependenciesTable, fileIdIndex, fileId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var dependencies []*Dependency
	for obj := it.Next(); obj != nil; obj = it.Next() {
		record := obj.(*dependencyRecord)
		dependencies = append(dependencies, &Dependency{
			ConsumerCollectionId: record.ConsumerCollectionId,
			FileId:               record.FileId,
			RefCount:             record.RefCount,
		})
	}
	return dependencies, nil
}
