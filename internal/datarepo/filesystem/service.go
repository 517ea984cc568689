package filesystem

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
)

// Service implements the namespace of each collection on top of a Store. All mutations are conditional
// writes inside a single store transaction, so concurrent writers of the same path never both succeed.
type Service struct {
	store       Store
	retryPolicy util.RetryPolicy
}

func NewService(store Store, retryPolicy util.RetryPolicy) *Service {
	return &Service{
		store:       store,
		retryPolicy: retryPolicy,
	}
}

// withTxn runs action in a store transaction, running it again while it fails for transient reasons.
func (s *Service) withTxn(ctx context.Context, action func(txn StoreTxn) error) error {
	return s.retryPolicy.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
			return s.store.WithTxn(ctx, action)
		},
		datarepoerrors.IsRetryable,
		func(attempt uint, err error) {
			log.WithError(err).Debugf("Retrying namespace transaction, attempt %d", attempt+1)
		},
	)
}

func rootEntry(collectionId string) *DirectoryEntry {
	return &DirectoryEntry{CollectionId: collectionId}
}

// LookupByPath returns the entry at exactly path, or nil when there is none.
func (s *Service) LookupByPath(ctx context.Context, collectionId string, path string) (*DirectoryEntry, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if path == RootPath {
		return rootEntry(collectionId), nil
	}
	var entry *DirectoryEntry
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		var err error
		entry, err = txn.GetEntryByPath(ctx, collectionId, path)
		return err
	})
	return entry, err
}

func (s *Service) LookupByFileId(ctx context.Context, collectionId string, fileId string) (*DirectoryEntry, error) {
	var entry *DirectoryEntry
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		var err error
		entry, err = txn.GetEntryByFileId(ctx, collectionId, fileId)
		return err
	})
	return entry, err
}

// CreateEntry inserts entry below collectionId, creating any missing ancestor directories. It fails with
// ErrConflict when the path is already taken.
func (s *Service) CreateEntry(ctx context.Context, collectionId string, entry *DirectoryEntry) error {
	if collectionId == "" {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "collectionId", Value: collectionId, Message: "must not be empty"})
	}
	if entry.FileId == "" {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "fileId", Value: entry.FileId, Message: "must not be empty"})
	}
	fullPath := entry.FullPath()
	if err := ValidatePath(fullPath); err != nil {
		return err
	}
	if fullPath == RootPath {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "path", Value: fullPath, Message: "the root cannot be created"})
	}

	toInsert := *entry
	toInsert.CollectionId = collectionId
	return s.withTxn(ctx, func(txn StoreTxn) error {
		if err := s.createAncestors(ctx, txn, collectionId, fullPath, entry.LoadTag); err != nil {
			return err
		}
		return txn.InsertEntry(ctx, &toInsert)
	})
}

func (s *Service) createAncestors(ctx context.Context, txn StoreTxn, collectionId string, path string, loadTag string) error {
	for _, ancestor := range Ancestors(path) {
		existing, err := txn.GetEntryByPath(ctx, collectionId, ancestor)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.IsFileRef {
				return errors.WithStack(&datarepoerrors.ErrInvalidArgument{
					Name:    "path",
					Value:   path,
					Message: ancestor + " is a file",
				})
			}
			continue
		}
		dir := &DirectoryEntry{
			FileId:       uuid.NewString(),
			CollectionId: collectionId,
			IsFileRef:    false,
			Path:         ParentPath(ancestor),
			Name:         LeafName(ancestor),
			LoadTag:      loadTag,
		}
		if err := txn.InsertEntry(ctx, dir); err != nil {
			// Another writer created the directory first; running again will find it.
			if datarepoerrors.IsConflict(err) {
				return datarepoerrors.Retryable(err)
			}
			return err
		}
	}
	return nil
}

// DeleteEntry removes the entry holding fileId and then every ancestor directory left empty, stopping at the
// first non-empty one. It reports false when no such entry exists.
func (s *Service) DeleteEntry(ctx context.Context, collectionId string, fileId string) (bool, error) {
	var deleted bool
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		var err error
		deleted, err = s.deleteEntry(ctx, txn, collectionId, fileId)
		return err
	})
	return deleted, err
}

// DeleteFile removes both the file metadata and the directory entry of fileId.
func (s *Service) DeleteFile(ctx context.Context, collectionId string, fileId string) (bool, error) {
	var deleted bool
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		if err := checkNoDependencies(ctx, txn, fileId); err != nil {
			return err
		}
		fileDeleted, err := txn.DeleteFile(ctx, collectionId, fileId)
		if err != nil {
			return err
		}
		entryDeleted, err := s.deleteEntry(ctx, txn, collectionId, fileId)
		deleted = fileDeleted || entryDeleted
		return err
	})
	return deleted, err
}

func (s *Service) deleteEntry(ctx context.Context, txn StoreTxn, collectionId string, fileId string) (bool, error) {
	entry, err := txn.GetEntryByFileId(ctx, collectionId, fileId)
	if err != nil || entry == nil {
		return false, err
	}
	if entry.IsFileRef {
		if err := checkNoDependencies(ctx, txn, fileId); err != nil {
			return false, err
		}
	} else {
		hasChildren, err := txn.HasChildren(ctx, collectionId, entry.FullPath())
		if err != nil {
			return false, err
		}
		if hasChildren {
			return false, errors.WithStack(&datarepoerrors.ErrInvalidArgument{
				Name:    "path",
				Value:   entry.FullPath(),
				Message: "directory is not empty",
			})
		}
	}
	if _, err := txn.DeleteEntry(ctx, collectionId, fileId); err != nil {
		return false, err
	}
	return true, deleteEmptyAncestors(ctx, txn, collectionId, entry.Path)
}

func deleteEmptyAncestors(ctx context.Context, txn StoreTxn, collectionId string, dirPath string) error {
	for ; dirPath != ""; dirPath = ParentPath(dirPath) {
		hasChildren, err := txn.HasChildren(ctx, collectionId, dirPath)
		if err != nil {
			return err
		}
		if hasChildren {
			return nil
		}
		dir, err := txn.GetEntryByPath(ctx, collectionId, dirPath)
		if err != nil {
			return err
		}
		if dir == nil {
			return nil
		}
		if _, err := txn.DeleteEntry(ctx, collectionId, dir.FileId); err != nil {
			return err
		}
	}
	return nil
}

func checkNoDependencies(ctx context.Context, txn StoreTxn, fileId string) error {
	dependencies, err := txn.ListDependencies(ctx, fileId)
	if err != nil {
		return err
	}
	for _, dependency := range dependencies {
		if dependency.RefCount > 0 {
			return errors.WithStack(&datarepoerrors.ErrDependencyExists{
				ConsumerCollectionId: dependency.ConsumerCollectionId,
				FileId:               fileId,
			})
		}
	}
	return nil
}

// ListChildren returns the item at path with its contents expanded depth levels down. A depth of 0 returns the
// node only and -1 returns the whole subtree. Files still being ingested are left out.
func (s *Service) ListChildren(ctx context.Context, collectionId string, path string, depth int) (*Item, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if depth < -1 {
		return nil, errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "depth", Value: depth, Message: "must be -1 or greater"})
	}
	var item *Item
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		entry := rootEntry(collectionId)
		if path != RootPath {
			var err error
			entry, err = txn.GetEntryByPath(ctx, collectionId, path)
			if err != nil {
				return err
			}
		}
		notFound := errors.WithStack(&datarepoerrors.ErrNotFound{Type: "path", Value: path})
		if entry == nil {
			return notFound
		}
		var err error
		item, err = buildItem(ctx, txn, entry, depth)
		if err == nil && item == nil {
			return notFound
		}
		return err
	})
	return item, err
}

// buildItem returns nil for a file reference without file metadata.
func buildItem(ctx context.Context, txn StoreTxn, entry *DirectoryEntry, depth int) (*Item, error) {
	item := &Item{Entry: entry}
	if entry.IsFileRef {
		file, err := txn.GetFile(ctx, entry.CollectionId, entry.FileId)
		if err != nil || file == nil {
			return nil, err
		}
		item.File = file
		return item, nil
	}
	if depth == 0 {
		return item, nil
	}
	children, err := txn.ListChildren(ctx, entry.CollectionId, entry.FullPath())
	if err != nil {
		return nil, err
	}
	childDepth := depth - 1
	if depth == -1 {
		childDepth = -1
	}
	item.Enumerated = true
	item.Contents = []*Item{}
	for _, child := range children {
		childItem, err := buildItem(ctx, txn, child, childDepth)
		if err != nil {
			return nil, err
		}
		if childItem != nil {
			item.Contents = append(item.Contents, childItem)
		}
	}
	return item, nil
}

// LookupFile returns the file metadata of fileId, or nil when the file has not been finalized.
func (s *Service) LookupFile(ctx context.Context, collectionId string, fileId string) (*FileEntry, error) {
	var file *FileEntry
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		var err error
		file, err = txn.GetFile(ctx, collectionId, fileId)
		return err
	})
	return file, err
}

// CreateFileEntry records the metadata of a finished file. It fails with ErrConflict when the id is taken.
func (s *Service) CreateFileEntry(ctx context.Context, file *FileEntry) error {
	if file.FileId == "" || file.CollectionId == "" {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "fileId", Value: file.FileId, Message: "file and collection ids are required"})
	}
	return s.withTxn(ctx, func(txn StoreTxn) error {
		return txn.InsertFile(ctx, file)
	})
}

func (s *Service) DeleteFileEntry(ctx context.Context, collectionId string, fileId string) (bool, error) {
	var deleted bool
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		var err error
		deleted, err = txn.DeleteFile(ctx, collectionId, fileId)
		return err
	})
	return deleted, err
}

// AddDependency records one more reference from consumerCollectionId to fileId.
func (s *Service) AddDependency(ctx context.Context, consumerCollectionId string, fileId string) error {
	return s.withTxn(ctx, func(txn StoreTxn) error {
		return txn.IncrementDependency(ctx, consumerCollectionId, fileId)
	})
}

// RemoveDependency drops one reference. Counts never fall below zero.
func (s *Service) RemoveDependency(ctx context.Context, consumerCollectionId string, fileId string) error {
	return s.withTxn(ctx, func(txn StoreTxn) error {
		return txn.DecrementDependency(ctx, consumerCollectionId, fileId)
	})
}

func (s *Service) LookupDependencies(ctx context.Context, fileId string) ([]*Dependency, error) {
	var dependencies []*Dependency
	err := s.withTxn(ctx, func(txn StoreTxn) error {
		var err error
		dependencies, err = txn.ListDependencies(ctx, fileId)
		return err
	})
	return dependencies, err
}
