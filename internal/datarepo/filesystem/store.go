package filesystem

import "context"

// Store persists the namespace. Every StoreTxn runs atomically: a transaction either applies all its writes
// or none, and it never observes a concurrent transaction half-applied. Transactions lost to contention fail
// with a retryable error and may be run again.
type Store interface {
	WithTxn(ctx context.Context, action func(txn StoreTxn) error) error
}

// StoreTxn holds the primitive reads and conditional writes available inside a transaction.
// Lookups return nil, nil when nothing matches.
type StoreTxn interface {
	GetEntryByPath(ctx context.Context, collectionId string, path string) (*DirectoryEntry, error)
	GetEntryByFileId(ctx context.Context, collectionId string, fileId string) (*DirectoryEntry, error)
	// InsertEntry fails with ErrConflict when the path or the file id is already taken.
	InsertEntry(ctx context.Context, entry *DirectoryEntry) error
	DeleteEntry(ctx context.Context, collectionId string, fileId string) (bool, error)
	HasChildren(ctx context.Context, collectionId string, dirPath string) (bool, error)
	// ListChildren returns the entries directly below dirPath ordered by name.
	ListChildren(ctx context.Context, collectionId string, dirPath string) ([]*DirectoryEntry, error)

	GetFile(ctx context.Context, collectionId string, fileId string) (*FileEntry, error)
	// InsertFile fails with ErrConflict when a file with the same id exists.
	InsertFile(ctx context.Context, file *FileEntry) error
	DeleteFile(ctx context.Context, collectionId string, fileId string) (bool, error)

	IncrementDependency(ctx context.Context, consumerCollectionId string, fileId string) error
	// DecrementDependency never takes a count below zero and drops records that reach zero.
	DecrementDependency(ctx context.Context, consumerCollectionId string, fileId string) error
	ListDependencies(ctx context.Context, fileId string) ([]*Dependency, error)
}
