package filesystem

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/database"
	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

// PostgresStore keeps the namespace in Postgres. Transactions run SERIALIZABLE; one that loses against a
// concurrent transaction fails with a retryable error.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTxn(ctx context.Context, action func(txn StoreTxn) error) error {
	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}, func(tx pgx.Tx) error {
		return action(&postgresTxn{tx: tx})
	})
	if database.IsSerializationFailure(err) {
		return datarepoerrors.Retryable(errors.WithStack(err))
	}
	return err
}

type postgresTxn struct {
	tx pgx.Tx
}

const entryColumns = `file_id, collection_id, is_file_ref, path, name, load_tag`

func scanEntry(row pgx.Row) (*DirectoryEntry, error) {
	entry := &DirectoryEntry{}
	err := row.Scan(&entry.FileId, &entry.CollectionId, &entry.IsFileRef, &entry.Path, &entry.Name, &entry.LoadTag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return entry, nil
}

func (t *postgresTxn) GetEntryByPath(ctx context.Context, collectionId string, path string) (*DirectoryEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM directory_entry WHERE collection_id = $1 AND path = $2 AND name = $3`,
		collectionId, ParentPath(path), LeafName(path)))
}

func (t *postgresTxn) GetEntryByFileId(ctx context.Context, collectionId string, fileId string) (*DirectoryEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM directory_entry WHERE collection_id = $1 AND file_id = $2`,
		collectionId, fileId))
}

func (t *postgresTxn) InsertEntry(ctx context.Context, entry *DirectoryEntry) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO directory_entry (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
		entry.FileId, entry.CollectionId, entry.IsFileRef, entry.Path, entry.Name, entry.LoadTag)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.WithStack(&datarepoerrors.ErrConflict{Type: "directory entry", Value: entry.FullPath()})
	}
	return nil
}

func (t *postgresTxn) DeleteEntry(ctx context.Context, collectionId string, fileId string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM directory_entry WHERE collection_id = $1 AND file_id = $2`, collectionId, fileId)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *postgresTxn) HasChildren(ctx context.Context, collectionId string, dirPath string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM directory_entry WHERE collection_id = $1 AND path = $2)`,
		collectionId, childPrefix(dirPath)).Scan(&exists)
	return exists, errors.WithStack(err)
}

func (t *postgresTxn) ListChildren(ctx context.Context, collectionId string, dirPath string) ([]*DirectoryEntry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+entryColumns+` FROM directory_entry WHERE collection_id = $1 AND path = $2 ORDER BY name`,
		collectionId, childPrefix(dirPath))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var children []*DirectoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, entry)
	}
	return children, errors.WithStack(rows.Err())
}

// childPrefix maps a directory path to the path column of its children.
func childPrefix(dirPath string) string {
	if dirPath == RootPath {
		return ""
	}
	return dirPath
}

func (t *postgresTxn) GetFile(ctx context.Context, collectionId string, fileId string) (*FileEntry, error) {
	file := &FileEntry{}
	err := t.tx.QueryRow(ctx,
		`SELECT file_id, collection_id, checksum_crc32c, checksum_md5, size, created_date, storage_location,
		        mime_type, description, load_tag, flight_id
		 FROM file_entry WHERE collection_id = $1 AND file_id = $2`,
		collectionId, fileId).Scan(
		&file.FileId, &file.CollectionId, &file.Checksums.Crc32c, &file.Checksums.Md5, &file.Size,
		&file.CreatedDate, &file.StorageLocation, &file.MimeType, &file.Description, &file.LoadTag, &file.FlightId)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	file.CreatedDate = file.CreatedDate.UTC()
	return file, nil
}

func (t *postgresTxn) InsertFile(ctx context.Context, file *FileEntry) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO file_entry (file_id, collection_id, checksum_crc32c, checksum_md5, size, created_date,
		                         storage_location, mime_type, description, load_tag, flight_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) ON CONFLICT DO NOTHING`,
		file.FileId, file.CollectionId, file.Checksums.Crc32c, file.Checksums.Md5, file.Size, file.CreatedDate,
		file.StorageLocation, file.MimeType, file.Description, file.LoadTag, file.FlightId)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.WithStack(&datarepoerrors.ErrConflict{Type: "file", Value: file.FileId})
	}
	return nil
}

func (t *postgresTxn) DeleteFile(ctx context.Context, collectionId string, fileId string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM file_entry WHERE collection_id = $1 AND file_id = $2`, collectionId, fileId)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *postgresTxn) IncrementDependency(ctx context.Context, consumerCollectionId string, fileId string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO file_dependency (consumer_collection_id, file_id, ref_count) VALUES ($1, $2, 1)
		 ON CONFLICT (consumer_collection_id, file_id) DO UPDATE SET ref_count = file_dependency.ref_count + 1`,
		consumerCollectionId, fileId)
	return errors.WithStack(err)
}

func (t *postgresTxn) DecrementDependency(ctx context.Context, consumerCollectionId string, fileId string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE file_dependency SET ref_count = GREATEST(ref_count - 1, 0)
		 WHERE consumer_collection_id = $1 AND file_id = $2`,
		consumerCollectionId, fileId)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = t.tx.Exec(ctx,
		`DELETE FROM file_dependency WHERE consumer_collection_id = $1 AND file_id = $2 AND ref_count = 0`,
		consumerCollectionId, fileId)
	return errors.WithStack(err)
}

func (t *postgresTxn) ListDependencies(ctx context.Context, fileId string) ([]*Dependency, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT consumer_collection_id, file_id, ref_count FROM file_dependency WHERE file_id = $1
		 ORDER BY consumer_collection_id`, fileId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var dependencies []*Dependency
	for rows.Next() {
		dependency := &Dependency{}
		if err := rows.Scan(&dependency.ConsumerCollectionId, &dependency.FileId, &dependency.RefCount); err != nil {
			return nil, errors.WithStack(err)
		}
		dependencies = append(dependencies, dependency)
	}
	return dependencies, errors.WithStack(rows.Err())
}
