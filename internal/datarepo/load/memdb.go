package load

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
)

const (
	loadsTable     = "loads"
	loadFilesTable = "loadFiles"

	idIndex    = "id"
	stateIndex = "state"
	loadIndex  = "load"
)

type loadFileRecord struct {
	LoadKey    string
	TargetPath string
	StateKey   string
	Serial     uint64
	File       LoadFile
}

func newLoadFileRecord(file LoadFile, serial uint64) *loadFileRecord {
	return &loadFileRecord{
		LoadKey:    file.LoadId.String(),
		TargetPath: file.TargetPath,
		StateKey:   string(file.State),
		Serial:     serial,
		File:       file,
	}
}

func ledgerSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			loadsTable: {
				Name: loadsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "LoadTag"},
					},
				},
			},
			loadFilesTable: {
				Name: loadFilesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "LoadKey"},
							&memdb.StringFieldIndex{Field: "TargetPath"},
						}},
					},
					stateIndex: {
						Name: stateIndex,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "LoadKey"},
							&memdb.StringFieldIndex{Field: "StateKey"},
						}},
					},
					loadIndex: {
						Name:    loadIndex,
						Indexer: &memdb.StringFieldIndex{Field: "LoadKey"},
					},
				},
			},
		},
	}
}

// MemDbLedger is an in-memory Ledger for single node deployments and tests.
type MemDbLedger struct {
	db *memdb.MemDB
	// Only touched inside write transactions, which go-memdb serializes.
	serial uint64
}

func NewMemDbLedger() (*MemDbLedger, error) {
	db, err := memdb.NewMemDB(ledgerSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemDbLedger{db: db}, nil
}

func (l *MemDbLedger) write(action func(txn *memdb.Txn) error) error {
	txn := l.db.Txn(true)
	defer txn.Abort()
	if err := action(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (l *MemDbLedger) LockLoad(_ context.Context, loadTag string, flightId string) (*Load, error) {
	var result Load
	err := l.write(func(txn *memdb.Txn) error {
		raw, err := txn.First(loadsTable, idIndex, loadTag)
		if err != nil {
			return errors.WithStack(err)
		}
		load := Load{Id: uuid.New(), LoadTag: loadTag}
		if raw != nil {
			load = *raw.(*Load)
			if load.Locked && load.LockingFlightId != flightId {
				return errors.WithStack(&datarepoerrors.ErrLoadLocked{LoadTag: loadTag, FlightId: load.LockingFlightId})
			}
		}
		load.Locked = true
		load.LockingFlightId = flightId
		result = load
		return errors.WithStack(txn.Insert(loadsTable, &load))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (l *MemDbLedger) UnlockLoad(_ context.Context, loadTag string, flightId string) error {
	return l.write(func(txn *memdb.Txn) error {
		raw, err := txn.First(loadsTable, idIndex, loadTag)
		if err != nil {
			return errors.WithStack(err)
		}
		if raw == nil {
			return nil
		}
		load := *raw.(*Load)
		if !load.Locked || load.LockingFlightId != flightId {
			return nil
		}
		load.Locked = false
		load.LockingFlightId = ""
		return errors.WithStack(txn.Insert(loadsTable, &load))
	})
}

func (l *MemDbLedger) SeedBatch(_ context.Context, loadId uuid.UUID, files []FileModel) error {
	if err := checkDistinctTargets(files); err != nil {
		return err
	}
	return l.write(func(txn *memdb.Txn) error {
		for _, file := range files {
			existing, err := txn.First(loadFilesTable, idIndex, loadId.String(), file.TargetPath)
			if err != nil {
				return errors.WithStack(err)
			}
			if existing != nil {
				continue
			}
			l.serial++
			record := newLoadFileRecord(LoadFile{
				LoadId:      loadId,
				SourcePath:  file.SourcePath,
				TargetPath:  file.TargetPath,
				MimeType:    file.MimeType,
				Description: file.Description,
				State:       NotTried,
			}, l.serial)
			if err := txn.Insert(loadFilesTable, record); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (l *MemDbLedger) query(index string, args ...interface{}) ([]*LoadFile, error) {
	txn := l.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(loadFilesTable, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var records []*loadFileRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(*loadFileRecord))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Serial < records[j].Serial })
	files := make([]*LoadFile, 0, len(records))
	for _, record := range records {
		file := record.File
		files = append(files, &file)
	}
	return files, nil
}

func (l *MemDbLedger) ClaimCandidates(_ context.Context, loadId uuid.UUID, n int) ([]*LoadFile, error) {
	files, err := l.query(stateIndex, loadId.String(), string(NotTried))
	if err != nil {
		return nil, err
	}
	if n < len(files) {
		files = files[:n]
	}
	return files, nil
}

func (l *MemDbLedger) FindCandidates(ctx context.Context, loadId uuid.UUID, n int) (*Candidates, error) {
	return findCandidates(ctx, l, loadId, n)
}

// transition moves the row at targetPath out of state from, rejecting rows found in any other state.
func (l *MemDbLedger) transition(loadId uuid.UUID, targetPath string, from State, update func(file *LoadFile)) error {
	return l.write(func(txn *memdb.Txn) error {
		raw, err := txn.First(loadFilesTable, idIndex, loadId.String(), targetPath)
		if err != nil {
			return errors.WithStack(err)
		}
		if raw == nil {
			return errors.WithStack(&datarepoerrors.ErrNotFound{Type: "load file", Value: targetPath})
		}
		existing := raw.(*loadFileRecord)
		if existing.File.State != from {
			return transitionConflict(loadId, targetPath, from)
		}
		file := existing.File
		update(&file)
		return errors.WithStack(txn.Insert(loadFilesTable, newLoadFileRecord(file, existing.Serial)))
	})
}

func (l *MemDbLedger) MarkRunning(_ context.Context, loadId uuid.UUID, targetPath string, flightId string) error {
	return l.transition(loadId, targetPath, NotTried, func(file *LoadFile) {
		file.State = Running
		file.FlightId = flightId
	})
}

func (l *MemDbLedger) MarkNotTried(_ context.Context, loadId uuid.UUID, targetPath string) error {
	return l.transition(loadId, targetPath, Running, func(file *LoadFile) {
		file.State = NotTried
		file.FlightId = ""
	})
}

func (l *MemDbLedger) MarkSucceeded(_ context.Context, loadId uuid.UUID, targetPath string, fileId string, info *filesystem.FileInfo) error {
	return l.transition(loadId, targetPath, Running, func(file *LoadFile) {
		file.State = Succeeded
		file.FileId = fileId
		if info != nil {
			file.Checksums = info.Checksums
			file.Size = info.Size
		}
	})
}

func (l *MemDbLedger) MarkFailed(_ context.Context, loadId uuid.UUID, targetPath string, errorText string) error {
	return l.transition(loadId, targetPath, Running, func(file *LoadFile) {
		file.State = Failed
		file.Error = errorText
	})
}

func (l *MemDbLedger) CountFailed(_ context.Context, loadId uuid.UUID) (int, error) {
	files, err := l.query(stateIndex, loadId.String(), string(Failed))
	return len(files), err
}

func (l *MemDbLedger) ListRunning(_ context.Context, loadId uuid.UUID) ([]*LoadFile, error) {
	return l.query(stateIndex, loadId.String(), string(Running))
}

func (l *MemDbLedger) Summary(_ context.Context, loadId uuid.UUID) (*Summary, error) {
	files, err := l.query(loadIndex, loadId.String())
	if err != nil {
		return nil, err
	}
	return Summarize(loadId, files), nil
}

func (l *MemDbLedger) Results(_ context.Context, loadId uuid.UUID) ([]*LoadFile, error) {
	return l.query(loadIndex, loadId.String())
}
