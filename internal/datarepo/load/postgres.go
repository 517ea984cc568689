package load

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
)

const seedBatchSize = 1000

var (
	dialect = goqu.Dialect("postgres")

	loadTable     = goqu.T("load")
	loadFileTable = goqu.T("load_file")

	col_loadId      = goqu.C("load_id")
	col_targetPath  = goqu.C("target_path")
	col_state       = goqu.C("state")
	col_serial      = goqu.C("serial")
	loadFileColumns = []interface{}{
		"load_id", "source_path", "target_path", "mime_type", "description", "state",
		"flight_id", "file_id", "checksum_crc32c", "checksum_md5", "size", "error",
	}
)

// PostgresLedger stores the ledger in the load and load_file tables.
type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) LockLoad(ctx context.Context, loadTag string, flightId string) (*Load, error) {
	load := &Load{}
	err := l.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO load (id, load_tag) VALUES ($1, $2) ON CONFLICT (load_tag) DO NOTHING`,
			uuid.New(), loadTag)
		if err != nil {
			return errors.WithStack(err)
		}
		err = tx.QueryRow(ctx,
			`SELECT id, load_tag, locked, locking_flight_id FROM load WHERE load_tag = $1 FOR UPDATE`,
			loadTag).Scan(&load.Id, &load.LoadTag, &load.Locked, &load.LockingFlightId)
		if err != nil {
			return errors.WithStack(err)
		}
		if load.Locked && load.LockingFlightId != flightId {
			return errors.WithStack(&datarepoerrors.ErrLoadLocked{LoadTag: loadTag, FlightId: load.LockingFlightId})
		}
		_, err = tx.Exec(ctx,
			`UPDATE load SET locked = true, locking_flight_id = $2 WHERE id = $1`, load.Id, flightId)
		load.Locked = true
		load.LockingFlightId = flightId
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, err
	}
	return load, nil
}

func (l *PostgresLedger) UnlockLoad(ctx context.Context, loadTag string, flightId string) error {
	_, err := l.db.Exec(ctx,
		`UPDATE load SET locked = false, locking_flight_id = '' WHERE load_tag = $1 AND locking_flight_id = $2`,
		loadTag, flightId)
	return errors.WithStack(err)
}

func (l *PostgresLedger) SeedBatch(ctx context.Context, loadId uuid.UUID, files []FileModel) error {
	if err := checkDistinctTargets(files); err != nil {
		return err
	}
	return l.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, batch := range util.Batch(files, seedBatchSize) {
			rows := make([]interface{}, 0, len(batch))
			for _, file := range batch {
				rows = append(rows, goqu.Record{
					"load_id":     loadId,
					"source_path": file.SourcePath,
					"target_path": file.TargetPath,
					"mime_type":   file.MimeType,
					"description": file.Description,
					"state":       string(NotTried),
				})
			}
			sql, args, err := dialect.Insert(loadFileTable).
				Rows(rows...).
				OnConflict(goqu.DoNothing()).
				Prepared(true).
				ToSQL()
			if err != nil {
				return errors.WithStack(err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (l *PostgresLedger) selectFiles(ctx context.Context, where exp.Expression, limit int) ([]*LoadFile, error) {
	ds := dialect.From(loadFileTable).
		Select(loadFileColumns...).
		Where(where).
		Order(col_serial.Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	files := []*LoadFile{}
	for rows.Next() {
		file := &LoadFile{}
		var state string
		err := rows.Scan(&file.LoadId, &file.SourcePath, &file.TargetPath, &file.MimeType, &file.Description, &state,
			&file.FlightId, &file.FileId, &file.Checksums.Crc32c, &file.Checksums.Md5, &file.Size, &file.Error)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		file.State = State(state)
		files = append(files, file)
	}
	return files, errors.WithStack(rows.Err())
}

func inState(loadId uuid.UUID, state State) exp.Expression {
	return goqu.And(col_loadId.Eq(loadId), col_state.Eq(string(state)))
}

func (l *PostgresLedger) ClaimCandidates(ctx context.Context, loadId uuid.UUID, n int) ([]*LoadFile, error) {
	if n <= 0 {
		return []*LoadFile{}, nil
	}
	return l.selectFiles(ctx, inState(loadId, NotTried), n)
}

func (l *PostgresLedger) FindCandidates(ctx context.Context, loadId uuid.UUID, n int) (*Candidates, error) {
	return findCandidates(ctx, l, loadId, n)
}

// transition applies record to the row at targetPath if it is currently in state from.
func (l *PostgresLedger) transition(ctx context.Context, loadId uuid.UUID, targetPath string, from State, record goqu.Record) error {
	sql, args, err := dialect.Update(loadFileTable).
		Set(record).
		Where(col_loadId.Eq(loadId), col_targetPath.Eq(targetPath), col_state.Eq(string(from))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	tag, err := l.db.Exec(ctx, sql, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return transitionConflict(loadId, targetPath, from)
	}
	return nil
}

func (l *PostgresLedger) MarkRunning(ctx context.Context, loadId uuid.UUID, targetPath string, flightId string) error {
	return l.transition(ctx, loadId, targetPath, NotTried, goqu.Record{
		"state":     string(Running),
		"flight_id": flightId,
	})
}

func (l *PostgresLedger) MarkNotTried(ctx context.Context, loadId uuid.UUID, targetPath string) error {
	return l.transition(ctx, loadId, targetPath, Running, goqu.Record{
		"state":     string(NotTried),
		"flight_id": "",
	})
}

func (l *PostgresLedger) MarkSucceeded(ctx context.Context, loadId uuid.UUID, targetPath string, fileId string, info *filesystem.FileInfo) error {
	record := goqu.Record{
		"state":   string(Succeeded),
		"file_id": fileId,
	}
	if info != nil {
		record["checksum_crc32c"] = info.Checksums.Crc32c
		record["checksum_md5"] = info.Checksums.Md5
		record["size"] = info.Size
	}
	return l.transition(ctx, loadId, targetPath, Running, record)
}

func (l *PostgresLedger) MarkFailed(ctx context.Context, loadId uuid.UUID, targetPath string, errorText string) error {
	return l.transition(ctx, loadId, targetPath, Running, goqu.Record{
		"state": string(Failed),
		"error": errorText,
	})
}

func (l *PostgresLedger) CountFailed(ctx context.Context, loadId uuid.UUID) (int, error) {
	var count int
	err := l.db.QueryRow(ctx,
		`SELECT count(*) FROM load_file WHERE load_id = $1 AND state = $2`,
		loadId, string(Failed)).Scan(&count)
	return count, errors.WithStack(err)
}

func (l *PostgresLedger) ListRunning(ctx context.Context, loadId uuid.UUID) ([]*LoadFile, error) {
	return l.selectFiles(ctx, inState(loadId, Running), 0)
}

func (l *PostgresLedger) Summary(ctx context.Context, loadId uuid.UUID) (*Summary, error) {
	sql, args, err := dialect.From(loadFileTable).
		Select(col_state, goqu.COUNT("*")).
		Where(col_loadId.Eq(loadId)).
		GroupBy(col_state).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	summary := &Summary{LoadId: loadId}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.WithStack(err)
		}
		summary.add(State(state), count)
	}
	return summary, errors.WithStack(rows.Err())
}

func (l *PostgresLedger) Results(ctx context.Context, loadId uuid.UUID) ([]*LoadFile, error) {
	return l.selectFiles(ctx, col_loadId.Eq(loadId), 0)
}
