package load

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/renstrom/shortuuid"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
)

// Ledger records the progress of every file of every load. State transitions are conditional: a row only
// moves out of the state the caller expects it to be in, and ErrConflict is returned otherwise.
type Ledger interface {
	// LockLoad takes the lock of loadTag for flightId, creating the load on first use. Locking again from the
	// same flight succeeds; another flight gets ErrLoadLocked.
	LockLoad(ctx context.Context, loadTag string, flightId string) (*Load, error)
	// UnlockLoad releases the lock if flightId holds it.
	UnlockLoad(ctx context.Context, loadTag string, flightId string) error
	// SeedBatch adds a not tried row per file. Files already in the load are left as they are. A target
	// listed twice in files is ErrInvalidArgument.
	SeedBatch(ctx context.Context, loadId uuid.UUID, files []FileModel) error
	// ClaimCandidates returns up to n not tried rows in insertion order.
	ClaimCandidates(ctx context.Context, loadId uuid.UUID, n int) ([]*LoadFile, error)
	FindCandidates(ctx context.Context, loadId uuid.UUID, n int) (*Candidates, error)
	MarkRunning(ctx context.Context, loadId uuid.UUID, targetPath string, flightId string) error
	MarkNotTried(ctx context.Context, loadId uuid.UUID, targetPath string) error
	MarkSucceeded(ctx context.Context, loadId uuid.UUID, targetPath string, fileId string, info *filesystem.FileInfo) error
	MarkFailed(ctx context.Context, loadId uuid.UUID, targetPath string, errorText string) error
	CountFailed(ctx context.Context, loadId uuid.UUID) (int, error)
	ListRunning(ctx context.Context, loadId uuid.UUID) ([]*LoadFile, error)
	Summary(ctx context.Context, loadId uuid.UUID) (*Summary, error)
	// Results returns every row of the load in insertion order.
	Results(ctx context.Context, loadId uuid.UUID) ([]*LoadFile, error)
}

const loadTagPrefix = "lt_"

// ComputeLoadTag returns loadTag, or a generated tag when it is blank.
func ComputeLoadTag(loadTag string) string {
	loadTag = strings.TrimSpace(loadTag)
	if loadTag != "" {
		return loadTag
	}
	return loadTagPrefix + shortuuid.New()
}

func checkDistinctTargets(files []FileModel) error {
	seen := make(map[string]bool, len(files))
	for _, file := range files {
		if seen[file.TargetPath] {
			return errors.WithStack(&datarepoerrors.ErrInvalidArgument{
				Name:    "targetPath",
				Value:   file.TargetPath,
				Message: "listed more than once",
			})
		}
		seen[file.TargetPath] = true
	}
	return nil
}

type candidateSource interface {
	ListRunning(ctx context.Context, loadId uuid.UUID) ([]*LoadFile, error)
	ClaimCandidates(ctx context.Context, loadId uuid.UUID, n int) ([]*LoadFile, error)
	CountFailed(ctx context.Context, loadId uuid.UUID) (int, error)
}

func findCandidates(ctx context.Context, source candidateSource, loadId uuid.UUID, n int) (*Candidates, error) {
	running, err := source.ListRunning(ctx, loadId)
	if err != nil {
		return nil, err
	}
	candidates := []*LoadFile{}
	if n > 0 {
		candidates, err = source.ClaimCandidates(ctx, loadId, n)
		if err != nil {
			return nil, err
		}
	}
	failed, err := source.CountFailed(ctx, loadId)
	if err != nil {
		return nil, err
	}
	return &Candidates{
		RunningLoads:   running,
		CandidateFiles: candidates,
		FailedLoads:    failed,
	}, nil
}

func transitionConflict(loadId uuid.UUID, targetPath string, from State) error {
	return errors.WithStack(&datarepoerrors.ErrConflict{
		Type:  "load file",
		Value: loadId.String() + ":" + targetPath + " not " + string(from),
	})
}
