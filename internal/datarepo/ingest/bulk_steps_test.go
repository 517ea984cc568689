package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
)

func bulkContext(t *testing.T, ledger load.Ledger, seeded []load.FileModel, requested []load.FileModel) (*flight.Context, uuid.UUID) {
	ctx := context.Background()
	l, err := ledger.LockLoad(ctx, "tag", "bulk")
	require.NoError(t, err)
	require.NoError(t, ledger.SeedBatch(ctx, l.Id, seeded))

	inputs := flight.NewMap()
	require.NoError(t, inputs.Put(KeyRequest, BulkLoadArrayRequest{
		CollectionId:       collectionId,
		CollectionName:     "dataset",
		ProfileId:          "profile",
		LoadTag:            "tag",
		MaxFailedFileLoads: -1,
		LoadArray:          requested,
	}))
	fc := flight.NewContext("bulk", BulkFlightClass, inputs)
	require.NoError(t, fc.Working.Put(KeyLoadId, l.Id.String()))
	return fc, l.Id
}

func bulkResult(t *testing.T, fc *flight.Context) *BulkLoadArrayResult {
	result := &BulkLoadArrayResult{}
	found, err := fc.Working.Get(KeyBulkResult, result)
	require.NoError(t, err)
	require.True(t, found)
	return result
}

func TestBulkResultStep_UsesDriverSummary(t *testing.T) {
	ledger, err := load.NewMemDbLedger()
	require.NoError(t, err)
	files := []load.FileModel{filesystemFile("/a"), filesystemFile("/b")}
	fc, loadId := bulkContext(t, ledger, files, files)

	// As reported by the driver once every file has finished.
	driverSummary := &load.Summary{LoadId: loadId, LoadTag: "tag", TotalFiles: 2, SucceededFiles: 2}
	require.NoError(t, fc.Working.Put(KeyLoadSummary, driverSummary))

	require.NoError(t, (&BulkResultStep{ledger: ledger}).Do(context.Background(), fc))
	result := bulkResult(t, fc)
	assert.Equal(t, driverSummary, result.LoadSummary)
	assert.Len(t, result.LoadFileResults, 2)
}

func TestBulkResultStep_SummarizesOnlyRequestedFiles(t *testing.T) {
	ledger, err := load.NewMemDbLedger()
	require.NoError(t, err)
	earlier := []load.FileModel{filesystemFile("/a"), filesystemFile("/b"), filesystemFile("/c")}
	fc, loadId := bulkContext(t, ledger, earlier, earlier[1:])
	require.NoError(t, fc.Working.Put(KeyLoadSummary, &load.Summary{LoadId: loadId, LoadTag: "tag", TotalFiles: 3, NotTriedFiles: 3}))

	require.NoError(t, (&BulkResultStep{ledger: ledger}).Do(context.Background(), fc))
	result := bulkResult(t, fc)
	assert.Equal(t, &load.Summary{LoadId: loadId, LoadTag: "tag", TotalFiles: 2, NotTriedFiles: 2}, result.LoadSummary)
	targets := make([]string, 0, len(result.LoadFileResults))
	for _, r := range result.LoadFileResults {
		targets = append(targets, r.TargetPath)
	}
	assert.ElementsMatch(t, []string{"/b", "/c"}, targets)
}

func TestBulkResultStep_MissingDriverSummary(t *testing.T) {
	ledger, err := load.NewMemDbLedger()
	require.NoError(t, err)
	files := []load.FileModel{filesystemFile("/a")}
	fc, _ := bulkContext(t, ledger, files, files)

	err = (&BulkResultStep{ledger: ledger}).Do(context.Background(), fc)
	assert.True(t, datarepoerrors.IsCorrupt(err))
}
