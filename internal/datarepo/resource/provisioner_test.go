package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

var profile = BillingProfile{Id: "profile-1"}

func TestLocalProvisioner_GetOrCreateIsIdempotent(t *testing.T) {
	root := t.TempDir()
	fakeClock := clocktesting.NewFakeClock(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	provisioner := NewLocalProvisioner(root, fakeClock)

	first, err := provisioner.GetOrCreateLocation(context.Background(), "dataset", profile, "flight-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "profile-1", "dataset"), first.Uri)

	fakeClock.Step(time.Hour)
	second, err := provisioner.GetOrCreateLocation(context.Background(), "dataset", profile, "flight-2")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	metadata, err := readMetadata(filepath.Join(first.Uri, metadataFileName))
	require.NoError(t, err)
	assert.Equal(t, "flight-1", metadata.CreatedByFlight)
	assert.Equal(t, "flight-1", metadata.LastUpdatedByFlight)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), metadata.Updated)
}

func TestLocalProvisioner_UpdateLocationMetadata(t *testing.T) {
	root := t.TempDir()
	fakeClock := clocktesting.NewFakeClock(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	provisioner := NewLocalProvisioner(root, fakeClock)

	// Nothing to update yet.
	require.NoError(t, provisioner.UpdateLocationMetadata(context.Background(), "dataset", profile, "flight-0"))
	_, err := os.Stat(filepath.Join(root, "profile-1"))
	assert.True(t, os.IsNotExist(err))

	location, err := provisioner.GetOrCreateLocation(context.Background(), "dataset", profile, "flight-1")
	require.NoError(t, err)
	fakeClock.Step(time.Minute)
	require.NoError(t, provisioner.UpdateLocationMetadata(context.Background(), "dataset", profile, "flight-2"))

	metadata, err := readMetadata(filepath.Join(location.Uri, metadataFileName))
	require.NoError(t, err)
	assert.Equal(t, "flight-1", metadata.CreatedByFlight)
	assert.Equal(t, "flight-2", metadata.LastUpdatedByFlight)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 1, 0, 0, time.UTC), metadata.Updated)
	_, err = os.Stat(location.Uri)
	assert.NoError(t, err)
}

func TestLocalProvisioner_RejectsBadNames(t *testing.T) {
	tests := map[string]struct {
		collection string
		profile    BillingProfile
	}{
		"empty collection":  {collection: "", profile: profile},
		"nested collection": {collection: "a/b", profile: profile},
		"parent collection": {collection: "..", profile: profile},
		"empty profile":     {collection: "dataset", profile: BillingProfile{}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			provisioner := NewLocalProvisioner(t.TempDir(), clocktesting.NewFakeClock(time.Now()))
			_, err := provisioner.GetOrCreateLocation(context.Background(), tc.collection, tc.profile, "flight")
			var invalid *datarepoerrors.ErrInvalidArgument
			assert.True(t, errors.As(err, &invalid))
		})
	}
}

type countingProvisioner struct {
	calls   int
	updates int
}

func (p *countingProvisioner) GetOrCreateLocation(_ context.Context, collectionName string, profile BillingProfile, _ string) (*Location, error) {
	p.calls++
	return &Location{CollectionName: collectionName, ProfileId: profile.Id, Uri: "/" + profile.Id + "/" + collectionName}, nil
}

func (p *countingProvisioner) UpdateLocationMetadata(context.Context, string, BillingProfile, string) error {
	p.updates++
	return nil
}

func TestCachingProvisioner(t *testing.T) {
	delegate := &countingProvisioner{}
	provisioner, err := NewCachingProvisioner(delegate, 1)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		location, err := provisioner.GetOrCreateLocation(ctx, "a", profile, "flight")
		require.NoError(t, err)
		assert.Equal(t, "/profile-1/a", location.Uri)
	}
	assert.Equal(t, 1, delegate.calls)

	// "b" evicts "a" from a cache of size 1.
	_, err = provisioner.GetOrCreateLocation(ctx, "b", profile, "flight")
	require.NoError(t, err)
	_, err = provisioner.GetOrCreateLocation(ctx, "a", profile, "flight")
	require.NoError(t, err)
	assert.Equal(t, 3, delegate.calls)

	require.NoError(t, provisioner.UpdateLocationMetadata(ctx, "a", profile, "flight"))
	assert.Equal(t, 1, delegate.updates)
}

func TestCachingProvisioner_InvalidSize(t *testing.T) {
	_, err := NewCachingProvisioner(&countingProvisioner{}, 0)
	assert.Error(t, err)
}
