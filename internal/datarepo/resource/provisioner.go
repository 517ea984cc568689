// Package resource resolves the storage location that holds the bytes of a collection's files.
package resource

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

// BillingProfile identifies who pays for a storage location.
type BillingProfile struct {
	Id string `json:"id"`
}

// Location is a storage location shared by every file of one collection under one billing profile.
type Location struct {
	CollectionName string `json:"collectionName"`
	ProfileId      string `json:"profileId"`
	// Uri is the base under which file data is written.
	Uri string `json:"uri"`
}

type Provisioner interface {
	// GetOrCreateLocation may be called any number of times for the same collection and profile.
	GetOrCreateLocation(ctx context.Context, collectionName string, profile BillingProfile, flightId string) (*Location, error)
	// UpdateLocationMetadata records that flightId last touched the location. It never deletes the location.
	UpdateLocationMetadata(ctx context.Context, collectionName string, profile BillingProfile, flightId string) error
}

const metadataFileName = ".location.json"

type locationMetadata struct {
	Location
	CreatedByFlight     string    `json:"createdByFlight"`
	LastUpdatedByFlight string    `json:"lastUpdatedByFlight"`
	Updated             time.Time `json:"updated"`
}

// LocalProvisioner keeps locations as directories <root>/<profileId>/<collectionName>.
type LocalProvisioner struct {
	root  string
	clock clock.PassiveClock
}

func NewLocalProvisioner(root string, clock clock.PassiveClock) *LocalProvisioner {
	return &LocalProvisioner{root: root, clock: clock}
}

func (p *LocalProvisioner) GetOrCreateLocation(_ context.Context, collectionName string, profile BillingProfile, flightId string) (*Location, error) {
	dir, err := p.locationDir(collectionName, profile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}

	location := &Location{CollectionName: collectionName, ProfileId: profile.Id, Uri: dir}
	metadataPath := filepath.Join(dir, metadataFileName)
	existing, err := readMetadata(metadataPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return location, nil
	}
	log.WithField("flightId", flightId).Infof("Created storage location %s", dir)
	metadata := &locationMetadata{
		Location:            *location,
		CreatedByFlight:     flightId,
		LastUpdatedByFlight: flightId,
		Updated:             p.clock.Now().UTC(),
	}
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return nil, err
	}
	return location, nil
}

func (p *LocalProvisioner) UpdateLocationMetadata(_ context.Context, collectionName string, profile BillingProfile, flightId string) error {
	dir, err := p.locationDir(collectionName, profile)
	if err != nil {
		return err
	}
	metadataPath := filepath.Join(dir, metadataFileName)
	metadata, err := readMetadata(metadataPath)
	if err != nil {
		return err
	}
	if metadata == nil {
		// Nothing was ever created for this collection.
		return nil
	}
	metadata.LastUpdatedByFlight = flightId
	metadata.Updated = p.clock.Now().UTC()
	return writeMetadata(metadataPath, metadata)
}

func (p *LocalProvisioner) locationDir(collectionName string, profile BillingProfile) (string, error) {
	if err := validateName("collectionName", collectionName); err != nil {
		return "", err
	}
	if err := validateName("profileId", profile.Id); err != nil {
		return "", err
	}
	return filepath.Join(p.root, profile.Id, collectionName), nil
}

func validateName(field string, value string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{
			Name:    field,
			Value:   value,
			Message: "must be a single non-empty path segment",
		})
	}
	return nil
}

func readMetadata(path string) (*locationMetadata, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}
	metadata := &locationMetadata{}
	if err := json.Unmarshal(data, metadata); err != nil {
		return nil, errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "unreadable location metadata " + path + ": " + err.Error()})
	}
	return metadata, nil
}

// writeMetadata replaces the metadata file atomically so that concurrent readers never see a partial file.
func writeMetadata(path string, metadata *locationMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), metadataFileName+".*")
	if err != nil {
		return datarepoerrors.Retryable(errors.WithStack(err))
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return datarepoerrors.Retryable(errors.WithStack(err))
	}
	if err := tmp.Close(); err != nil {
		return datarepoerrors.Retryable(errors.WithStack(err))
	}
	return datarepoerrors.Retryable(errors.WithStack(os.Rename(tmp.Name(), path)))
}
