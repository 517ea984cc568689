package ingest

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
)

// ValidateBulkRequest reports every problem with req at once.
func ValidateBulkRequest(req *BulkLoadArrayRequest, filesMax int) error {
	var result *multierror.Error
	if req.CollectionId == "" {
		result = multierror.Append(result, errors.New("datasetId is required"))
	}
	if req.MaxFailedFileLoads < -1 {
		result = multierror.Append(result, errors.Errorf("maxFailedFileLoads must be -1 or greater, got %d", req.MaxFailedFileLoads))
	}
	if req.DriverWaitSeconds < 0 {
		result = multierror.Append(result, errors.Errorf("driverWaitSeconds must not be negative, got %d", req.DriverWaitSeconds))
	}
	if len(req.LoadArray) == 0 {
		result = multierror.Append(result, errors.New("loadArray must contain at least one file"))
	}
	if filesMax > 0 && len(req.LoadArray) > filesMax {
		result = multierror.Append(result, errors.Errorf(
			"maximum number of files in a bulk load array is %d; request array contains %d", filesMax, len(req.LoadArray)))
	}

	seen := map[string]bool{}
	for i, file := range req.LoadArray {
		if strings.TrimSpace(file.SourcePath) == "" {
			result = multierror.Append(result, errors.Errorf("file %d: sourcePath is required", i))
		}
		if err := filesystem.ValidatePath(file.TargetPath); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "file %d", i))
		} else if file.TargetPath == filesystem.RootPath {
			result = multierror.Append(result, errors.Errorf("file %d: targetPath must not be the root", i))
		}
		if seen[file.TargetPath] {
			result = multierror.Append(result, errors.Errorf("file %d: duplicate targetPath %s", i, file.TargetPath))
		}
		seen[file.TargetPath] = true
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{
			Name:    "loadArray",
			Value:   fmt.Sprintf("%d files", len(req.LoadArray)),
			Message: err.Error(),
		})
	}
	return nil
}
