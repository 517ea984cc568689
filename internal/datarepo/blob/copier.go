// Package blob copies the bytes of source files into storage locations.
package blob

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"hash/crc32"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/resource"
)

type Copier interface {
	// Copy writes the bytes of sourcePath into location under fileId. Copying again for the same fileId
	// replaces the earlier copy.
	Copy(ctx context.Context, sourcePath string, location *resource.Location, fileId string, targetPath string) (*filesystem.FileInfo, error)
}

const (
	fileScheme = "file"
	chunkSize  = 64 * 1024
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// LocalCopier copies files reachable through the local filesystem, optionally throttled to a byte rate.
type LocalCopier struct {
	limiter *rate.Limiter
	clock   clock.PassiveClock
}

// NewLocalCopier returns a copier limited to bytesPerSecond, or unlimited when bytesPerSecond is not positive.
func NewLocalCopier(bytesPerSecond int64, clock clock.PassiveClock) *LocalCopier {
	limiter := rate.NewLimiter(rate.Inf, chunkSize)
	if bytesPerSecond > 0 {
		burst := int(bytesPerSecond)
		if burst < chunkSize {
			burst = chunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
	return &LocalCopier{limiter: limiter, clock: clock}
}

func (c *LocalCopier) Copy(ctx context.Context, sourcePath string, location *resource.Location, fileId string, targetPath string) (*filesystem.FileInfo, error) {
	source, err := localPath(sourcePath)
	if err != nil {
		return nil, err
	}
	leaf := filesystem.LeafName(targetPath)
	if leaf == "" || fileId == "" {
		return nil, errors.WithStack(&datarepoerrors.ErrInvalidArgument{
			Name:    "targetPath",
			Value:   targetPath,
			Message: "a file id and a non-root target path are required",
		})
	}

	in, err := os.Open(source)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.WithStack(&datarepoerrors.ErrNotFound{Type: "source file", Value: sourcePath})
	}
	if err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}
	defer in.Close()

	destDir := filepath.Join(location.Uri, fileId)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}
	dest := filepath.Join(destDir, leaf)
	out, err := os.CreateTemp(destDir, "."+leaf+".*")
	if err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}
	defer os.Remove(out.Name())

	crc := crc32.New(castagnoli)
	sum := md5.New()
	size, err := c.copyThrottled(ctx, io.MultiWriter(out, crc, sum), in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		return nil, datarepoerrors.Retryable(errors.Wrapf(err, "copying %s", sourcePath))
	}
	if err := os.Rename(out.Name(), dest); err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}

	log.WithField("fileId", fileId).Debugf("Copied %d bytes from %s to %s", size, sourcePath, dest)
	return &filesystem.FileInfo{
		Checksums: filesystem.Checksums{
			Crc32c: crc32cHex(crc),
			Md5:    hex.EncodeToString(sum.Sum(nil)),
		},
		Size:            size,
		CreatedDate:     c.clock.Now().UTC(),
		StorageLocation: (&url.URL{Scheme: fileScheme, Path: dest}).String(),
	}, nil
}

func (c *LocalCopier) copyThrottled(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if err := c.limiter.WaitN(ctx, n); err != nil {
				return written, errors.WithStack(err)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, errors.WithStack(err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, errors.WithStack(readErr)
		}
	}
}

func crc32cHex(h hash.Hash32) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h.Sum32())
	return hex.EncodeToString(b)
}

// localPath accepts plain absolute paths and file:// URLs.
func localPath(sourcePath string) (string, error) {
	if strings.HasPrefix(sourcePath, "/") {
		return filepath.Clean(sourcePath), nil
	}
	u, err := url.Parse(sourcePath)
	if err != nil || u.Scheme != fileScheme || u.Path == "" {
		return "", errors.WithStack(&datarepoerrors.ErrInvalidArgument{
			Name:    "sourcePath",
			Value:   sourcePath,
			Message: "only absolute paths and file:// urls can be copied",
		})
	}
	return filepath.Clean(u.Path), nil
}
