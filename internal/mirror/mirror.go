// Package mirror implements the optional, advisory remote mirror: after a
// TransferItem is verified on disk, best-effort replicate it to a cloud
// object store. Mirror failures never affect dedup or atomicity; they are
// logged and recorded on the item, nothing more.
package mirror

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"phototransfer/internal/model"
)

// ErrMirror tags every mirror failure so callers can classify it; mirror
// failures are logged and recorded on the item, never propagated into the
// item's transfer status.
var ErrMirror = errors.New("mirror failure")

// Uploader is what the Transfer Queue calls after an item reaches
// StatusCompleted with a verified local hash.
type Uploader interface {
	Mirror(ctx context.Context, it model.TransferItem) error
}

// GCSUploader streams a completed transfer's local file to a GCS bucket
// and verifies the remote object's size and CRC32C against a local
// recomputation before reporting success.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewClient opens a storage.Client, using a service-account JSON file if
// credsJSON is set, falling back to Application Default Credentials.
func NewClient(ctx context.Context, credsJSON string) (*storage.Client, error) {
	if credsJSON != "" {
		return storage.NewClient(ctx, option.WithCredentialsFile(credsJSON))
	}
	return storage.NewClient(ctx)
}

func NewGCSUploader(client *storage.Client, bucket, prefix string) *GCSUploader {
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix}
}

// ObjectName places the object under <prefix>/<device-source>/<hash>.bin so
// repeated mirrors of identical content collapse to the same object.
func (u *GCSUploader) ObjectName(it model.TransferItem) string {
	return fmt.Sprintf("%s/%s/%s.bin", u.prefix, it.Media.Source, it.Hash)
}

func (u *GCSUploader) Mirror(ctx context.Context, it model.TransferItem) error {
	file, err := os.Open(it.LocalPath)
	if err != nil {
		return errors.Wrapf(ErrMirror, "open local file: %v", err)
	}
	defer file.Close()

	crc := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	if _, err := io.Copy(crc, file); err != nil {
		return errors.Wrapf(ErrMirror, "checksum local file: %v", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return errors.Wrapf(ErrMirror, "rewind local file: %v", err)
	}

	objName := u.ObjectName(it)
	obj := u.client.Bucket(u.bucket).Object(objName)

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{
		"device_path": it.Media.DevicePath,
		"local_path":  it.LocalPath,
		"sha256":      it.Hash,
	}

	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return errors.Wrapf(ErrMirror, "upload %s: %v", objName, err)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(ErrMirror, "close writer: %v", err)
	}

	var attrs *storage.ObjectAttrs
	for i := 0; i < 3; i++ {
		attrs, err = obj.Attrs(ctx)
		if err == nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err != nil {
		return errors.Wrapf(ErrMirror, "fetch attrs for %s: %v", objName, err)
	}

	if uint64(attrs.Size) != it.Media.Size {
		return errors.Wrapf(ErrMirror, "size mismatch local=%d remote=%d", it.Media.Size, attrs.Size)
	}
	if attrs.CRC32C != crc.Sum32() {
		return errors.Wrapf(ErrMirror, "crc32c mismatch local=%d remote=%d", crc.Sum32(), attrs.CRC32C)
	}

	return nil
}
