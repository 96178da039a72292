package transferqueue

import (
	"github.com/pkg/errors"

	"phototransfer/internal/mirror"
)

// Sentinel failure kinds. Per-item failures wrap one of these with
// call-site context via github.com/pkg/errors, so an item's ErrorMessage
// keeps the annotated chain while Classify still recovers the kind.
var (
	ErrNotConnected   = errors.New("device handler not connected")
	ErrDeviceRead     = errors.New("device read failed")
	ErrHashMismatch   = errors.New("post-write hash mismatch")
	ErrSizeMismatch   = errors.New("post-write size mismatch")
	ErrWriteFailed    = errors.New("temp file write failed")
	ErrFinalizeFailed = errors.New("finalize rename failed")
	ErrIndexError     = errors.New("index failure")
	ErrStateIO        = errors.New("queue state io failure")
)

// Classify returns the sentinel kind underneath err, or nil if err does
// not wrap one.
func Classify(err error) error {
	for _, kind := range []error{
		ErrNotConnected,
		ErrDeviceRead,
		ErrHashMismatch,
		ErrSizeMismatch,
		ErrWriteFailed,
		ErrFinalizeFailed,
		ErrIndexError,
		ErrStateIO,
		mirror.ErrMirror,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
