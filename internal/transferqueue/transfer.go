package transferqueue

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"phototransfer/internal/copyutil"
	"phototransfer/internal/hashutil"
	"phototransfer/internal/model"
	"phototransfer/internal/planner"
)

// transferItem runs the per-item routine against a copy of the item and
// returns the mutated copy. A nil error means the item is terminal at
// COMPLETED or SKIPPED; a non-nil error leaves retry handling to the
// driver.
func (q *Queue) transferItem(ctx context.Context, it model.TransferItem) (model.TransferItem, error) {
	q.mu.Lock()
	dest := q.destination
	handler := q.handler
	ix := q.ix
	q.mu.Unlock()

	// A loaded state file carries the derived path but not the mtime it
	// was derived from, so an already-assigned path is kept as-is.
	if it.LocalPath == "" {
		it.LocalPath = planner.LocalPathFor(dest, it.Media)
	}
	it.TempPath = it.LocalPath + ".part"

	if err := os.MkdirAll(filepath.Dir(it.LocalPath), 0o755); err != nil {
		return it, errors.Wrapf(ErrWriteFailed, "mkdir %s: %v", filepath.Dir(it.LocalPath), err)
	}

	// Dedup shortcut: a same-size file already at the destination means an
	// obvious repeat; skip without touching the device.
	if fi, err := os.Stat(it.LocalPath); err == nil && uint64(fi.Size()) == it.Media.Size {
		it.Status = model.StatusSkipped
		return it, nil
	}

	if handler == nil || !handler.IsConnected() {
		return it, errors.Wrapf(ErrNotConnected, "reading %s", it.Media.DevicePath)
	}

	buf, err := handler.Read(it.Media.ObjectID)
	if err != nil {
		return it, errors.Wrapf(ErrDeviceRead, "%s: %v (handler: %s)",
			it.Media.DevicePath, err, handler.LastError())
	}
	it.BytesTransferred = uint64(len(buf))
	it.Hash = hashutil.Bytes(buf)

	// Index dedup: presence is an advisory hint, so cross-check that the
	// recorded file still exists before skipping.
	if ix != nil {
		if skip := q.indexHasFile(it.Hash); skip {
			it.Status = model.StatusSkipped
			return it, nil
		}
	}

	if err := copyutil.WriteFileSync(it.TempPath, buf); err != nil {
		return it, errors.Wrapf(ErrWriteFailed, "%s: %v", it.TempPath, err)
	}

	diskHash, err := hashutil.File(it.TempPath)
	if err != nil {
		_ = os.Remove(it.TempPath)
		return it, errors.Wrapf(ErrHashMismatch, "rehash %s: %v", it.TempPath, err)
	}
	if diskHash != it.Hash {
		_ = os.Remove(it.TempPath)
		return it, errors.Wrapf(ErrHashMismatch, "%s: memory=%s disk=%s",
			it.Media.Filename, it.Hash, diskHash)
	}
	fi, err := os.Stat(it.TempPath)
	if err != nil {
		_ = os.Remove(it.TempPath)
		return it, errors.Wrapf(ErrSizeMismatch, "%s: stat temp: %v", it.Media.Filename, err)
	}
	if uint64(fi.Size()) != uint64(len(buf)) {
		_ = os.Remove(it.TempPath)
		return it, errors.Wrapf(ErrSizeMismatch, "%s: wrote %d want %d",
			it.Media.Filename, fi.Size(), len(buf))
	}

	if err := copyutil.FinalizeRename(it.TempPath, it.LocalPath); err != nil {
		return it, errors.Wrapf(ErrFinalizeFailed, "%s: %v", it.LocalPath, err)
	}

	// The file is durable on disk at this point; an index write failure is
	// logged and swallowed, the row will be re-learned on the next run.
	if ix != nil {
		if err := ix.Insert(it.Hash, it.Media.DevicePath, it.LocalPath, it.Media.Size, it.Media.MTime); err != nil {
			err = errors.Wrap(ErrIndexError, err.Error())
			q.logger.Warn("index upsert failed", "file", it.Media.Filename, "err", err)
		}
	}

	it.Status = model.StatusCompleted
	return it, nil
}

// indexHasFile reports whether the index knows hash and the recorded
// local path still names an existing file. Index errors degrade to "not
// present" so dedup never blocks a transfer.
func (q *Queue) indexHasFile(hash string) bool {
	q.mu.Lock()
	ix := q.ix
	q.mu.Unlock()

	ok, err := ix.Contains(hash)
	if err != nil {
		q.logger.Warn("index lookup failed", "hash", hash,
			"err", errors.Wrap(ErrIndexError, err.Error()))
		return false
	}
	if !ok {
		return false
	}
	p, err := ix.LocalPathOf(hash)
	if err != nil || p == "" {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
