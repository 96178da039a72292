// Package transferqueue implements the Transfer Queue: an ordered,
// crash-resumable work list driven to completion on the caller's
// goroutine, with pause/resume/cancel, per-item retry, dedup against the
// Persistent Index, and atomic verified writes.
package transferqueue

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"phototransfer/internal/device"
	"phototransfer/internal/index"
	"phototransfer/internal/mirror"
	"phototransfer/internal/model"
	"phototransfer/internal/pathutil"
	"phototransfer/internal/planner"
	"phototransfer/internal/queuestate"
)

// Options is the queue configuration surface.
type Options struct {
	MaxRetries        int           // default 3
	PausePollInterval time.Duration // default 100ms

	// SweepStaleParts removes *.part files older than 24h under the
	// destination root when Start begins.
	SweepStaleParts bool

	// DeleteFromDeviceAfterVerify deletes the source file from the device
	// after an item completes with a verified on-disk hash, when the
	// handler implements device.Writer. Off by default.
	DeleteFromDeviceAfterVerify bool
}

const stalePartAge = 24 * time.Hour

// Queue owns its item vector exclusively; the driver is the only mutator.
// External readers (Stats, Items, SaveState) take a short lock that never
// spans I/O.
type Queue struct {
	mu    sync.Mutex
	items []model.TransferItem

	destination string
	handler     device.Handler
	ix          *index.Index
	uploader    mirror.Uploader

	opts   Options
	logger *log.Logger

	running         atomic.Bool
	paused          atomic.Bool
	cancelRequested atomic.Bool

	startTime  time.Time
	startBytes uint64

	progressCB  func(model.TransferStats)
	completedCB func(model.TransferItem)
	failedCB    func(model.TransferItem)
}

// New builds an idle queue. Zero-valued option fields get their defaults.
func New(opts Options, logger *log.Logger) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.PausePollInterval <= 0 {
		opts.PausePollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{opts: opts, logger: logger}
}

func (q *Queue) SetDestination(dir string) { q.mu.Lock(); q.destination = dir; q.mu.Unlock() }
func (q *Queue) SetHandler(h device.Handler) { q.mu.Lock(); q.handler = h; q.mu.Unlock() }
func (q *Queue) SetIndex(ix *index.Index) { q.mu.Lock(); q.ix = ix; q.mu.Unlock() }
func (q *Queue) SetMirrorUploader(u mirror.Uploader) { q.mu.Lock(); q.uploader = u; q.mu.Unlock() }

func (q *Queue) SetMaxRetries(n int) {
	if n >= 0 {
		q.mu.Lock()
		q.opts.MaxRetries = n
		q.mu.Unlock()
	}
}

func (q *Queue) SetProgressCallback(cb func(model.TransferStats)) {
	q.mu.Lock()
	q.progressCB = cb
	q.mu.Unlock()
}

func (q *Queue) SetCompletedCallback(cb func(model.TransferItem)) {
	q.mu.Lock()
	q.completedCB = cb
	q.mu.Unlock()
}

func (q *Queue) SetFailedCallback(cb func(model.TransferItem)) {
	q.mu.Lock()
	q.failedCB = cb
	q.mu.Unlock()
}

// Add appends one media item in PENDING state.
func (q *Queue) Add(media model.MediaInfo) {
	q.mu.Lock()
	q.items = append(q.items, model.TransferItem{Media: media, Status: model.StatusPending})
	q.mu.Unlock()
}

// AddItems appends pre-built items (e.g. from the planner), preserving
// their order.
func (q *Queue) AddItems(items []model.TransferItem) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the item vector.
func (q *Queue) Items() []model.TransferItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.TransferItem, len(q.items))
	copy(out, q.items)
	return out
}

// HasIncomplete reports whether any item is PENDING or IN_PROGRESS.
func (q *Queue) HasIncomplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status == model.StatusPending || it.Status == model.StatusInProgress {
			return true
		}
	}
	return false
}

func (q *Queue) IsRunning() bool { return q.running.Load() }
func (q *Queue) IsPaused() bool  { return q.paused.Load() }

// Pause takes effect at the top of the next iteration; an in-flight
// transfer completes first.
func (q *Queue) Pause()  { q.paused.Store(true) }
func (q *Queue) Resume() { q.paused.Store(false) }

// Cancel requests the driver exit between items. The in-flight read/write
// is not interrupted; IsRunning becomes false once the driver returns.
func (q *Queue) Cancel() { q.cancelRequested.Store(true) }

// SaveState persists the full queue state to path in the recoverable text
// format. Items that never reached the driver get their destination path
// derived here, while the mtime it depends on is still at hand — the
// state format itself does not carry mtimes.
func (q *Queue) SaveState(path string) error {
	q.mu.Lock()
	st := queuestate.State{Destination: q.destination, Items: make([]model.TransferItem, len(q.items))}
	copy(st.Items, q.items)
	dest := q.destination
	q.mu.Unlock()

	for i := range st.Items {
		if st.Items[i].LocalPath == "" {
			st.Items[i].LocalPath = planner.LocalPathFor(dest, st.Items[i].Media)
			st.Items[i].TempPath = st.Items[i].LocalPath + ".part"
		}
	}

	if err := queuestate.Save(path, st, time.Now().Unix()); err != nil {
		return errors.Wrap(ErrStateIO, err.Error())
	}
	return nil
}

// LoadState replaces the queue's items and destination with the contents
// of path. A missing file yields an empty queue, not an error.
func (q *Queue) LoadState(path string) error {
	st, warnings, err := queuestate.Load(path)
	if err != nil {
		return errors.Wrap(ErrStateIO, err.Error())
	}
	for _, w := range warnings {
		q.logger.Warn("queue state", "file", path, "warning", w)
	}

	q.mu.Lock()
	q.items = st.Items
	if st.Destination != "" {
		q.destination = st.Destination
	}
	q.mu.Unlock()
	return nil
}

// Stats derives an immutable aggregate snapshot from the item list plus
// the driver's timing state.
func (q *Queue) Stats() model.TransferStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() model.TransferStats {
	var st model.TransferStats
	st.TotalItems = len(q.items)

	var remaining uint64
	for _, it := range q.items {
		st.TotalBytes += it.Media.Size
		switch it.Status {
		case model.StatusCompleted:
			st.Completed++
			st.TransferredBytes += it.Media.Size
		case model.StatusInProgress:
			st.InProgress++
			st.TransferredBytes += it.BytesTransferred
			remaining += it.Media.Size - min(it.BytesTransferred, it.Media.Size)
			st.CurrentFile = it.Media.Filename
		case model.StatusFailed:
			st.Failed++
		case model.StatusSkipped:
			st.Skipped++
		case model.StatusPending:
			st.Pending++
			remaining += it.Media.Size
		}
	}

	if !q.startTime.IsZero() {
		elapsed := time.Since(q.startTime).Seconds()
		if elapsed > 0 {
			st.TransferSpeed = float64(st.TransferredBytes-q.startBytes) / elapsed
		}
	}
	if st.TransferSpeed > 0 && remaining > 0 {
		st.ETASeconds = int(float64(remaining) / st.TransferSpeed)
	}
	return st
}

// Start drives the queue to completion on the calling goroutine,
// processing items in insertion order. Retries preserve position. It
// returns once every item is terminal, or early on cancellation.
func (q *Queue) Start(ctx context.Context) {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	defer q.running.Store(false)
	q.cancelRequested.Store(false)

	q.mu.Lock()
	q.startTime = time.Now()
	q.startBytes = q.statsLocked().TransferredBytes
	dest := q.destination
	q.mu.Unlock()

	if q.opts.SweepStaleParts && dest != "" {
		q.sweepStaleParts(dest)
	}

	for i := 0; i < q.Size(); i++ {
		if q.stopRequested(ctx) {
			break
		}

		// Busy-wait on the pause flag until cleared or cancelled.
		for q.paused.Load() {
			if q.stopRequested(ctx) {
				return
			}
			time.Sleep(q.opts.PausePollInterval)
		}
		if q.stopRequested(ctx) {
			break
		}

		q.mu.Lock()
		if q.items[i].Status != model.StatusPending {
			q.mu.Unlock()
			continue
		}
		q.items[i].Status = model.StatusInProgress
		it := q.items[i]
		q.mu.Unlock()
		q.notifyProgress()

		done, err := q.transferItem(ctx, it)

		if err == nil {
			if done.Status == model.StatusCompleted {
				q.afterCompleted(ctx, &done)
			}
			q.mu.Lock()
			q.items[i] = done
			cb := q.completedCB
			q.mu.Unlock()
			if done.Status == model.StatusCompleted && cb != nil {
				cb(done)
			}
			q.notifyProgress()
			continue
		}

		done.ErrorMessage = err.Error()
		q.mu.Lock()
		if done.RetryCount < q.opts.MaxRetries {
			done.RetryCount++
			done.Status = model.StatusPending
			done.BytesTransferred = 0
			q.items[i] = done
			q.mu.Unlock()
			q.logger.Warn("transfer retry",
				"file", done.Media.Filename, "attempt", done.RetryCount, "err", err)
			i-- // re-visit the same slot
		} else {
			done.Status = model.StatusFailed
			q.items[i] = done
			cb := q.failedCB
			q.mu.Unlock()
			q.logger.Error("transfer failed",
				"file", done.Media.Filename, "err", err)
			if cb != nil {
				cb(done)
			}
		}
		q.notifyProgress()
	}
}

func (q *Queue) stopRequested(ctx context.Context) bool {
	return q.cancelRequested.Load() || ctx.Err() != nil
}

func (q *Queue) notifyProgress() {
	q.mu.Lock()
	cb := q.progressCB
	st := q.statsLocked()
	q.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// afterCompleted runs the advisory post-verify side effects: remote
// mirroring and optional delete-from-device. Neither can fail the item.
func (q *Queue) afterCompleted(ctx context.Context, it *model.TransferItem) {
	q.mu.Lock()
	uploader := q.uploader
	handler := q.handler
	q.mu.Unlock()

	if uploader != nil {
		if err := uploader.Mirror(ctx, *it); err != nil {
			it.MirrorState = model.MirrorFailed
			q.logger.Warn("mirror failed", "file", it.Media.Filename, "err", err)
		} else {
			it.MirrorState = model.MirrorMirrored
		}
	}

	if q.opts.DeleteFromDeviceAfterVerify {
		if w, ok := handler.(device.Writer); ok {
			if err := w.Delete(it.Media.ObjectID); err != nil {
				q.logger.Warn("device delete failed", "file", it.Media.Filename, "err", err)
			}
		}
	}
}

// sweepStaleParts removes *.part leftovers older than stalePartAge from
// aborted earlier runs.
func (q *Queue) sweepStaleParts(dest string) {
	root := pathutil.ExpandHome(dest)
	cutoff := time.Now().Add(-stalePartAge)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			q.logger.Info("swept stale part file", "path", path)
		}
		return nil
	})
}
