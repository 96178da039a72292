// Package planner turns an enumerated media list plus the Persistent Index
// into the item list the Transfer Queue consumes, and derives each item's
// destination path.
package planner

import (
	"time"

	"phototransfer/internal/index"
	"phototransfer/internal/model"
	"phototransfer/internal/pathutil"
)

// Options controls planning.
type Options struct {
	// OnlyNew retains only items whose mtime is strictly newer than the
	// index's last-sync timestamp. With no recorded sync (timestamp 0)
	// everything is retained.
	OnlyNew bool
}

// LocalPathFor derives the final destination path for one media item:
// expand_home(destination)/YYYY/MM/basename(filename). Purely a function
// of its inputs.
func LocalPathFor(destination string, media model.MediaInfo) string {
	dest := pathutil.ExpandHome(destination)
	bucket := pathutil.DateBucket(media.MTime)
	return pathutil.Join(pathutil.Join(dest, bucket), pathutil.Basename(media.Filename))
}

// Plan filters media per opts and wraps the survivors as PENDING transfer
// items, in enumeration order. Destination paths are derived later by the
// queue driver, so a queue whose destination changes between planning and
// starting still lands files under the right root.
func Plan(media []model.MediaInfo, ix *index.Index, opts Options) ([]model.TransferItem, error) {
	var since uint64
	if opts.OnlyNew {
		ts, err := ix.LastSyncTime()
		if err != nil {
			return nil, err
		}
		since = ts
	}

	var items []model.TransferItem
	for _, m := range media {
		if since > 0 && m.MTime <= since {
			continue
		}
		items = append(items, model.TransferItem{
			Media:  m,
			Status: model.StatusPending,
		})
	}
	return items, nil
}

// MarkSynced records the current wall-clock second as the new last-sync
// marker. Called once after a queue run finishes.
func MarkSynced(ix *index.Index) error {
	return ix.SetLastSyncTime(uint64(time.Now().Unix()))
}
