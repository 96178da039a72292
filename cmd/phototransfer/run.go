package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"phototransfer/internal/device"
	"phototransfer/internal/index"
	"phototransfer/internal/mirror"
	"phototransfer/internal/model"
	"phototransfer/internal/planner"
	"phototransfer/internal/transferqueue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enumerate the device, plan, and transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		runLog := logger.With("run", uuid.NewString()[:8])

		ix, err := openIndex()
		if err != nil {
			return err
		}
		defer ix.Close()

		handler, err := newHandler(ctx)
		if err != nil {
			return err
		}
		defer handler.Disconnect()

		runLog.Info("device connected",
			"name", handler.DeviceName(), "type", handler.Type())
		if storages, err := handler.Storages(); err == nil {
			for _, s := range storages {
				runLog.Info("storage",
					"desc", s.Description,
					"free", humanize.Bytes(s.Free),
					"capacity", humanize.Bytes(s.Capacity))
			}
		}

		media, err := handler.Enumerate(ctx, "")
		if err != nil {
			return err
		}
		if len(media) == 0 {
			runLog.Warn("device enumerated zero media items")
			return nil
		}

		items, err := planner.Plan(media, ix, planner.Options{OnlyNew: cfg.OnlyNew})
		if err != nil {
			return err
		}
		runLog.Info("planned", "enumerated", len(media), "queued", len(items))

		q := newQueue(runLog, handler, ix)
		q.AddItems(items)

		return driveQueue(ctx, runLog, q, ix)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func newQueue(runLog *log.Logger, handler device.Handler, ix *index.Index) *transferqueue.Queue {
	q := transferqueue.New(transferqueue.Options{
		MaxRetries:                  cfg.MaxRetries,
		PausePollInterval:           cfg.PausePollInterval,
		SweepStaleParts:             cfg.SweepStalePartFiles,
		DeleteFromDeviceAfterVerify: cfg.DeleteFromDeviceAfterVerify,
	}, runLog)
	q.SetDestination(cfg.Destination)
	q.SetHandler(handler)
	q.SetIndex(ix)

	if cfg.Bucket != "" {
		client, err := mirror.NewClient(context.Background(), cfg.CredsJSON)
		if err != nil {
			runLog.Warn("mirror disabled", "err", err)
		} else {
			q.SetMirrorUploader(mirror.NewGCSUploader(client, cfg.Bucket, cfg.ObjectPrefix))
		}
	}

	q.SetProgressCallback(func(st model.TransferStats) {
		printProgress(st)
	})
	q.SetCompletedCallback(func(it model.TransferItem) {
		runLog.Info("completed", "file", it.Media.Filename,
			"size", humanize.Bytes(it.Media.Size), "hash", it.Hash[:12])
	})
	q.SetFailedCallback(func(it model.TransferItem) {
		runLog.Error("failed", "file", it.Media.Filename, "err", it.ErrorMessage)
	})
	return q
}

// driveQueue runs the queue to completion on this goroutine, saves state
// if anything is left incomplete (cancellation mid-run), and advances the
// last-sync marker after a full pass.
func driveQueue(ctx context.Context, runLog *log.Logger, q *transferqueue.Queue, ix *index.Index) error {
	q.Start(ctx)
	fmt.Fprintln(os.Stderr)

	st := q.Stats()
	runLog.Info("queue finished",
		"completed", st.Completed,
		"skipped", st.Skipped,
		"failed", st.Failed,
		"bytes", humanize.Bytes(st.TransferredBytes))

	if q.HasIncomplete() {
		if err := q.SaveState(statePath()); err != nil {
			return err
		}
		runLog.Info("queue state saved for resume", "path", statePath())
		return nil
	}

	// Full pass: advance the only-new watermark and drop stale state.
	if err := planner.MarkSynced(ix); err != nil {
		runLog.Warn("could not record sync time", "err", err)
	}
	_ = os.Remove(statePath())
	return nil
}

func printProgress(st model.TransferStats) {
	if st.CurrentFile == "" {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%d/%d  %s  %s/s  eta %ds  %s        ",
		st.Completed+st.Skipped+st.Failed,
		st.TotalItems,
		humanize.Bytes(st.TransferredBytes),
		humanize.Bytes(uint64(st.TransferSpeed)),
		st.ETASeconds,
		st.CurrentFile)
}
