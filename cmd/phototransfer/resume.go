package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted transfer from the saved queue state",
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

		q := newQueue(runLog, handler, ix)
		if err := q.LoadState(statePath()); err != nil {
			return err
		}
		if q.Size() == 0 {
			runLog.Info("no saved queue state", "path", statePath())
			return nil
		}
		if !q.HasIncomplete() {
			runLog.Info("saved queue has no incomplete items")
			return nil
		}
		runLog.Info("resuming", "items", q.Size())

		return driveQueue(ctx, runLog, q, ix)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
