package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"phototransfer/internal/planner"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show what a run would transfer, without transferring",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

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

		media, err := handler.Enumerate(ctx, "")
		if err != nil {
			return err
		}

		items, err := planner.Plan(media, ix, planner.Options{OnlyNew: cfg.OnlyNew})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSIZE\tMODIFIED\tDESTINATION")
		var total uint64
		for _, it := range items {
			total += it.Media.Size
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				it.Media.Filename,
				humanize.Bytes(it.Media.Size),
				time.Unix(int64(it.Media.MTime), 0).Format("2006-01-02 15:04"),
				planner.LocalPathFor(cfg.Destination, it.Media))
		}
		w.Flush()

		count, _ := ix.Count()
		fmt.Printf("\n%d items, %s to transfer (index holds %d files)\n",
			len(items), humanize.Bytes(total), count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
