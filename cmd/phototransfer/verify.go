package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"phototransfer/internal/hashutil"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash every indexed file and report stale records",
	Long: `verify walks the index rather than the destination tree: for each
record it checks that the recorded local file still exists, has the
recorded size, and re-hashes to the recorded SHA-256. Records that no
longer match are stale hints; the next run re-learns them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ix, err := openIndex()
		if err != nil {
			return err
		}
		defer ix.Close()

		records, err := ix.Records()
		if err != nil {
			return err
		}

		var ok, missing, altered int
		var okBytes uint64
		for _, r := range records {
			fi, err := os.Stat(r.LocalPath)
			if err != nil {
				missing++
				logger.Warn("missing", "path", r.LocalPath, "hash", r.Hash[:12])
				continue
			}
			if uint64(fi.Size()) != r.Size {
				altered++
				logger.Warn("size changed", "path", r.LocalPath,
					"want", r.Size, "got", fi.Size())
				continue
			}
			h, err := hashutil.File(r.LocalPath)
			if err != nil || h != r.Hash {
				altered++
				logger.Warn("hash changed", "path", r.LocalPath)
				continue
			}
			ok++
			okBytes += r.Size
		}

		fmt.Printf("%d records: %d verified (%s), %d missing, %d altered\n",
			len(records), ok, humanize.Bytes(okBytes), missing, altered)
		if missing+altered > 0 {
			return fmt.Errorf("%d stale index records", missing+altered)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
