package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/internal/storage"
)

var dumpsCmd = &cobra.Command{
	Use:   "dumps",
	Short: "List dumped recordings, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if DumpStore == nil {
			return fmt.Errorf("dump store not initialized")
		}

		dumps, err := DumpStore.List()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(dumps) == 0 {
			fmt.Fprintln(out, "No dumps found.")
			return nil
		}

		fmt.Fprintf(out, "%-38s %-24s %-7s %-8s %s\n", "DUMP", "RECORDING", "CHUNKS", "RECORDS", "DUMPED AT")
		for _, d := range dumps {
			records := 0
			for _, c := range d.Index.Chunks {
				records += c.Records
			}
			fmt.Fprintf(out, "%-38s %-24s %-7d %-8d %s\n",
				filepath.Base(d.Dir),
				d.Index.Recording.Name,
				len(d.Index.Chunks),
				records,
				d.Index.DumpedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

// loadDump resolves a dump argument, either a directory or a dump ID under
// the configured dump directory.
func loadDump(arg string) (*storage.Dump, error) {
	if DumpStore == nil {
		return nil, fmt.Errorf("dump store not initialized")
	}
	return DumpStore.Load(arg)
}

func init() {
	rootCmd.AddCommand(dumpsCmd)
}
