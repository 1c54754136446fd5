package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

var (
	printType string
	printJSON bool
)

var printCmd = &cobra.Command{
	Use:   "print <dump>",
	Short: "Print the records of a dumped recording in order",
	Long: `Print every record of a dumped recording, chunk by chunk in the order the
records were appended. <dump> is a dump directory or a dump ID.

With --json each record is printed as one JSON object per line.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := loadDump(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		n := 0
		for rec, err := range recorder.Read(d) {
			if err != nil {
				return fmt.Errorf("reading %s: %w", d.Dir, err)
			}
			if printType != "" && rec.Type != models.EventType(printType) {
				continue
			}
			n++
			if printJSON {
				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("encoding record #%d: %w", rec.Seq, err)
				}
				continue
			}
			fmt.Fprintln(out, rec.String())
		}

		if n == 0 {
			return recorder.ErrEmptyResult
		}
		return nil
	},
}

func init() {
	printCmd.Flags().StringVar(&printType, "type", "", "Only print records of this event type")
	printCmd.Flags().BoolVar(&printJSON, "json", false, "Print records as JSON Lines")
	rootCmd.AddCommand(printCmd)
}
