package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

var (
	checkDump bool
	checkJSON bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run recorder self-checks",
}

var checkFinalizerCmd = &cobra.Command{
	Use:   "finalizer",
	Short: "Verify Finalizer events survive rotation and class unloading",
	Long: `Run two overlapping recordings against a fresh broker. A finalizer class is
loaded while only the first runs; the second start rotates the first. A
second finalizer class is then loaded through a loader that is released and
collected while both run. Both recordings must contain a Finalizer event for
both classes.

With --dump the two recordings are written to the dump directory and can be
inspected with 'rec print', 'rec summary' and 'rec view'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if FinalizerCheck == nil {
			return fmt.Errorf("finalizer check not initialized")
		}

		report, err := FinalizerCheck.Run(commandContext(cmd), checkDump)
		if report == nil {
			return fmt.Errorf("running finalizer check: %w", err)
		}

		out := cmd.OutOrStdout()
		if checkJSON {
			data, jerr := json.MarshalIndent(report, "", "  ")
			if jerr != nil {
				return fmt.Errorf("formatting report as JSON: %w", jerr)
			}
			fmt.Fprintln(out, string(data))
		} else {
			printFinalizerReport(out, report)
		}

		if err != nil {
			return fmt.Errorf("finalizer check: %w", err)
		}
		return nil
	},
}

func printFinalizerReport(w io.Writer, report *models.FinalizerReport) {
	status := "PASS"
	if !report.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(w, "Finalizer check: %s (%s)\n\n", status, report.FinishedAt.Sub(report.StartedAt))
	fmt.Fprintf(w, "  %-24s %d\n", "Classes unloaded:", report.Unloaded)

	for _, rc := range report.Recordings {
		fmt.Fprintf(w, "\n  %s (#%d)\n", rc.Name, rc.ID)
		fmt.Fprintf(w, "    %-22s %d\n", "Chunks:", rc.Chunks)
		fmt.Fprintf(w, "    %-22s %d\n", "Records:", rc.Records)
		if len(rc.Found) > 0 {
			fmt.Fprintf(w, "    %-22s %s\n", "Found:", strings.Join(rc.Found, ", "))
		}
		if len(rc.Missing) > 0 {
			fmt.Fprintf(w, "    %-22s %s\n", "Missing:", strings.Join(rc.Missing, ", "))
		}
		if rc.DumpDir != "" {
			fmt.Fprintf(w, "    %-22s %s\n", "Dump:", rc.DumpDir)
		}
	}
}

func init() {
	checkFinalizerCmd.Flags().BoolVar(&checkDump, "dump", false, "Dump both recordings after the check")
	checkFinalizerCmd.Flags().BoolVar(&checkJSON, "json", false, "Output the report as JSON")
	checkCmd.AddCommand(checkFinalizerCmd)
	rootCmd.AddCommand(checkCmd)
}
