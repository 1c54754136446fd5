package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/internal/observability"
)

var (
	eventsType   string
	eventsPrefix string
	eventsSince  string
	eventsLimit  int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the recorder's lifecycle event log",
	Long: `Show lifecycle events (recording.*, chunk.rotated, class.unloaded,
check.finished) from the event log, oldest first.

Filter with --type for an exact type or --prefix for a namespace such as
"recording.".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if EventLog == nil {
			return fmt.Errorf("event log not initialized (observability may be disabled)")
		}

		since, err := parseSinceDuration(eventsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		events, err := EventLog.Read(observability.EventFilter{
			Since:  &since,
			Type:   eventsType,
			Prefix: eventsPrefix,
		})
		if err != nil {
			return fmt.Errorf("reading event log: %w", err)
		}
		if eventsLimit > 0 && len(events) > eventsLimit {
			events = events[len(events)-eventsLimit:]
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No events.")
			return nil
		}
		for _, e := range events {
			fmt.Fprintf(out, "%s %-5s %-18s %s\n", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Type, formatEventData(e.Data))
		}
		return nil
	},
}

func formatEventData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := data[k].(type) {
		case string:
			v = val
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				v = fmt.Sprint(val)
			} else {
				v = string(raw)
			}
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func init() {
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only show events of this type")
	eventsCmd.Flags().StringVar(&eventsPrefix, "prefix", "", "Only show events whose type starts with this prefix")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "7d", "Time window (e.g. 7d, 24h)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Show at most this many of the newest events")
	rootCmd.AddCommand(eventsCmd)
}
