package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// chunkSummary is the per-chunk part of a dump summary.
type chunkSummary struct {
	info   models.ChunkInfo
	byType map[models.EventType]int
}

// summarize reads every chunk of src and counts records per event type.
func summarize(src recorder.Source) ([]chunkSummary, map[models.EventType]int, error) {
	chunks, err := src.Chunks()
	if err != nil {
		return nil, nil, err
	}

	total := make(map[models.EventType]int)
	out := make([]chunkSummary, 0, len(chunks))
	for _, c := range chunks {
		records, err := c.Records()
		if err != nil {
			return nil, nil, fmt.Errorf("reading chunk %d: %w", c.Info().Index, err)
		}
		cs := chunkSummary{info: c.Info(), byType: make(map[models.EventType]int)}
		for _, rec := range records {
			cs.byType[rec.Type]++
			total[rec.Type]++
		}
		out = append(out, cs)
	}
	return out, total, nil
}

func renderSummary(info models.RecordingInfo, chunks []chunkSummary, total map[models.EventType]int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(" %s (#%d) ", info.Name, info.ID)))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  %-12s %s\n", "State:", info.State))
	if len(info.Enabled) > 0 {
		names := make([]string, len(info.Enabled))
		for i, t := range info.Enabled {
			names[i] = string(t)
		}
		b.WriteString(fmt.Sprintf("  %-12s %s\n", "Enabled:", strings.Join(names, ", ")))
	}
	if !info.StartedAt.IsZero() && !info.StoppedAt.IsZero() {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", "Duration:", info.StoppedAt.Sub(info.StartedAt)))
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-6s %-10s %-8s %s", "CHUNK", "STATE", "RECORDS", "TYPES")))
	b.WriteString("\n")
	for _, c := range chunks {
		state := "open"
		if c.info.Sealed {
			state = "sealed"
		}
		line := fmt.Sprintf("  %-6d %-10s %-8d %s", c.info.Index, state, c.info.Records, formatTypeCounts(c.byType))
		b.WriteString(styleForChunk(c.info.Sealed).Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("  Totals"))
	b.WriteString("\n")
	records := 0
	for _, t := range sortedTypes(total) {
		b.WriteString(fmt.Sprintf("  %-20s %d\n", string(t)+":", total[t]))
		records += total[t]
	}
	b.WriteString(fmt.Sprintf("  %-20s %d\n", "records:", records))
	b.WriteString(fmt.Sprintf("  %-20s %d\n", "chunks:", len(chunks)))

	return b.String()
}

func formatTypeCounts(m map[models.EventType]int) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for _, t := range sortedTypes(m) {
		parts = append(parts, fmt.Sprintf("%s=%d", t, m[t]))
	}
	return strings.Join(parts, " ")
}

func sortedTypes(m map[models.EventType]int) []models.EventType {
	types := make([]models.EventType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

var summaryCmd = &cobra.Command{
	Use:   "summary <dump>",
	Short: "Summarize a dumped recording chunk by chunk",
	Long: `Show the chunks of a dumped recording with their state, record counts and
per-type counts, followed by totals. <dump> is a dump directory or a dump ID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := loadDump(args[0])
		if err != nil {
			return err
		}

		chunks, total, err := summarize(d)
		if err != nil {
			return fmt.Errorf("summarizing %s: %w", d.Dir, err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderSummary(d.Index.Recording, chunks, total))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
