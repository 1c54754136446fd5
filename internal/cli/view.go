package cli

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

type viewChunk struct {
	info    models.ChunkInfo
	records []models.EventRecord
}

type viewerModel struct {
	src   recorder.Source
	title string

	activeChunk int
	offset      int
	width       int
	height      int

	chunks  []viewChunk
	loading bool
	err     error
}

// chunksLoadedMsg carries loaded chunks back to the model.
type chunksLoadedMsg struct {
	chunks []viewChunk
	err    error
}

func newViewerModel(title string, src recorder.Source) viewerModel {
	return viewerModel{
		src:     src,
		title:   title,
		loading: true,
	}
}

func (m viewerModel) Init() tea.Cmd {
	return loadChunks(m.src)
}

func loadChunks(src recorder.Source) tea.Cmd {
	return func() tea.Msg {
		views, err := src.Chunks()
		if err != nil {
			return chunksLoadedMsg{err: err}
		}
		chunks := make([]viewChunk, 0, len(views))
		for _, v := range views {
			records, err := v.Records()
			if err != nil {
				return chunksLoadedMsg{err: fmt.Errorf("reading chunk %d: %w", v.Info().Index, err)}
			}
			chunks = append(chunks, viewChunk{info: v.Info(), records: records})
		}
		return chunksLoadedMsg{chunks: chunks}
	}
}

func (m viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			if len(m.chunks) > 0 {
				m.activeChunk = (m.activeChunk + 1) % len(m.chunks)
				m.offset = 0
			}
			return m, nil
		case "shift+tab", "left", "h":
			if len(m.chunks) > 0 {
				m.activeChunk = (m.activeChunk - 1 + len(m.chunks)) % len(m.chunks)
				m.offset = 0
			}
			return m, nil
		case "down", "j":
			if m.offset < m.maxOffset() {
				m.offset++
			}
			return m, nil
		case "up", "k":
			if m.offset > 0 {
				m.offset--
			}
			return m, nil
		case "r":
			m.loading = true
			return m, loadChunks(m.src)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case chunksLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.chunks = msg.chunks
		if m.activeChunk >= len(m.chunks) {
			m.activeChunk = 0
		}
		m.offset = 0
		m.err = nil
		return m, nil
	}

	return m, nil
}

// visibleRows is how many records fit below the title, tabs and help line.
func (m viewerModel) visibleRows() int {
	rows := m.height - 10
	if rows < 3 {
		rows = 3
	}
	return rows
}

func (m viewerModel) maxOffset() int {
	if len(m.chunks) == 0 {
		return 0
	}
	n := len(m.chunks[m.activeChunk].records) - m.visibleRows()
	if n < 0 {
		return 0
	}
	return n
}

func (m viewerModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" " + m.title + " ")
	help := helpStyle.Render("tab/←→: switch chunk | ↑↓: scroll | r: reload | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading chunks...\n\n%s", title, help)
	}
	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}
	if len(m.chunks) == 0 {
		return fmt.Sprintf("%s\n\n  No chunks recorded.\n\n%s", title, help)
	}

	tabs := make([]string, len(m.chunks))
	for i, c := range m.chunks {
		label := styleForChunk(c.info.Sealed).Render(fmt.Sprintf("chunk %d (%d)", c.info.Index, c.info.Records))
		style := panelStyle
		if i == m.activeChunk {
			style = activePanelStyle
		}
		tabs[i] = style.Render(label)
	}
	tabRow := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	body := activePanelStyle.Width(width).Render(m.renderRecords())

	return fmt.Sprintf("%s\n\n%s\n%s\n%s", title, tabRow, body, help)
}

func (m viewerModel) renderRecords() string {
	c := m.chunks[m.activeChunk]

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Chunk %d  %s", c.info.Index, c.info.ID)))
	b.WriteString("\n")
	if !c.info.End.IsZero() {
		b.WriteString(fmt.Sprintf("%s .. %s\n", c.info.Start.Format("15:04:05.000"), c.info.End.Format("15:04:05.000")))
	}

	if len(c.records) == 0 {
		b.WriteString("\n  No records.")
		return b.String()
	}

	end := m.offset + m.visibleRows()
	if end > len(c.records) {
		end = len(c.records)
	}
	for _, rec := range c.records[m.offset:end] {
		line := fmt.Sprintf("  #%-6d %s %s", rec.Seq, rec.Time.Format("15:04:05.000"), rec.Type)
		for _, name := range fieldNames(rec) {
			v := rec.Fields[name]
			text := fmt.Sprintf(" %s=%s", name, v)
			if v.Kind == models.KindClass && v.Class != nil && v.Class.Unloaded {
				text = unloadedStyle.Render(text)
			}
			line += text
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if end < len(c.records) {
		b.WriteString(helpStyle.Render(fmt.Sprintf("  ... %d more", len(c.records)-end)))
	}
	return b.String()
}

func fieldNames(rec models.EventRecord) []string {
	names := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var viewCmd = &cobra.Command{
	Use:   "view <dump>",
	Short: "Browse a dumped recording chunk by chunk",
	Long: `Launch an interactive terminal browser over the chunks of a dumped recording.

Switch chunks with Tab or the arrow keys, scroll with up and down, quit with q.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := loadDump(args[0])
		if err != nil {
			return err
		}
		title := fmt.Sprintf("%s (#%d)", d.Index.Recording.Name, d.Index.Recording.ID)
		p := tea.NewProgram(newViewerModel(title, d), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
