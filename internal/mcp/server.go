// Package mcp provides an MCP (Model Context Protocol) server that exposes
// dumped recordings, the finalizer check, and lifecycle metrics as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/flight-recorder/internal/observability"
	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/internal/storage"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// defaultReadLimit caps the records returned by read_dump when no limit is given.
const defaultReadLimit = 500

// FinalizerChecker runs the finalizer check.
type FinalizerChecker interface {
	Run(ctx context.Context, dump bool) (*models.FinalizerReport, error)
}

// Server wraps the recorder services and exposes them as MCP tools.
type Server struct {
	server      *gomcp.Server
	dumps       storage.DumpStoreManager
	checker     FinalizerChecker
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server. Any dependency may be nil; the tools
// that need it then return an error result.
func NewServer(dumps storage.DumpStoreManager, checker FinalizerChecker, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		dumps:       dumps,
		checker:     checker,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "rec", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type listDumpsInput struct{}

type dumpOutput struct {
	DumpID    string `json:"dump_id"`
	Dir       string `json:"dir"`
	Recording string `json:"recording"`
	State     string `json:"state"`
	Chunks    int    `json:"chunks"`
	Records   int    `json:"records"`
	DumpedAt  string `json:"dumped_at"`
}

type listDumpsOutput struct {
	Dumps []dumpOutput `json:"dumps"`
	Count int          `json:"count"`
}

type readDumpInput struct {
	Dump  string `json:"dump" jsonschema:"required,dump directory or dump ID as listed by list_dumps"`
	Type  string `json:"type,omitempty" jsonschema:"only return records of this event type (e.g. Finalizer)"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of records to return. Defaults to 500."`
}

type chunkOutput struct {
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Sealed  bool   `json:"sealed"`
	Records int    `json:"records"`
	Start   string `json:"start"`
	End     string `json:"end,omitempty"`
}

type recordOutput struct {
	Seq    uint64            `json:"seq"`
	Type   string            `json:"type"`
	Time   string            `json:"time"`
	Chunk  int               `json:"chunk"`
	Fields map[string]string `json:"fields,omitempty"`
}

type readDumpOutput struct {
	Dump      dumpOutput     `json:"dump"`
	Chunks    []chunkOutput  `json:"chunks"`
	Records   []recordOutput `json:"records"`
	Count     int            `json:"count"`
	Truncated bool           `json:"truncated"`
}

type runCheckInput struct {
	Dump bool `json:"dump,omitempty" jsonschema:"write both recordings to the dump directory after the check"`
}

type recordingCheckOutput struct {
	ID      uint64   `json:"id"`
	Name    string   `json:"name"`
	Chunks  int      `json:"chunks"`
	Records int      `json:"records"`
	Found   []string `json:"found"`
	Missing []string `json:"missing,omitempty"`
	DumpDir string   `json:"dump_dir,omitempty"`
}

type runCheckOutput struct {
	Passed     bool                   `json:"passed"`
	Unloaded   int                    `json:"unloaded"`
	Duration   string                 `json:"duration"`
	Recordings []recordingCheckOutput `json:"recordings"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	RecordingsCreated int            `json:"recordings_created"`
	RecordingsStarted int            `json:"recordings_started"`
	RecordingsStopped int            `json:"recordings_stopped"`
	RecordingsClosed  int            `json:"recordings_closed"`
	ChunksRotated     int            `json:"chunks_rotated"`
	RecordsSealed     int            `json:"records_sealed"`
	RotationsByReason map[string]int `json:"rotations_by_reason"`
	Dumps             int            `json:"dumps"`
	ChecksRun         int            `json:"checks_run"`
	ChecksFailed      int            `json:"checks_failed"`
	EventCount        int            `json:"event_count"`
	OldestEvent       string         `json:"oldest_event,omitempty"`
	NewestEvent       string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_dumps",
		Description: "List dumped recordings, newest first, with their chunk and record counts.",
	}, s.handleListDumps)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "read_dump",
		Description: "Read the records of a dumped recording in chronological order, with its chunk layout.",
	}, s.handleReadDump)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "run_finalizer_check",
		Description: "Run the finalizer check: two overlapping recordings must both see Finalizer events for a loaded and an unloaded class.",
	}, s.handleRunCheck)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the recorder lifecycle log: recordings, chunk rotations, dumps and checks.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (recordings running too long, stopped but not closed, failed finalizer check).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListDumps(_ context.Context, _ *gomcp.CallToolRequest, _ listDumpsInput) (*gomcp.CallToolResult, listDumpsOutput, error) {
	if s.dumps == nil {
		return errorResult("dump store not available"), listDumpsOutput{}, nil
	}

	dumps, err := s.dumps.List()
	if err != nil {
		return errorResult(fmt.Sprintf("listing dumps: %s", err)), listDumpsOutput{}, nil
	}

	out := listDumpsOutput{
		Dumps: make([]dumpOutput, len(dumps)),
		Count: len(dumps),
	}
	for i, d := range dumps {
		out.Dumps[i] = dumpToOutput(d)
	}
	return nil, out, nil
}

func (s *Server) handleReadDump(_ context.Context, _ *gomcp.CallToolRequest, input readDumpInput) (*gomcp.CallToolResult, readDumpOutput, error) {
	if s.dumps == nil {
		return errorResult("dump store not available"), readDumpOutput{}, nil
	}
	if input.Dump == "" {
		return errorResult("dump is required"), readDumpOutput{}, nil
	}

	d, err := s.dumps.Load(input.Dump)
	if err != nil {
		return errorResult(fmt.Sprintf("loading dump: %s", err)), readDumpOutput{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	out := readDumpOutput{
		Dump:    dumpToOutput(d),
		Chunks:  make([]chunkOutput, len(d.Index.Chunks)),
		Records: []recordOutput{},
	}
	for i, ci := range d.Index.Chunks {
		out.Chunks[i] = chunkToOutput(ci)
	}

	chunks, err := d.Chunks()
	if err != nil {
		return errorResult(fmt.Sprintf("reading dump: %s", err)), readDumpOutput{}, nil
	}
	for _, c := range chunks {
		records, err := c.Records()
		if err != nil {
			return errorResult(fmt.Sprintf("reading chunk %d: %s", c.Info().Index, err)), readDumpOutput{}, nil
		}
		for _, rec := range records {
			if input.Type != "" && string(rec.Type) != input.Type {
				continue
			}
			if len(out.Records) == limit {
				out.Truncated = true
				break
			}
			out.Records = append(out.Records, recordToOutput(rec, c.Info().Index))
		}
		if out.Truncated {
			break
		}
	}
	out.Count = len(out.Records)

	if out.Count == 0 && !out.Truncated {
		return errorResult(recorder.ErrEmptyResult.Error()), readDumpOutput{}, nil
	}
	return nil, out, nil
}

func (s *Server) handleRunCheck(ctx context.Context, _ *gomcp.CallToolRequest, input runCheckInput) (*gomcp.CallToolResult, runCheckOutput, error) {
	if s.checker == nil {
		return errorResult("finalizer check not available"), runCheckOutput{}, nil
	}

	report, err := s.checker.Run(ctx, input.Dump)
	if report == nil {
		return errorResult(fmt.Sprintf("running finalizer check: %s", err)), runCheckOutput{}, nil
	}

	out := runCheckOutput{
		Passed:     report.Passed,
		Unloaded:   report.Unloaded,
		Duration:   report.FinishedAt.Sub(report.StartedAt).String(),
		Recordings: make([]recordingCheckOutput, len(report.Recordings)),
	}
	for i, rc := range report.Recordings {
		out.Recordings[i] = recordingCheckOutput{
			ID:      rc.ID,
			Name:    rc.Name,
			Chunks:  rc.Chunks,
			Records: rc.Records,
			Found:   rc.Found,
			Missing: rc.Missing,
			DumpDir: rc.DumpDir,
		}
	}

	if err != nil {
		return errorResult(fmt.Sprintf("finalizer check failed: %s", err)), out, nil
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		RecordingsCreated: metrics.RecordingsCreated,
		RecordingsStarted: metrics.RecordingsStarted,
		RecordingsStopped: metrics.RecordingsStopped,
		RecordingsClosed:  metrics.RecordingsClosed,
		ChunksRotated:     metrics.ChunksRotated,
		RecordsSealed:     metrics.RecordsSealed,
		RotationsByReason: metrics.RotationsByReason,
		Dumps:             metrics.Dumps,
		ChecksRun:         metrics.ChecksRun,
		ChecksFailed:      metrics.ChecksFailed,
		EventCount:        metrics.EventCount,
	}
	if out.RotationsByReason == nil {
		out.RotationsByReason = make(map[string]int)
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func dumpToOutput(d *storage.Dump) dumpOutput {
	records := 0
	for _, c := range d.Index.Chunks {
		records += c.Records
	}
	return dumpOutput{
		DumpID:    d.Index.DumpID,
		Dir:       filepath.ToSlash(d.Dir),
		Recording: d.Index.Recording.Name,
		State:     string(d.Index.Recording.State),
		Chunks:    len(d.Index.Chunks),
		Records:   records,
		DumpedAt:  d.Index.DumpedAt.Format(time.RFC3339),
	}
}

func chunkToOutput(ci models.ChunkInfo) chunkOutput {
	out := chunkOutput{
		Index:   ci.Index,
		ID:      ci.ID,
		Sealed:  ci.Sealed,
		Records: ci.Records,
		Start:   ci.Start.Format(time.RFC3339Nano),
	}
	if !ci.End.IsZero() {
		out.End = ci.End.Format(time.RFC3339Nano)
	}
	return out
}

func recordToOutput(rec models.EventRecord, chunk int) recordOutput {
	out := recordOutput{
		Seq:   rec.Seq,
		Type:  string(rec.Type),
		Time:  rec.Time.Format(time.RFC3339Nano),
		Chunk: chunk,
	}
	if len(rec.Fields) > 0 {
		out.Fields = make(map[string]string, len(rec.Fields))
		for k, v := range rec.Fields {
			out.Fields[k] = v.String()
		}
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		RotationsByReason: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
