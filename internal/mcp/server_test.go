package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/flight-recorder/internal/observability"
	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/internal/storage"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// --- Fakes ---

type fakeChecker struct {
	report *models.FinalizerReport
	err    error
	dumped bool
}

func (f *fakeChecker) Run(_ context.Context, dump bool) (*models.FinalizerReport, error) {
	f.dumped = dump
	return f.report, f.err
}

type fakeMetrics struct {
	metrics *observability.Metrics
	err     error
}

func (f *fakeMetrics) Calculate(_ time.Time) (*observability.Metrics, error) {
	return f.metrics, f.err
}

type fakeAlerts struct {
	alerts []observability.Alert
	err    error
}

func (f *fakeAlerts) Evaluate() ([]observability.Alert, error) {
	return f.alerts, f.err
}

// newTestDumps records a stopped recording holding the given number of
// Finalizer events plus one "Marker" event and dumps it.
func newTestDumps(t *testing.T, finalizers int) (storage.DumpStoreManager, *storage.Dump) {
	t.Helper()

	b := recorder.NewBroker()
	r := b.NewRecording("mcp-test")
	if err := r.Enable(models.EventFinalizer); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := r.Enable("Marker"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < finalizers; i++ {
		b.Emit(models.EventFinalizer, map[string]models.Value{
			models.FieldOverridingClass: models.ClassValue(models.ClassDescriptor{Name: "test.A", LoaderID: 1}),
		})
	}
	b.Emit("Marker", map[string]models.Value{"n": models.IntValue(7)})
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	store := storage.NewDumpStore(t.TempDir())
	d, err := store.Dump(r)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	return store, d
}

func sampleReport(passed bool) *models.FinalizerReport {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	report := &models.FinalizerReport{
		StartedAt:  start,
		FinishedAt: start.Add(20 * time.Millisecond),
		Unloaded:   1,
		Passed:     passed,
		Recordings: []models.RecordingCheck{
			{ID: 1, Name: "finalizer-check-1", Chunks: 3, Records: 5, Found: []string{"check.OverridingFinalize", "check.UnloadableOverridingFinalize"}},
			{ID: 2, Name: "finalizer-check-2", Chunks: 1, Records: 3, Found: []string{"check.OverridingFinalize", "check.UnloadableOverridingFinalize"}},
		},
	}
	if !passed {
		report.Recordings[1].Found = []string{"check.UnloadableOverridingFinalize"}
		report.Recordings[1].Missing = []string{"check.OverridingFinalize"}
	}
	return report
}

// --- Helpers ---

func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}

	return result
}

// callToolAllowError is like callTool but returns nil instead of failing when
// the call is rejected at the protocol level.
func callToolAllowError(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil
	}

	return result
}

// decodeOutput parses a tool's structured output, from the text content or
// the structured content.
func decodeOutput(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()

	text := extractText(result)
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return
	}
	if result.StructuredContent == nil {
		t.Fatalf("no structured output (text was: %s)", text)
	}
	data, _ := json.Marshal(result.StructuredContent)
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshalling output: %v (text was: %s)", err, text)
	}
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// --- Tests ---

func TestNewServer_DefaultVersion(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "")
	if srv.MCPServer() == nil {
		t.Fatal("expected underlying server")
	}
}

func TestListDumps(t *testing.T) {
	store, d := newTestDumps(t, 2)
	srv := NewServer(store, nil, nil, nil, "test")

	result := callTool(t, srv, "list_dumps", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out listDumpsOutput
	decodeOutput(t, result, &out)

	if out.Count != 1 {
		t.Fatalf("expected 1 dump, got %d", out.Count)
	}
	got := out.Dumps[0]
	if got.DumpID != d.Index.DumpID {
		t.Errorf("expected dump ID %s, got %s", d.Index.DumpID, got.DumpID)
	}
	if got.Recording != "mcp-test" {
		t.Errorf("expected recording mcp-test, got %s", got.Recording)
	}
	if got.State != "stopped" {
		t.Errorf("expected state stopped, got %s", got.State)
	}
	if got.Records != 3 {
		t.Errorf("expected 3 records, got %d", got.Records)
	}
}

func TestListDumps_NoStore(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "test")

	result := callTool(t, srv, "list_dumps", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result without a dump store")
	}
}

func TestReadDump(t *testing.T) {
	store, d := newTestDumps(t, 2)
	srv := NewServer(store, nil, nil, nil, "test")

	tests := []struct {
		name          string
		args          map[string]any
		wantCount     int
		wantTruncated bool
	}{
		{name: "all records", args: map[string]any{"dump": d.Dir}, wantCount: 3},
		{name: "by dump ID", args: map[string]any{"dump": d.Index.DumpID}, wantCount: 3},
		{name: "type filter", args: map[string]any{"dump": d.Dir, "type": "Finalizer"}, wantCount: 2},
		{name: "limit", args: map[string]any{"dump": d.Dir, "limit": 1}, wantCount: 1, wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, srv, "read_dump", tt.args)
			if result.IsError {
				t.Fatalf("expected success, got error: %s", extractText(result))
			}

			var out readDumpOutput
			decodeOutput(t, result, &out)

			if out.Count != tt.wantCount {
				t.Errorf("expected %d records, got %d", tt.wantCount, out.Count)
			}
			if out.Truncated != tt.wantTruncated {
				t.Errorf("expected truncated=%v, got %v", tt.wantTruncated, out.Truncated)
			}
			if len(out.Chunks) != 1 || !out.Chunks[0].Sealed {
				t.Errorf("expected one sealed chunk, got %+v", out.Chunks)
			}
			for i := 1; i < len(out.Records); i++ {
				if out.Records[i].Seq <= out.Records[i-1].Seq {
					t.Errorf("records out of order: %d after %d", out.Records[i].Seq, out.Records[i-1].Seq)
				}
			}
		})
	}
}

func TestReadDump_FieldsRendered(t *testing.T) {
	store, d := newTestDumps(t, 1)
	srv := NewServer(store, nil, nil, nil, "test")

	result := callTool(t, srv, "read_dump", map[string]any{"dump": d.Dir, "type": "Finalizer"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out readDumpOutput
	decodeOutput(t, result, &out)

	if out.Count != 1 {
		t.Fatalf("expected 1 record, got %d", out.Count)
	}
	if got := out.Records[0].Fields[models.FieldOverridingClass]; got != "test.A" {
		t.Errorf("expected overridingClass test.A, got %q", got)
	}
}

func TestReadDump_EmptyResult(t *testing.T) {
	store, d := newTestDumps(t, 0)
	srv := NewServer(store, nil, nil, nil, "test")

	result := callTool(t, srv, "read_dump", map[string]any{"dump": d.Dir, "type": "Finalizer"})
	if !result.IsError {
		t.Fatal("expected error result when no records match")
	}
	if !strings.Contains(extractText(result), recorder.ErrEmptyResult.Error()) {
		t.Errorf("expected empty result message, got %q", extractText(result))
	}
}

func TestReadDump_UnknownDump(t *testing.T) {
	store, _ := newTestDumps(t, 1)
	srv := NewServer(store, nil, nil, nil, "test")

	result := callTool(t, srv, "read_dump", map[string]any{"dump": "does-not-exist"})
	if !result.IsError {
		t.Fatal("expected error result for unknown dump")
	}
}

func TestReadDump_MissingDump(t *testing.T) {
	store, _ := newTestDumps(t, 1)
	srv := NewServer(store, nil, nil, nil, "test")

	result := callToolAllowError(t, srv, "read_dump", map[string]any{})
	if result == nil {
		return
	}
	if !result.IsError {
		t.Fatal("expected error result for missing dump")
	}
}

func TestRunFinalizerCheck(t *testing.T) {
	checker := &fakeChecker{report: sampleReport(true)}
	srv := NewServer(nil, checker, nil, nil, "test")

	result := callTool(t, srv, "run_finalizer_check", map[string]any{"dump": true})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	if !checker.dumped {
		t.Error("expected dump flag to reach the checker")
	}

	var out runCheckOutput
	decodeOutput(t, result, &out)

	if !out.Passed {
		t.Error("expected passed report")
	}
	if len(out.Recordings) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(out.Recordings))
	}
	if out.Recordings[0].Chunks != 3 || out.Recordings[1].Chunks != 1 {
		t.Errorf("unexpected chunk counts: %d, %d", out.Recordings[0].Chunks, out.Recordings[1].Chunks)
	}
	if out.Duration != "20ms" {
		t.Errorf("expected duration 20ms, got %s", out.Duration)
	}
}

func TestRunFinalizerCheck_Failed(t *testing.T) {
	checker := &fakeChecker{report: sampleReport(false), err: errors.New("finalizer-check-2: missing check.OverridingFinalize")}
	srv := NewServer(nil, checker, nil, nil, "test")

	result := callTool(t, srv, "run_finalizer_check", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result for a failed check")
	}
	if !strings.Contains(extractText(result), "missing check.OverridingFinalize") {
		t.Errorf("expected failure reason in result, got %q", extractText(result))
	}
}

func TestRunFinalizerCheck_NoReport(t *testing.T) {
	checker := &fakeChecker{err: context.Canceled}
	srv := NewServer(nil, checker, nil, nil, "test")

	result := callTool(t, srv, "run_finalizer_check", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result when the check produced no report")
	}
}

func TestGetMetrics(t *testing.T) {
	oldest := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newest := oldest.Add(time.Hour)
	calc := &fakeMetrics{metrics: &observability.Metrics{
		RecordingsCreated: 2,
		RecordingsStarted: 2,
		RecordingsStopped: 2,
		RecordingsClosed:  2,
		ChunksRotated:     4,
		RecordsSealed:     8,
		RotationsByReason: map[string]int{"recording started": 1, "recording stopped": 3},
		ChecksRun:         1,
		EventCount:        13,
		OldestEvent:       &oldest,
		NewestEvent:       &newest,
	}}
	srv := NewServer(nil, nil, calc, nil, "test")

	result := callTool(t, srv, "get_metrics", map[string]any{"since": "24h"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out metricsOutput
	decodeOutput(t, result, &out)

	if out.ChunksRotated != 4 {
		t.Errorf("expected 4 rotations, got %d", out.ChunksRotated)
	}
	if out.RotationsByReason["recording stopped"] != 3 {
		t.Errorf("expected 3 stop rotations, got %d", out.RotationsByReason["recording stopped"])
	}
	if out.OldestEvent != "2026-03-01T09:00:00Z" {
		t.Errorf("unexpected oldest event %q", out.OldestEvent)
	}
}

func TestGetMetrics_Errors(t *testing.T) {
	tests := []struct {
		name string
		calc observability.MetricsCalculator
		args map[string]any
	}{
		{name: "no calculator", calc: nil, args: map[string]any{}},
		{name: "bad since", calc: &fakeMetrics{metrics: &observability.Metrics{}}, args: map[string]any{"since": "7w"}},
		{name: "calculate fails", calc: &fakeMetrics{err: errors.New("disk on fire")}, args: map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(nil, nil, tt.calc, nil, "test")
			result := callTool(t, srv, "get_metrics", tt.args)
			if !result.IsError {
				t.Fatal("expected error result")
			}
		})
	}
}

func TestGetAlerts(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeAlerts{alerts: []observability.Alert{
		{ID: "check-failed", Condition: "finalizer_check_failed", Severity: observability.SeverityHigh, Message: "last finalizer check failed", TriggeredAt: at},
		{ID: "running-3", Condition: "recording_running_too_long", Severity: observability.SeverityMedium, Message: "recording 3 running", TriggeredAt: at},
	}}
	srv := NewServer(nil, nil, nil, engine, "test")

	result := callTool(t, srv, "get_alerts", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out getAlertsOutput
	decodeOutput(t, result, &out)

	if out.Count != 2 {
		t.Fatalf("expected 2 alerts, got %d", out.Count)
	}
	if out.Alerts[0].Severity != "high" {
		t.Errorf("expected severity high, got %s", out.Alerts[0].Severity)
	}
	if out.Alerts[1].TriggeredAt != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected triggered_at %q", out.Alerts[1].TriggeredAt)
	}
}

func TestGetAlerts_NoEngine(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "test")

	result := callTool(t, srv, "get_alerts", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result without an alert engine")
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "7d", want: 7 * 24 * time.Hour},
		{input: "24h", want: 24 * time.Hour},
		{input: "0d", want: 0},
		{input: "d", wantErr: true},
		{input: "7w", wantErr: true},
		{input: "xd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			before := time.Now().UTC()
			got, err := parseSince(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			age := before.Sub(got)
			if age < tt.want-time.Minute || age > tt.want+time.Minute {
				t.Errorf("parseSince(%q) is %v in the past, want about %v", tt.input, age, tt.want)
			}
		})
	}
}
