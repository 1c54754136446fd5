package observability

import (
	"testing"
	"time"
)

func writeEvents(t *testing.T, log EventLog, events ...Event) {
	t.Helper()
	for _, e := range events {
		if e.Level == "" {
			e.Level = "INFO"
		}
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
}

func TestMetrics_Calculate(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	writeEvents(t, log,
		Event{Time: base, Type: "recording.created", Data: map[string]any{"recording_id": 1}},
		Event{Time: base.Add(1 * time.Second), Type: "recording.started", Data: map[string]any{"recording_id": 1}},
		Event{Time: base.Add(2 * time.Second), Type: "recording.created", Data: map[string]any{"recording_id": 2}},
		Event{Time: base.Add(3 * time.Second), Type: "chunk.rotated", Data: map[string]any{"recording_id": 1, "records": 2, "reason": "recording started"}},
		Event{Time: base.Add(4 * time.Second), Type: "recording.started", Data: map[string]any{"recording_id": 2}},
		Event{Time: base.Add(5 * time.Second), Type: "chunk.rotated", Data: map[string]any{"recording_id": 1, "records": 1, "reason": "recording stopped"}},
		Event{Time: base.Add(6 * time.Second), Type: "chunk.rotated", Data: map[string]any{"recording_id": 2, "records": 4, "reason": "recording stopped"}},
		Event{Time: base.Add(7 * time.Second), Type: "recording.stopped", Data: map[string]any{"recording_id": 2}},
		Event{Time: base.Add(8 * time.Second), Type: "recording.closed", Data: map[string]any{"recording_id": 2}},
		Event{Time: base.Add(9 * time.Second), Type: "recording.dumped", Data: map[string]any{"recording_id": 2}},
		Event{Time: base.Add(10 * time.Second), Type: "check.finished", Data: map[string]any{"passed": true}},
		Event{Time: base.Add(11 * time.Second), Type: "check.finished", Level: "ERROR", Data: map[string]any{"passed": false}},
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}

	checks := []struct {
		name      string
		got, want int
	}{
		{"RecordingsCreated", m.RecordingsCreated, 2},
		{"RecordingsStarted", m.RecordingsStarted, 2},
		{"RecordingsStopped", m.RecordingsStopped, 1},
		{"RecordingsClosed", m.RecordingsClosed, 1},
		{"ChunksRotated", m.ChunksRotated, 3},
		{"RecordsSealed", m.RecordsSealed, 7},
		{"Dumps", m.Dumps, 1},
		{"ChecksRun", m.ChecksRun, 2},
		{"ChecksFailed", m.ChecksFailed, 1},
		{"EventCount", m.EventCount, 12},
		{"rotations on start", m.RotationsByReason["recording started"], 1},
		{"rotations on stop", m.RotationsByReason["recording stopped"], 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if m.OldestEvent == nil || !m.OldestEvent.Equal(base) {
		t.Errorf("OldestEvent = %v, want %v", m.OldestEvent, base)
	}
	if m.NewestEvent == nil || !m.NewestEvent.Equal(base.Add(11*time.Second)) {
		t.Errorf("NewestEvent = %v", m.NewestEvent)
	}
}

func TestMetrics_SinceExcludesOlderEvents(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	writeEvents(t, log,
		Event{Time: base.Add(-48 * time.Hour), Type: "recording.started"},
		Event{Time: base, Type: "recording.started"},
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.RecordingsStarted != 1 {
		t.Errorf("RecordingsStarted = %d, want 1", m.RecordingsStarted)
	}
}

func TestMetrics_EmptyLog(t *testing.T) {
	log := newTestLog(t)

	m, err := NewMetricsCalculator(log).Calculate(time.Time{})
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.EventCount != 0 || m.OldestEvent != nil || m.NewestEvent != nil {
		t.Errorf("expected empty metrics, got %+v", m)
	}
	if m.RotationsByReason == nil {
		t.Error("RotationsByReason should be non-nil")
	}
}

func TestIntField(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want int
	}{
		{"float64 from json", map[string]any{"n": float64(7)}, 7},
		{"int", map[string]any{"n": 3}, 3},
		{"missing", map[string]any{}, 0},
		{"wrong type", map[string]any{"n": "7"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := intField(tt.data, "n"); got != tt.want {
				t.Errorf("intField = %d, want %d", got, tt.want)
			}
		})
	}
}
