package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

func TestBroker_EmitWithoutRecordingsIsNoop(t *testing.T) {
	b := NewBroker()
	if n := b.Emit(models.EventFinalizer, classFields("test.A", false)); n != 0 {
		t.Errorf("Emit with no recordings stored in %d", n)
	}

	r := startRecording(t, b, "r", models.EventFinalizer)
	b.Emit(models.EventFinalizer, classFields("test.A", false))
	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if records[0].Seq != 1 {
		t.Errorf("expected the first recorded emission to get seq 1, got %d", records[0].Seq)
	}
}

func TestBroker_EmitCountsStoringRecordings(t *testing.T) {
	b := NewBroker()
	startRecording(t, b, "both", models.EventFinalizer, "Marker")
	startRecording(t, b, "finalizer", models.EventFinalizer)
	startRecording(t, b, "marker", "Marker")
	b.NewRecording("never-started")

	tests := []struct {
		eventType models.EventType
		want      int
	}{
		{models.EventFinalizer, 2},
		{"Marker", 2},
		{"Unknown", 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := b.Emit(tt.eventType, nil); got != tt.want {
				t.Errorf("Emit(%s) = %d, want %d", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestBroker_EmitCopiesFields(t *testing.T) {
	b := NewBroker()
	r := startRecording(t, b, "r", "Marker")

	fields := map[string]models.Value{"n": models.IntValue(1)}
	b.Emit("Marker", fields)
	fields["n"] = models.IntValue(2)

	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	v, err := records[0].Value("n")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.Int != 1 {
		t.Errorf("record changed after emit: n = %d", v.Int)
	}
}

func TestBroker_SharedSeqAcrossRecordings(t *testing.T) {
	b := NewBroker()
	r1 := startRecording(t, b, "r1", "Marker")
	r2 := startRecording(t, b, "r2", "Marker")
	b.Emit("Marker", nil)

	recs1, _ := FromRecording(r1)
	recs2, _ := FromRecording(r2)
	if len(recs1) != 1 || len(recs2) != 1 {
		t.Fatalf("expected one record each, got %d and %d", len(recs1), len(recs2))
	}
	if recs1[0].Seq != recs2[0].Seq {
		t.Errorf("copies of one emission have seqs %d and %d", recs1[0].Seq, recs2[0].Seq)
	}
}

func TestBroker_Settings(t *testing.T) {
	b := NewBroker(WithEventSettings(
		models.EventSettings{Name: "Marker", Period: models.PeriodEndChunk},
		models.EventSettings{Name: models.EventFinalizer, Period: models.PeriodNone},
	))

	if got := b.Settings("Marker").Period; got != models.PeriodEndChunk {
		t.Errorf("Marker period = %q", got)
	}
	if got := b.Settings(models.EventFinalizer).Period; got != models.PeriodNone {
		t.Errorf("Finalizer period not overridden: %q", got)
	}
	if got := b.Settings("Unknown"); got.Name != "Unknown" || got.Period != "" {
		t.Errorf("unexpected default settings: %+v", got)
	}
	if got := NewBroker().Settings(models.EventFinalizer).Period; got != models.PeriodEndChunk {
		t.Errorf("default Finalizer period = %q, want endChunk", got)
	}
}

func TestBroker_ChunkEndHooks(t *testing.T) {
	tests := []struct {
		name      string
		settings  []models.EventSettings
		enable    models.EventType
		wantCalls int
	}{
		{name: "endChunk and enabled", enable: models.EventFinalizer, wantCalls: 3},
		{name: "not enabled", enable: "Marker", wantCalls: 0},
		{
			name:      "period none",
			settings:  []models.EventSettings{{Name: models.EventFinalizer}},
			enable:    models.EventFinalizer,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroker(WithEventSettings(tt.settings...))
			calls := 0
			b.OnChunkEnd(models.EventFinalizer, func() { calls++ })

			r := startRecording(t, b, "r", tt.enable)
			sibling := startRecording(t, b, "sibling")
			if err := sibling.Stop(); err != nil {
				t.Fatalf("stop sibling: %v", err)
			}
			if err := r.Stop(); err != nil {
				t.Fatalf("stop: %v", err)
			}

			// Three rotations: sibling start, sibling stop, r stop.
			if calls != tt.wantCalls {
				t.Errorf("hook ran %d times, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestBroker_PostIsRecordedOnFlush(t *testing.T) {
	b := NewBroker()
	r := startRecording(t, b, "r", "Marker")

	b.Post("Marker", map[string]models.Value{"i": models.IntValue(1)})
	b.Post("Marker", map[string]models.Value{"i": models.IntValue(2)})
	if b.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", b.Pending())
	}
	if _, err := FromRecording(r); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected nothing recorded before Flush, got %v", err)
	}

	if n := b.Flush(); n != 2 {
		t.Fatalf("Flush() = %d, want 2", n)
	}
	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	for i, rec := range records {
		v, _ := rec.Value("i")
		if v.Int != int64(i+1) {
			t.Errorf("record %d has i=%d, want FIFO order", i, v.Int)
		}
	}
}

func TestBroker_PostKeepsPostTime(t *testing.T) {
	clock := fixedClock()
	b := NewBroker(WithClock(clock))
	r := startRecording(t, b, "r", "Marker")

	b.Post("Marker", nil)
	posted := clock()
	b.Flush()

	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if !records[0].Time.Before(posted) {
		t.Errorf("record time %v should be the post time, before %v", records[0].Time, posted)
	}
}

func TestBroker_RotationFlushesInbox(t *testing.T) {
	b := NewBroker()
	r := startRecording(t, b, "r", "Marker")
	b.Post("Marker", nil)

	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("expected posted entry in the sealed chunk: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestBroker_PostBeforeStartIsDropped(t *testing.T) {
	tests := []struct {
		name  string
		flush func(b *Broker)
	}{
		{"flushed by the start rotation", func(b *Broker) {}},
		{"flushed after start", func(b *Broker) { b.Flush() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroker()
			b.Post(models.EventFinalizer, classFields("test.Stale", true))

			r := startRecording(t, b, "r", models.EventFinalizer)
			tt.flush(b)
			if err := r.Stop(); err != nil {
				t.Fatalf("stop: %v", err)
			}
			if _, err := FromRecording(r); !errors.Is(err, ErrEmptyResult) {
				t.Errorf("entry posted before start was recorded: %v", err)
			}
			if b.Pending() != 0 {
				t.Errorf("Pending() = %d, want 0", b.Pending())
			}
		})
	}
}

func TestBroker_PostRacingStartIsDropped(t *testing.T) {
	// The entry is still queued when the recording starts; it must not be
	// recorded by a drain that runs afterwards.
	b := NewBroker()
	b.inbox.Push(&InboxEntry{Type: "Marker", At: time.Now(), epoch: b.starts.Load()})
	r := b.NewRecording("r")
	if err := r.Enable("Marker"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	r.mu.Lock()
	r.state = models.StateRunning
	r.current = newChunk(0, time.Now())
	r.chunks = append(r.chunks, r.current)
	r.epoch = b.starts.Add(1)
	r.mu.Unlock()
	b.addRunning(r)

	if n := b.Flush(); n != 1 {
		t.Fatalf("Flush() = %d, want 1", n)
	}
	if r.current.Len() != 0 {
		t.Errorf("stale entry stored in the first chunk")
	}
}

func TestBroker_UnrecordedEmitConsumesNoSeq(t *testing.T) {
	b := NewBroker()
	r := startRecording(t, b, "r", "A")

	if n := b.Emit("B", nil); n != 0 {
		t.Fatalf("Emit(B) stored in %d recordings", n)
	}
	b.Emit("A", nil)

	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if len(records) != 1 || records[0].Seq != 1 {
		t.Errorf("got %v, want one record with seq 1", records)
	}
}

func TestBroker_PostAll(t *testing.T) {
	b := NewBroker()
	r := startRecording(t, b, "r", "Marker")

	b.Post("Marker", map[string]models.Value{"i": models.IntValue(0)})
	b.PostAll("Marker", []map[string]models.Value{
		{"i": models.IntValue(1)},
		{"i": models.IntValue(2)},
		{"i": models.IntValue(3)},
	})
	b.PostAll("Marker", nil)
	if b.Pending() != 4 {
		t.Fatalf("Pending() = %d, want 4", b.Pending())
	}
	if n := b.Flush(); n != 4 {
		t.Fatalf("Flush() = %d, want 4", n)
	}

	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	for i, rec := range records {
		v, _ := rec.Value("i")
		if v.Int != int64(i) {
			t.Errorf("record %d has i=%d, want FIFO order", i, v.Int)
		}
	}
}

func TestBroker_Run(t *testing.T) {
	b := NewBroker(WithDrainInterval(time.Millisecond))
	r := startRecording(t, b, "r", "Marker")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	b.Post("Marker", nil)
	deadline := time.Now().Add(5 * time.Second)
	for b.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	b.Post("Marker", nil)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	records, err := FromRecording(r)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected both posted entries recorded, got %d", len(records))
	}
}

func TestBroker_Running(t *testing.T) {
	b := NewBroker()
	r1 := startRecording(t, b, "r1")
	r2 := startRecording(t, b, "r2")
	r3 := startRecording(t, b, "r3")

	if err := r2.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	running := b.Running()
	if len(running) != 2 || running[0] != r1 || running[1] != r3 {
		t.Errorf("unexpected running set: %v", running)
	}
}

func TestBroker_LogsRotations(t *testing.T) {
	log := &memLogger{}
	b := NewBroker(WithLogger(log))
	r1 := startRecording(t, b, "r1", "Marker")
	b.Emit("Marker", nil)
	b.Emit("Marker", nil)
	startRecording(t, b, "r2", "Marker")

	rotated := log.ofType("chunk.rotated")
	if len(rotated) != 1 {
		t.Fatalf("expected 1 chunk.rotated event, got %d", len(rotated))
	}
	data := rotated[0].data
	if data["recording_id"] != r1.ID() || data["records"] != 2 || data["reason"] != "recording started" {
		t.Errorf("unexpected rotation data: %v", data)
	}
}
