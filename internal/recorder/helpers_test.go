package recorder

import (
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

type loggedEvent struct {
	eventType string
	data      map[string]any
}

// memLogger records lifecycle events in memory.
type memLogger struct {
	mu     sync.Mutex
	events []loggedEvent
}

func (l *memLogger) LogEvent(eventType string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, loggedEvent{eventType: eventType, data: data})
	return nil
}

func (l *memLogger) ofType(eventType string) []loggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []loggedEvent
	for _, e := range l.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (l *memLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// fixedClock returns a clock that advances one millisecond per call.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

// startRecording creates, enables and starts a recording.
func startRecording(t *testing.T, b *Broker, name string, types ...models.EventType) *Recording {
	t.Helper()
	r := b.NewRecording(name)
	for _, et := range types {
		if err := r.Enable(et); err != nil {
			t.Fatalf("enable %s on %s: %v", et, name, err)
		}
	}
	if err := r.Start(); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	return r
}

func classFields(name string, unloaded bool) map[string]models.Value {
	return map[string]models.Value{
		models.FieldOverridingClass: models.ClassValue(models.ClassDescriptor{Name: name, LoaderID: 1, Unloaded: unloaded}),
	}
}

// chunkClasses returns the overridingClass names per chunk.
func chunkClasses(t *testing.T, r *Recording) [][]string {
	t.Helper()
	chunks, err := r.Chunks()
	if err != nil {
		t.Fatalf("chunks of %s: %v", r.Name(), err)
	}
	out := make([][]string, len(chunks))
	for i, c := range chunks {
		recs, err := c.Records()
		if err != nil {
			t.Fatalf("records of chunk %d: %v", i, err)
		}
		names := []string{}
		for _, rec := range recs {
			d, err := rec.Class(models.FieldOverridingClass)
			if err != nil {
				t.Fatalf("record #%d: %v", rec.Seq, err)
			}
			names = append(names, d.GetName())
		}
		out[i] = names
	}
	return out
}
