package observability

import (
	"fmt"
	"time"
)

// Metrics holds counters derived from the recorder lifecycle log.
type Metrics struct {
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
	OldestEvent       *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent       *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		RotationsByReason: make(map[string]int),
	}
	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "recording.created":
			m.RecordingsCreated++
		case "recording.started":
			m.RecordingsStarted++
		case "recording.stopped":
			m.RecordingsStopped++
		case "recording.closed":
			m.RecordingsClosed++
		case "chunk.rotated":
			m.ChunksRotated++
			m.RecordsSealed += intField(event.Data, "records")
			if reason, ok := event.Data["reason"].(string); ok {
				m.RotationsByReason[reason]++
			}
		case "recording.dumped":
			m.Dumps++
		case "check.finished":
			m.ChecksRun++
			if passed, ok := event.Data["passed"].(bool); ok && !passed {
				m.ChecksFailed++
			}
		}
	}

	return m, nil
}

// intField reads a numeric field that went through JSON, where every number
// decodes as float64.
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
