package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	RunningHours  int `yaml:"running_threshold_hours" json:"running_threshold_hours"`
	UnclosedHours int `yaml:"unclosed_threshold_hours" json:"unclosed_threshold_hours"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		RunningHours:  24,
		UnclosedHours: 1,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads the lifecycle log and returns every triggered alert, ordered by ID.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()

	events, err := ae.eventLog.Read(EventFilter{Prefix: "recording."})
	if err != nil {
		return nil, fmt.Errorf("reading recording events: %w", err)
	}
	alerts := ae.checkRecordingLifecycles(events, now)

	checkAlerts, err := ae.checkFailedChecks(now)
	if err != nil {
		return nil, fmt.Errorf("checking finalizer checks: %w", err)
	}
	alerts = append(alerts, checkAlerts...)

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

// checkRecordingLifecycles flags recordings left running, or stopped but
// never closed, for longer than the thresholds.
func (ae *alertEngine) checkRecordingLifecycles(events []Event, now time.Time) []Alert {
	type recState struct {
		name      string
		state     string
		changedAt time.Time
	}
	recs := make(map[string]*recState)

	for _, event := range events {
		id := fmt.Sprint(event.Data["recording_id"])
		if event.Data["recording_id"] == nil {
			continue
		}
		name, _ := event.Data["name"].(string)
		rs, ok := recs[id]
		if !ok {
			rs = &recState{name: name}
			recs[id] = rs
		}
		switch event.Type {
		case "recording.started":
			rs.state = "running"
		case "recording.stopped":
			rs.state = "stopped"
		case "recording.closed":
			rs.state = "closed"
		default:
			continue
		}
		rs.changedAt = event.Time
	}

	running := time.Duration(ae.thresholds.RunningHours) * time.Hour
	unclosed := time.Duration(ae.thresholds.UnclosedHours) * time.Hour
	var alerts []Alert
	for id, rs := range recs {
		switch {
		case rs.state == "running" && now.Sub(rs.changedAt) > running:
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("running-%s", id),
				Condition:   "recording_running_too_long",
				Severity:    SeverityMedium,
				Message:     fmt.Sprintf("recording %s (%q) has been running for more than %d hours", id, rs.name, ae.thresholds.RunningHours),
				TriggeredAt: now,
			})
		case rs.state == "stopped" && now.Sub(rs.changedAt) > unclosed:
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("unclosed-%s", id),
				Condition:   "recording_not_closed",
				Severity:    SeverityLow,
				Message:     fmt.Sprintf("recording %s (%q) was stopped more than %d hours ago and never closed", id, rs.name, ae.thresholds.UnclosedHours),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkFailedChecks alerts when the most recent finalizer check failed.
func (ae *alertEngine) checkFailedChecks(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{Type: "check.finished"})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	last := events[len(events)-1]
	if passed, ok := last.Data["passed"].(bool); !ok || passed {
		return nil, nil
	}
	reason, _ := last.Data["error"].(string)
	return []Alert{{
		ID:          "check-failed",
		Condition:   "finalizer_check_failed",
		Severity:    SeverityHigh,
		Message:     fmt.Sprintf("last finalizer check failed: %s", reason),
		TriggeredAt: now,
	}}, nil
}
