package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrMissingField is returned when a record does not carry the requested field.
	ErrMissingField = errors.New("field not present in event record")

	// ErrFieldKind is returned when a field holds a value of a different kind
	// than the caller asked for.
	ErrFieldKind = errors.New("field has unexpected kind")
)

// EventType identifies a kind of recorded event, e.g. "Finalizer".
type EventType string

// EventFinalizer is emitted for every class that overrides the deprecated
// object finalization method.
const EventFinalizer EventType = "Finalizer"

// FieldOverridingClass is the Finalizer event field holding the class descriptor.
const FieldOverridingClass = "overridingClass"

// Period values for EventSettings.
const (
	PeriodNone     = ""
	PeriodEndChunk = "endChunk"
)

// EventSettings describes how an event type is produced.
type EventSettings struct {
	Name        EventType `yaml:"name" mapstructure:"name"`
	Period      string    `yaml:"period,omitempty" mapstructure:"period"`
	Description string    `yaml:"description,omitempty" mapstructure:"description"`
}

// DefaultEventSettings returns the event types registered out of the box.
func DefaultEventSettings() []EventSettings {
	return []EventSettings{
		{
			Name:        EventFinalizer,
			Period:      PeriodEndChunk,
			Description: "Class overrides the deprecated finalize method",
		},
	}
}

// ClassDescriptor is a snapshot of a class taken when an event references it.
type ClassDescriptor struct {
	Name       string `yaml:"name" json:"name"`
	LoaderID   uint64 `yaml:"loader_id" json:"loader_id"`
	LoaderName string `yaml:"loader_name,omitempty" json:"loader_name,omitempty"`
	Unloaded   bool   `yaml:"unloaded,omitempty" json:"unloaded,omitempty"`
}

// GetName returns the fully qualified class name.
func (c ClassDescriptor) GetName() string {
	return c.Name
}

// ValueKind tags the payload of a Value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindClass  ValueKind = "class"
)

// Value is a single named field value of an EventRecord.
type Value struct {
	Kind  ValueKind        `json:"kind"`
	Str   string           `json:"str,omitempty"`
	Int   int64            `json:"int,omitempty"`
	Class *ClassDescriptor `json:"class,omitempty"`
}

// StringValue wraps s as a field value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// IntValue wraps n as a field value.
func IntValue(n int64) Value { return Value{Kind: KindInt, Int: n} }

// ClassValue wraps a copy of c as a field value.
func ClassValue(c ClassDescriptor) Value { return Value{Kind: KindClass, Class: &c} }

// String renders the value for printing.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindClass:
		if v.Class == nil {
			return "<nil class>"
		}
		if v.Class.Unloaded {
			return v.Class.Name + " (unloaded)"
		}
		return v.Class.Name
	default:
		return "<invalid>"
	}
}

// EventRecord is an immutable snapshot of one emission. Every session that
// stores the emission gets a record with the same Seq.
type EventRecord struct {
	Seq    uint64           `json:"seq"`
	Type   EventType        `json:"type"`
	Time   time.Time        `json:"time"`
	Fields map[string]Value `json:"fields,omitempty"`
}

// Value returns the named field.
func (r EventRecord) Value(name string) (Value, error) {
	v, ok := r.Fields[name]
	if !ok {
		return Value{}, fmt.Errorf("%s event #%d: %q: %w", r.Type, r.Seq, name, ErrMissingField)
	}
	return v, nil
}

// Class returns the named field as a class descriptor.
func (r EventRecord) Class(name string) (ClassDescriptor, error) {
	v, err := r.Value(name)
	if err != nil {
		return ClassDescriptor{}, err
	}
	if v.Kind != KindClass || v.Class == nil {
		return ClassDescriptor{}, fmt.Errorf("%s event #%d: %q is %s: %w", r.Type, r.Seq, name, v.Kind, ErrFieldKind)
	}
	return *v.Class, nil
}

// String renders the record on one line.
func (r EventRecord) String() string {
	s := fmt.Sprintf("#%d %s %s", r.Seq, r.Time.Format(time.RFC3339Nano), r.Type)
	for _, k := range sortedKeys(r.Fields) {
		s += fmt.Sprintf(" %s=%s", k, r.Fields[k])
	}
	return s
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
