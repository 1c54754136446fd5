// Package recorder implements the event-recording session core: a process-wide
// Broker that fans emitted events out to every running Recording, per-recording
// append-only Chunks that are rotated whenever a sibling recording starts or
// stops, and a Reader that replays a recording's chunks in chronological order.
package recorder
