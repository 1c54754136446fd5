// Package observability records the recorder's own lifecycle (recordings
// created, started, stopped and closed, chunk rotations, dumps) as structured
// JSON Lines events and derives metrics on demand from that log.
package observability
