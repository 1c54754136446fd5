package models

import "time"

// RecordingState is the lifecycle state of a recording.
type RecordingState string

const (
	StateNew     RecordingState = "new"
	StateRunning RecordingState = "running"
	StateStopped RecordingState = "stopped"
	StateClosed  RecordingState = "closed"
)

// ChunkInfo describes one chunk of a recording.
type ChunkInfo struct {
	ID      string    `yaml:"id"`
	Index   int       `yaml:"index"`
	Start   time.Time `yaml:"start"`
	End     time.Time `yaml:"end,omitempty"`
	Sealed  bool      `yaml:"sealed"`
	Records int       `yaml:"records"`
	File    string    `yaml:"file,omitempty"`
}

// RecordingInfo is the metadata of a recording, live or dumped.
type RecordingInfo struct {
	ID        uint64         `yaml:"id"`
	Name      string         `yaml:"name"`
	State     RecordingState `yaml:"state"`
	Enabled   []EventType    `yaml:"enabled,omitempty"`
	StartedAt time.Time      `yaml:"started_at,omitempty"`
	StoppedAt time.Time      `yaml:"stopped_at,omitempty"`
}

// DumpIndex is the index file written next to a dumped recording's chunks.
type DumpIndex struct {
	Version   string        `yaml:"version"`
	DumpID    string        `yaml:"dump_id"`
	DumpedAt  time.Time     `yaml:"dumped_at"`
	Recording RecordingInfo `yaml:"recording"`
	Chunks    []ChunkInfo   `yaml:"chunks"`
}

// RecordingCheck is the per-recording part of a FinalizerReport.
type RecordingCheck struct {
	ID      uint64   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Chunks  int      `json:"chunks" yaml:"chunks"`
	Records int      `json:"records" yaml:"records"`
	Found   []string `json:"found" yaml:"found"`
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
	DumpDir string   `json:"dump_dir,omitempty" yaml:"dump_dir,omitempty"`
}

// FinalizerReport is the outcome of one finalizer check run.
type FinalizerReport struct {
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Unloaded   int              `json:"unloaded" yaml:"unloaded"`
	Recordings []RecordingCheck `json:"recordings" yaml:"recordings"`
	Passed     bool             `json:"passed" yaml:"passed"`
}
