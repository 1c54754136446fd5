package recorder

import (
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// Recording is a named, independently startable and stoppable consumer of
// emitted events. It moves through new -> running -> stopped -> closed and
// owns an ordered list of chunks, at most one of which is open.
type Recording struct {
	id     uint64
	name   string
	broker *Broker

	mu        sync.Mutex
	state     models.RecordingState
	enabled   map[models.EventType]bool
	chunks    []*Chunk
	current   *Chunk
	startedAt time.Time
	stoppedAt time.Time
	// epoch is the broker start count assigned when r started.
	epoch uint64
}

// ID returns the broker-unique recording id.
func (r *Recording) ID() uint64 { return r.id }

// Name returns the recording name.
func (r *Recording) Name() string { return r.name }

// State returns the current lifecycle state.
func (r *Recording) State() models.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Enable turns on recording of the given event type. Only valid while the
// recording is new or running.
func (r *Recording) Enable(t models.EventType) error {
	return r.setEnabled("enable", t, true)
}

// Disable turns off recording of the given event type. Only valid while the
// recording is new or running.
func (r *Recording) Disable(t models.EventType) error {
	return r.setEnabled("disable", t, false)
}

func (r *Recording) setEnabled(op string, t models.EventType, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != models.StateNew && r.state != models.StateRunning {
		return &StateError{Recording: r.name, Op: op, State: r.state}
	}
	if on {
		r.enabled[t] = true
	} else {
		delete(r.enabled, t)
	}
	return nil
}

// IsEnabled reports whether the event type is enabled.
func (r *Recording) IsEnabled(t models.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled[t]
}

// Start opens the first chunk and begins accepting events. Every other
// running recording is rotated first so chunk boundaries line up.
func (r *Recording) Start() error {
	b := r.broker
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if st := r.State(); st != models.StateNew {
		return &StateError{Recording: r.name, Op: "start", State: st}
	}

	b.rotate("recording started", nil)

	now := b.now()
	r.mu.Lock()
	r.current = newChunk(0, now)
	r.chunks = append(r.chunks, r.current)
	r.state = models.StateRunning
	r.startedAt = now
	r.epoch = b.starts.Add(1)
	r.mu.Unlock()

	b.addRunning(r)
	b.logEvent("recording.started", map[string]any{
		"recording_id": r.id,
		"name":         r.name,
		"enabled":      r.enabledTypes(),
	})
	return nil
}

// Stop seals the open chunk and stops accepting events. Sibling recordings
// are rotated at the same boundary.
func (r *Recording) Stop() error {
	b := r.broker
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if st := r.State(); st != models.StateRunning {
		return &StateError{Recording: r.name, Op: "stop", State: st}
	}
	b.stopLocked(r)
	return nil
}

// Close releases the recording's chunks. A running recording is stopped
// first. Closing an already closed recording does nothing.
func (r *Recording) Close() error {
	b := r.broker
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	switch r.State() {
	case models.StateClosed:
		return nil
	case models.StateRunning:
		b.stopLocked(r)
	}

	r.mu.Lock()
	chunks := len(r.chunks)
	r.state = models.StateClosed
	r.chunks = nil
	r.current = nil
	r.mu.Unlock()

	b.logEvent("recording.closed", map[string]any{
		"recording_id": r.id,
		"name":         r.name,
		"chunks":       chunks,
	})
	return nil
}

// Chunks returns a snapshot of the recording's chunks in chronological order.
func (r *Recording) Chunks() ([]ChunkView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == models.StateClosed {
		return nil, &StateError{Recording: r.name, Op: "read", State: r.state}
	}
	views := make([]ChunkView, len(r.chunks))
	for i, c := range r.chunks {
		views[i] = c
	}
	return views, nil
}

// ChunkCount returns the number of chunks opened so far.
func (r *Recording) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// OpenChunks returns how many of the recording's chunks are not sealed.
func (r *Recording) OpenChunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.chunks {
		if !c.Sealed() {
			n++
		}
	}
	return n
}

// Info returns the recording's metadata.
func (r *Recording) Info() models.RecordingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return models.RecordingInfo{
		ID:        r.id,
		Name:      r.name,
		State:     r.state,
		Enabled:   r.enabledTypesLocked(),
		StartedAt: r.startedAt,
		StoppedAt: r.stoppedAt,
	}
}

// accepts reports whether an emission of type t made at broker start count
// epoch belongs in r: r is running, has t enabled, and had started when the
// emission was made.
func (r *Recording) accepts(t models.EventType, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acceptsLocked(t, epoch)
}

func (r *Recording) acceptsLocked(t models.EventType, epoch uint64) bool {
	return r.state == models.StateRunning && r.current != nil && r.enabled[t] && epoch >= r.epoch
}

// store appends rec to the open chunk if the recording accepts it.
func (r *Recording) store(rec models.EventRecord, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acceptsLocked(rec.Type, epoch) {
		return false
	}
	return r.current.append(rec)
}

// rotate swaps in a fresh chunk and seals the previous one. When stop is set
// no new chunk is opened and the recording transitions to stopped inside the
// same critical section, so no emission can observe a running recording
// without an open chunk.
func (r *Recording) rotate(now time.Time, stop bool) *Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current
	if stop {
		r.current = nil
		r.state = models.StateStopped
		r.stoppedAt = now
	} else {
		r.current = newChunk(len(r.chunks), now)
		r.chunks = append(r.chunks, r.current)
	}
	if old != nil {
		old.seal(now)
	}
	return old
}

func (r *Recording) enabledTypes() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabledTypesLocked()
}

func (r *Recording) enabledTypesLocked() []models.EventType {
	types := make([]models.EventType, 0, len(r.enabled))
	for t := range r.enabled {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
