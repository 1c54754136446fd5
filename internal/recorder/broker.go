package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// EventLogger is the subset of the observability event log the recorder
// writes lifecycle events to.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// DefaultDrainInterval is how often Run drains the inbox when no interval is
// configured.
const DefaultDrainInterval = 50 * time.Millisecond

// Broker is the process-wide fan-out point between event producers and
// running recordings.
type Broker struct {
	// lifecycle serializes start, stop, close and the rotation they trigger.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	settings map[models.EventType]models.EventSettings
	hooks    map[models.EventType][]func()
	running  []*Recording
	nextID   uint64

	seq atomic.Uint64
	// starts counts recording starts. Every emission carries the count
	// current when it was made, so a recording only stores emissions made
	// after it started.
	starts atomic.Uint64
	inbox  *Inbox
	// drain makes the broker the inbox's single consumer. A Flush returns
	// only after every entry popped before it was emitted.
	drain sync.Mutex

	logger        EventLogger
	now           func() time.Time
	drainInterval time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the lifecycle event logger.
func WithLogger(l EventLogger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithClock replaces time.Now for event and chunk timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithDrainInterval sets how often Run drains the inbox.
func WithDrainInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.drainInterval = d
		}
	}
}

// WithEventSettings registers additional or overriding event settings.
func WithEventSettings(settings ...models.EventSettings) Option {
	return func(b *Broker) {
		for _, s := range settings {
			b.settings[s.Name] = s
		}
	}
}

// NewBroker creates a Broker with the default event settings registered.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		settings:      make(map[models.EventType]models.EventSettings),
		hooks:         make(map[models.EventType][]func()),
		inbox:         NewInbox(),
		now:           time.Now,
		drainInterval: DefaultDrainInterval,
	}
	for _, s := range models.DefaultEventSettings() {
		b.settings[s.Name] = s
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Settings returns the settings for an event type. Unregistered types get
// settings with only the name filled in.
func (b *Broker) Settings(t models.EventType) models.EventSettings {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s, ok := b.settings[t]; ok {
		return s
	}
	return models.EventSettings{Name: t}
}

// OnChunkEnd registers a hook that runs at every rotation while some running
// recording has t enabled and t has the endChunk period. Hooks emit through
// the broker; they must not start or stop recordings.
func (b *Broker) OnChunkEnd(t models.EventType, hook func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[t] = append(b.hooks[t], hook)
}

// NewRecording creates a recording in the new state.
func (b *Broker) NewRecording(name string) *Recording {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	r := &Recording{
		id:      id,
		name:    name,
		broker:  b,
		state:   models.StateNew,
		enabled: make(map[models.EventType]bool),
	}
	b.logEvent("recording.created", map[string]any{"recording_id": id, "name": name})
	return r
}

// Running returns the recordings currently running, in start order.
func (b *Broker) Running() []*Recording {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Recording, len(b.running))
	copy(out, b.running)
	return out
}

// Emit records one event into the open chunk of every running recording that
// has the type enabled, and returns how many recordings stored it. Emitting a
// type nobody records is a no-op and consumes no sequence number. Emit is
// safe to call from any goroutine.
func (b *Broker) Emit(t models.EventType, fields map[string]models.Value) int {
	return b.emitAt(t, fields, b.now(), b.starts.Load())
}

func (b *Broker) emitAt(t models.EventType, fields map[string]models.Value, at time.Time, epoch uint64) int {
	var targets []*Recording
	for _, r := range b.Running() {
		if r.accepts(t, epoch) {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return 0
	}

	rec := models.EventRecord{
		Seq:    b.seq.Add(1),
		Type:   t,
		Time:   at,
		Fields: copyFields(fields),
	}
	stored := 0
	for _, r := range targets {
		if r.store(rec, epoch) {
			stored++
		}
	}
	return stored
}

// Post queues an emission on the broker's inbox instead of recording it
// directly. It never blocks and is meant for callbacks fired from contexts
// that must not re-enter recording internals, such as a collection pass.
// Posted events are recorded by the next Flush.
func (b *Broker) Post(t models.EventType, fields map[string]models.Value) {
	b.inbox.Push(&InboxEntry{
		Type:   t,
		Fields: copyFields(fields),
		At:     b.now(),
		epoch:  b.starts.Load(),
	})
}

// PostAll queues one emission of type t per field set as a single batch, so
// the entries stay contiguous in the inbox.
func (b *Broker) PostAll(t models.EventType, fieldSets []map[string]models.Value) {
	now, epoch := b.now(), b.starts.Load()
	entries := make([]*InboxEntry, len(fieldSets))
	for i, fields := range fieldSets {
		entries[i] = &InboxEntry{Type: t, Fields: copyFields(fields), At: now, epoch: epoch}
	}
	b.inbox.PushAll(entries...)
}

// Flush drains the inbox, emitting every queued entry in FIFO order, and
// returns the number of entries drained. A recording never stores an entry
// posted before it started.
func (b *Broker) Flush() int {
	b.drain.Lock()
	defer b.drain.Unlock()

	n := 0
	for {
		batch := b.inbox.TakeAll()
		if len(batch) == 0 {
			return n
		}
		for _, e := range batch {
			b.emitAt(e.Type, e.Fields, e.At, e.epoch)
		}
		n += len(batch)
	}
}

// Pending returns the approximate number of queued inbox entries.
func (b *Broker) Pending() int {
	return b.inbox.Len()
}

// Run drains the inbox periodically until ctx is cancelled, then drains it
// one last time.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return ctx.Err()
		case <-ticker.C:
			b.Flush()
		}
	}
}

// stopLocked rotates every running recording, sealing r's chunk without
// opening a new one. The caller holds b.lifecycle and r is running.
func (b *Broker) stopLocked(r *Recording) {
	b.rotate("recording stopped", r)
	b.removeRunning(r)

	info := r.Info()
	b.logEvent("recording.stopped", map[string]any{
		"recording_id": r.id,
		"name":         r.name,
		"chunks":       r.ChunkCount(),
		"duration":     info.StoppedAt.Sub(info.StartedAt).String(),
	})
}

// rotate draws a chunk boundary across all running recordings. Queued inbox
// entries and chunk-end events land in the chunks being sealed; with nothing
// running the inbox is still drained, so entries posted before a start are
// dropped rather than recorded into the first chunk. The caller holds
// b.lifecycle.
func (b *Broker) rotate(reason string, stopping *Recording) {
	b.Flush()

	running := b.Running()
	if len(running) == 0 {
		return
	}

	for _, hook := range b.chunkEndHooks(running) {
		hook()
	}

	now := b.now()
	for _, r := range running {
		sealed := r.rotate(now, r == stopping)
		if sealed == nil {
			continue
		}
		info := sealed.Info()
		b.logEvent("chunk.rotated", map[string]any{
			"recording_id": r.id,
			"chunk":        info.Index,
			"chunk_id":     info.ID,
			"records":      info.Records,
			"reason":       reason,
		})
	}
}

// chunkEndHooks returns the hooks of endChunk event types enabled in at least
// one of the given recordings.
func (b *Broker) chunkEndHooks(running []*Recording) []func() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []func()
	for t, hooks := range b.hooks {
		if b.settings[t].Period != models.PeriodEndChunk {
			continue
		}
		for _, r := range running {
			if r.IsEnabled(t) {
				out = append(out, hooks...)
				break
			}
		}
	}
	return out
}

func (b *Broker) addRunning(r *Recording) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = append(b.running, r)
}

func (b *Broker) removeRunning(r *Recording) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, x := range b.running {
		if x == r {
			b.running = append(b.running[:i:i], b.running[i+1:]...)
			return
		}
	}
}

// logEvent writes to the lifecycle log if one is configured. Logging
// failures never fail recorder operations.
func (b *Broker) logEvent(eventType string, data map[string]any) {
	if b.logger == nil {
		return
	}
	_ = b.logger.LogEvent(eventType, data)
}

func copyFields(fields map[string]models.Value) map[string]models.Value {
	if fields == nil {
		return nil
	}
	out := make(map[string]models.Value, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
