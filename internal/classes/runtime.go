// Package classes models the class-loading side of a managed runtime as seen
// by the recorder: loaders that define classes, classes that may override the
// deprecated finalize method, and a forced collection that unloads every class
// whose defining loader has become unreachable.
package classes

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

var (
	// ErrDuplicateClass is returned when a loader defines the same class twice.
	ErrDuplicateClass = errors.New("class already loaded by this loader")

	// ErrLoaderReleased is returned when loading through an unreachable loader.
	ErrLoaderReleased = errors.New("class loader is no longer reachable")
)

// EventLogger is the subset of the observability event log the runtime
// reports unloads to.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Emitter is the part of the recorder broker the runtime produces events into.
type Emitter interface {
	Emit(t models.EventType, fields map[string]models.Value) int
	PostAll(t models.EventType, fieldSets []map[string]models.Value)
	Flush() int
	OnChunkEnd(t models.EventType, hook func())
}

// Class is a loaded class.
type Class struct {
	Name              string
	OverridesFinalize bool
	loader            *Loader
}

// Descriptor returns a snapshot of the class suitable for an event field.
func (c *Class) Descriptor() models.ClassDescriptor {
	return models.ClassDescriptor{
		Name:       c.Name,
		LoaderID:   c.loader.id,
		LoaderName: c.loader.name,
	}
}

// Loader is a class-loading context. Its classes are unloaded by the first
// collection after it is released.
type Loader struct {
	id      uint64
	name    string
	runtime *Runtime

	// Guarded by runtime.mu.
	classes   map[string]*Class
	reachable bool
}

// ID returns the loader identity.
func (l *Loader) ID() uint64 { return l.id }

// Name returns the loader name.
func (l *Loader) Name() string { return l.name }

// Load defines a class in this loader. A class that overrides finalize is
// reported with one Finalizer event, synchronously.
func (l *Loader) Load(name string, overridesFinalize bool) (*Class, error) {
	rt := l.runtime

	rt.mu.Lock()
	if !l.reachable {
		rt.mu.Unlock()
		return nil, fmt.Errorf("loading %s via %s: %w", name, l.name, ErrLoaderReleased)
	}
	if _, ok := l.classes[name]; ok {
		rt.mu.Unlock()
		return nil, fmt.Errorf("loading %s via %s: %w", name, l.name, ErrDuplicateClass)
	}
	c := &Class{Name: name, OverridesFinalize: overridesFinalize, loader: l}
	l.classes[name] = c
	rt.mu.Unlock()

	if overridesFinalize {
		rt.emitter.Emit(models.EventFinalizer, finalizerFields(c.Descriptor()))
	}
	return c, nil
}

// Runtime tracks loaders and the classes they define.
type Runtime struct {
	emitter Emitter
	logger  EventLogger

	mu      sync.Mutex
	loaders []*Loader
	nextID  uint64
}

// NewRuntime creates a runtime reporting into emitter. It registers a
// chunk-end hook that re-reports every loaded finalizer class, so each chunk
// is self-describing.
func NewRuntime(emitter Emitter, opts ...Option) *Runtime {
	rt := &Runtime{emitter: emitter}
	for _, opt := range opts {
		opt(rt)
	}
	emitter.OnChunkEnd(models.EventFinalizer, rt.emitLoadedFinalizers)
	return rt
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger that receives class.unloaded events.
func WithLogger(l EventLogger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// NewLoader creates a reachable loader.
func (rt *Runtime) NewLoader(name string) *Loader {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.nextID++
	l := &Loader{
		id:        rt.nextID,
		name:      name,
		runtime:   rt,
		classes:   make(map[string]*Class),
		reachable: true,
	}
	rt.loaders = append(rt.loaders, l)
	return l
}

// Release drops the last reference to the loader. Its classes stay loaded
// until the next Collect.
func (rt *Runtime) Release(l *Loader) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	l.reachable = false
}

// Collect performs a forced collection. Every class defined by an
// unreachable loader is unloaded; finalizer classes among them are posted to
// the broker, one batch per loader, and flushed before the loader's metadata
// is discarded. It returns the number of classes unloaded.
func (rt *Runtime) Collect() int {
	rt.mu.Lock()
	var dead []*Loader
	live := rt.loaders[:0:0]
	for _, l := range rt.loaders {
		if l.reachable {
			live = append(live, l)
		} else {
			dead = append(dead, l)
		}
	}
	rt.loaders = live

	unloaded := 0
	for _, l := range dead {
		var batch []map[string]models.Value
		for _, c := range sortedClasses(l.classes) {
			unloaded++
			if !c.OverridesFinalize {
				continue
			}
			d := c.Descriptor()
			d.Unloaded = true
			batch = append(batch, finalizerFields(d))
		}
		if len(batch) > 0 {
			rt.emitter.PostAll(models.EventFinalizer, batch)
		}
	}
	rt.mu.Unlock()

	rt.emitter.Flush()

	rt.mu.Lock()
	for _, l := range dead {
		classes := len(l.classes)
		l.classes = nil
		if classes > 0 && rt.logger != nil {
			_ = rt.logger.LogEvent("class.unloaded", map[string]any{
				"loader_id": l.id,
				"loader":    l.name,
				"classes":   classes,
			})
		}
	}
	rt.mu.Unlock()
	return unloaded
}

// Loaded returns descriptors of every loaded class, ordered by loader then name.
func (rt *Runtime) Loaded() []models.ClassDescriptor {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var out []models.ClassDescriptor
	for _, l := range rt.loaders {
		for _, c := range sortedClasses(l.classes) {
			out = append(out, c.Descriptor())
		}
	}
	return out
}

func (rt *Runtime) emitLoadedFinalizers() {
	rt.mu.Lock()
	var descs []models.ClassDescriptor
	for _, l := range rt.loaders {
		for _, c := range sortedClasses(l.classes) {
			if c.OverridesFinalize {
				descs = append(descs, c.Descriptor())
			}
		}
	}
	rt.mu.Unlock()

	for _, d := range descs {
		rt.emitter.Emit(models.EventFinalizer, finalizerFields(d))
	}
}

func finalizerFields(d models.ClassDescriptor) map[string]models.Value {
	return map[string]models.Value{
		models.FieldOverridingClass: models.ClassValue(d),
	}
}

func sortedClasses(m map[string]*Class) []*Class {
	out := make([]*Class, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
