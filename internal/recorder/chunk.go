package recorder

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// ChunkView is a read-only view of one chunk, live or loaded from a dump.
type ChunkView interface {
	Info() models.ChunkInfo
	Records() ([]models.EventRecord, error)
}

// Chunk is an append-only segment of one recording's events. A chunk is open
// until sealed; once sealed it never changes again.
type Chunk struct {
	id    string
	index int
	start time.Time

	mu      sync.RWMutex
	records []models.EventRecord
	end     time.Time
	sealed  bool
}

func newChunk(index int, start time.Time) *Chunk {
	return &Chunk{
		id:    uuid.NewString(),
		index: index,
		start: start,
	}
}

// append stores rec at the end of the chunk. It reports false when the chunk
// has already been sealed.
func (c *Chunk) append(rec models.EventRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return false
	}
	c.records = append(c.records, rec)
	return true
}

// seal closes the chunk at the given time. Sealing twice keeps the first end.
func (c *Chunk) seal(end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return
	}
	c.sealed = true
	c.end = end
}

// Records returns the records appended so far. The returned slice is a
// consistent prefix and is never written to afterwards.
func (c *Chunk) Records() ([]models.EventRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.records[:len(c.records):len(c.records)], nil
}

// Len returns the number of records in the chunk.
func (c *Chunk) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Sealed reports whether the chunk is closed for appends.
func (c *Chunk) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}

// Info returns the chunk's metadata.
func (c *Chunk) Info() models.ChunkInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return models.ChunkInfo{
		ID:      c.id,
		Index:   c.index,
		Start:   c.start,
		End:     c.end,
		Sealed:  c.sealed,
		Records: len(c.records),
	}
}
