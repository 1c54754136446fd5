package recorder

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// Source is anything whose chunks can be replayed: a live Recording or a
// recording loaded back from a dump.
type Source interface {
	Chunks() ([]ChunkView, error)
}

// Reader replays a source's records in chronological order: chunk by chunk,
// and within a chunk in append order. Sealed chunks are read in full; the
// open chunk is read as of the moment the reader reaches it.
type Reader struct {
	chunks []ChunkView
	next   int
	buf    []models.EventRecord
}

// NewReader snapshots the source's chunk list. Each call produces an
// independent reader starting from the first chunk.
func NewReader(src Source) (*Reader, error) {
	chunks, err := src.Chunks()
	if err != nil {
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	return &Reader{chunks: chunks}, nil
}

// Next returns the next record, or io.EOF once every chunk has been read.
func (r *Reader) Next() (models.EventRecord, error) {
	for len(r.buf) == 0 {
		if r.next >= len(r.chunks) {
			return models.EventRecord{}, io.EOF
		}
		recs, err := r.chunks[r.next].Records()
		if err != nil {
			return models.EventRecord{}, fmt.Errorf("reading chunk %d: %w", r.next, err)
		}
		r.next++
		r.buf = recs
	}
	rec := r.buf[0]
	r.buf = r.buf[1:]
	return rec, nil
}

// Progress returns a value between 0 and 1 indicating how many of the
// snapshotted chunks have been consumed.
func (r *Reader) Progress() float64 {
	if len(r.chunks) == 0 {
		return 1
	}
	done := r.next
	if len(r.buf) > 0 {
		done--
	}
	return float64(done) / float64(len(r.chunks))
}

// All returns the remaining records as a sequence. Iteration stops after the
// first error, which is yielded with a zero record.
func (r *Reader) All() iter.Seq2[models.EventRecord, error] {
	return func(yield func(models.EventRecord, error) bool) {
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Read returns a fresh lazy sequence over the source's records.
func Read(src Source) iter.Seq2[models.EventRecord, error] {
	return func(yield func(models.EventRecord, error) bool) {
		r, err := NewReader(src)
		if err != nil {
			yield(models.EventRecord{}, err)
			return
		}
		for rec, err := range r.All() {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// FromRecording reads every record of the source. It fails with
// ErrEmptyResult when nothing was recorded.
func FromRecording(src Source) ([]models.EventRecord, error) {
	var out []models.EventRecord
	for rec, err := range Read(src) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := HasEvents(out); err != nil {
		return nil, err
	}
	return out, nil
}

// HasEvents returns ErrEmptyResult if records is empty.
func HasEvents(records []models.EventRecord) error {
	if len(records) == 0 {
		return ErrEmptyResult
	}
	return nil
}
