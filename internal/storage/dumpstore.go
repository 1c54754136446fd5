package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// ErrNotStopped is returned when dumping a recording that is not stopped.
var ErrNotStopped = errors.New("recording must be stopped before dumping")

const (
	dumpVersion   = "1.0"
	indexFileName = "index.yaml"
	maxLineSize   = 1 << 20
)

// DumpStoreManager persists stopped recordings and loads them back so they
// can be replayed with a recorder.Reader.
type DumpStoreManager interface {
	Dump(rec *recorder.Recording) (*Dump, error)
	Load(dir string) (*Dump, error)
	List() ([]*Dump, error)
}

type fileDumpStore struct {
	basePath string
}

// NewDumpStore creates a DumpStoreManager writing one directory per dump
// under basePath: an index.yaml plus one JSON Lines file per chunk.
func NewDumpStore(basePath string) DumpStoreManager {
	return &fileDumpStore{basePath: basePath}
}

// Dump writes a stopped recording to a new directory.
func (s *fileDumpStore) Dump(rec *recorder.Recording) (*Dump, error) {
	info := rec.Info()
	if info.State != models.StateStopped {
		return nil, fmt.Errorf("dumping recording %q (%s): %w", info.Name, info.State, ErrNotStopped)
	}

	chunks, err := rec.Chunks()
	if err != nil {
		return nil, fmt.Errorf("dumping recording %q: %w", info.Name, err)
	}

	dumpID := uuid.NewString()
	dir := filepath.Join(s.basePath, dumpID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dumping recording %q: creating directory: %w", info.Name, err)
	}

	index := models.DumpIndex{
		Version:   dumpVersion,
		DumpID:    dumpID,
		DumpedAt:  time.Now().UTC(),
		Recording: info,
		Chunks:    make([]models.ChunkInfo, len(chunks)),
	}

	var eg errgroup.Group
	for i, c := range chunks {
		eg.Go(func() error {
			ci := c.Info()
			ci.File = fmt.Sprintf("chunk-%03d.jsonl", i)
			records, err := c.Records()
			if err != nil {
				return fmt.Errorf("reading chunk %d: %w", i, err)
			}
			if err := writeChunk(filepath.Join(dir, ci.File), records); err != nil {
				return fmt.Errorf("writing chunk %d: %w", i, err)
			}
			ci.Records = len(records)
			index.Chunks[i] = ci
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("dumping recording %q: %w", info.Name, err)
	}

	if err := saveYAML(filepath.Join(dir, indexFileName), &index); err != nil {
		return nil, fmt.Errorf("dumping recording %q: writing index: %w", info.Name, err)
	}
	return &Dump{Dir: dir, Index: index}, nil
}

// Load reads the index of the dump in dir. Chunk files are read lazily.
func (s *fileDumpStore) Load(dir string) (*Dump, error) {
	if !filepath.IsAbs(dir) {
		if _, err := os.Stat(dir); err != nil {
			dir = filepath.Join(s.basePath, dir)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("loading dump %s: %w", dir, err)
	}
	var index models.DumpIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("loading dump %s: parsing index: %w", dir, err)
	}
	if index.Version == "" {
		return nil, fmt.Errorf("loading dump %s: index has no version", dir)
	}
	return &Dump{Dir: dir, Index: index}, nil
}

// List returns every dump under the base path, newest first.
func (s *fileDumpStore) List() ([]*Dump, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing dumps: %w", err)
	}

	var dumps []*Dump
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d, err := s.Load(filepath.Join(s.basePath, e.Name()))
		if err != nil {
			continue // not a dump directory
		}
		dumps = append(dumps, d)
	}
	sort.Slice(dumps, func(i, j int) bool {
		return dumps[i].Index.DumpedAt.After(dumps[j].Index.DumpedAt)
	})
	return dumps, nil
}

// Dump is a recording loaded back from disk. It implements recorder.Source.
type Dump struct {
	Dir   string
	Index models.DumpIndex
}

// Chunks returns views over the dumped chunk files in chronological order.
func (d *Dump) Chunks() ([]recorder.ChunkView, error) {
	views := make([]recorder.ChunkView, len(d.Index.Chunks))
	for i, ci := range d.Index.Chunks {
		views[i] = &dumpChunk{path: filepath.Join(d.Dir, ci.File), info: ci}
	}
	return views, nil
}

// Verify reads every chunk file concurrently and checks it holds as many
// records as the index says.
func (d *Dump) Verify(ctx context.Context) error {
	chunks, err := d.Chunks()
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := c.Records()
			if err != nil {
				return err
			}
			if want := c.Info().Records; len(records) != want {
				return fmt.Errorf("chunk %d: %d records on disk, index says %d", c.Info().Index, len(records), want)
			}
			return nil
		})
	}
	return eg.Wait()
}

type dumpChunk struct {
	path string
	info models.ChunkInfo
}

func (c *dumpChunk) Info() models.ChunkInfo {
	return c.info
}

func (c *dumpChunk) Records() ([]models.EventRecord, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []models.EventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec models.EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: decoding record: %w", filepath.Base(c.path), line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning chunk file: %w", err)
	}
	return records, nil
}

func writeChunk(path string, records []models.EventRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return fmt.Errorf("encoding record #%d: %w", rec.Seq, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func saveYAML(path string, source interface{}) error {
	data, err := yaml.Marshal(source)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
