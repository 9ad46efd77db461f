// Package calibration persists per-channel calibration records. Position
// sensors are calibrated against two raw endpoints plus the mechanical
// stroke of the cylinder they watch; the records live outside the binary so
// a recalibration survives restarts.
package calibration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"benchlink/internal/types"
)

// Record holds one channel's calibration. Min and Max are raw counts taken
// at the retracted and extended endpoints; a nil pointer means the endpoint
// was never taught. Stroke is the mechanical travel in millimetres, zero
// means "use the driver default".
type Record struct {
	Min    *int    `json:"min,omitempty"`
	Max    *int    `json:"max,omitempty"`
	Stroke float64 `json:"stroke,omitempty"`
}

// Store is the keyed calibration backend. Keys follow the bench channel
// naming ("X1.3").
type Store interface {
	Record(key string) (Record, bool)
	Put(key string, rec Record) error
}

// FileStore keeps all records in a single JSON document on disk.
type FileStore struct {
	path string

	mu   sync.Mutex
	recs map[string]Record
}

// OpenFile loads the store from path. A missing file yields an empty store,
// a malformed one is a configuration error.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		recs: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.recs); err != nil {
		return nil, fmt.Errorf("%w: calibration file %s: %v", types.ErrConfiguration, path, err)
	}
	return s, nil
}

func (s *FileStore) Record(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	return rec, ok
}

// Put stores a record and rewrites the backing file.
func (s *FileStore) Put(key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs[key] = rec

	data, err := json.MarshalIndent(s.recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write calibration file: %w", err)
	}
	return nil
}

// Keys returns all known channel keys, sorted.
func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.recs))
	for k := range s.recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
