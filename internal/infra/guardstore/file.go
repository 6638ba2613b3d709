package guardstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/carte/errs"
)

// fileSnapshot is the on-disk layout of a FileStore.
type fileSnapshot struct {
	Markers   []fileMarker `json:"markers"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type fileMarker struct {
	Key      string    `json:"key"`
	MarkedAt time.Time `json:"marked_at"`
}

// FileStore keeps markers in memory and rewrites a JSON file after every Mark
// so markers survive restarts.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	markers map[string]time.Time
}

// OpenFileStore loads markers from path, creating the file lazily on first Mark.
func OpenFileStore(path string) (*FileStore, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return nil, errs.New("guardstore/file-open", errs.CodeInvalid, errs.WithMessage("guard file path required"))
	}
	clean = filepath.Clean(clean)
	snap, err := readFileSnapshot(clean)
	if err != nil {
		return nil, storageError("guardstore/file-open", fmt.Errorf("read %s: %w", clean, err))
	}
	store := &FileStore{path: clean, markers: make(map[string]time.Time, len(snap.Markers))}
	for _, m := range snap.Markers {
		if key := strings.TrimSpace(m.Key); key != "" {
			store.markers[key] = m.MarkedAt
		}
	}
	return store, nil
}

// Has reports whether the marker exists.
func (s *FileStore) Has(ctx context.Context, key string) (bool, error) {
	trimmed, err := validateKey("guardstore/file-has", key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("file guard has context: %w", err)
	}
	s.mu.RLock()
	_, ok := s.markers[trimmed]
	s.mu.RUnlock()
	return ok, nil
}

// Mark records the marker and flushes the file before returning.
func (s *FileStore) Mark(ctx context.Context, key string) error {
	trimmed, err := validateKey("guardstore/file-mark", key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file guard mark context: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[trimmed]; ok {
		return nil
	}
	now := time.Now().UTC()
	s.markers[trimmed] = now
	if err := writeFileSnapshot(s.path, s.snapshotLocked(now)); err != nil {
		delete(s.markers, trimmed)
		return storageError("guardstore/file-mark", err)
	}
	return nil
}

// Close is a no-op; every Mark is already flushed.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) snapshotLocked(now time.Time) fileSnapshot {
	markers := make([]fileMarker, 0, len(s.markers))
	for key, at := range s.markers {
		markers = append(markers, fileMarker{Key: key, MarkedAt: at})
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].Key < markers[j].Key })
	return fileSnapshot{Markers: markers, UpdatedAt: now}
}

func readFileSnapshot(path string) (fileSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileSnapshot{}, nil
		}
		return fileSnapshot{}, err
	}
	if len(data) == 0 {
		return fileSnapshot{}, nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fileSnapshot{}, fmt.Errorf("decode guard file: %w", err)
	}
	return snap, nil
}

func writeFileSnapshot(path string, snap fileSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create guard directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode guard file: %w", err)
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return fmt.Errorf("write guard file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		return fmt.Errorf("replace guard file: %w", err)
	}
	return nil
}
