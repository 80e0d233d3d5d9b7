package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

// Store persists snapshots as one JSON file per snapshot under dir,
// named by ID (spec Section 6: "on-disk layout: under a snapshot
// directory, one file per snapshot, named by id"). It is the system
// of record; Export/Import to object storage is a pure backup
// convenience layered on top.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore opens (creating if necessary) a snapshot store rooted at
// dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes snap to disk. Snapshots are append-only: Save refuses to
// overwrite an existing file for the same ID.
func (s *Store) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(snap.ID)
	if _, err := os.Stat(path); err == nil {
		return bpkgerrors.NewConflict("snapshot:" + snap.ID)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads the snapshot with id from disk.
func (s *Store) Load(id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bpkgerrors.NewNotFound("snapshot " + id)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// Latest returns the most recently captured snapshot, or NotFound if
// the store is empty.
func (s *Store) Latest() (*Snapshot, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, bpkgerrors.NewNotFound("no snapshots captured yet")
	}
	return all[len(all)-1], nil
}

// List returns every snapshot in the store, ordered oldest-to-newest
// by CapturedAt.
func (s *Store) List() ([]*Snapshot, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list snapshot dir: %w", err)
	}

	var out []*Snapshot
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		snap, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}
