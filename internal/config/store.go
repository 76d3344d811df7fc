package config

import (
	"log"
	"sync/atomic"

	"waterwatch/internal/tagmap"
)

// Store publishes the current config snapshot. Readers always see a
// complete snapshot; Reload swaps in a fully built replacement.
type Store struct {
	path    string
	logger  *log.Logger
	current atomic.Pointer[Snapshot]
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithLogger assigns a logger for reload audit lines.
func WithLogger(logger *log.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore loads the initial snapshot from path.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	store := &Store{path: path}
	for _, opt := range opts {
		opt(store)
	}
	snapshot, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	store.current.Store(snapshot)
	return store, nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Mapping returns the current tag mapping.
func (s *Store) Mapping() *tagmap.Mapping {
	return s.Snapshot().Mapping()
}

// Reload rebuilds the snapshot from disk and swaps it in. On failure
// the previous snapshot stays published.
func (s *Store) Reload() error {
	snapshot, err := LoadSnapshot(s.path)
	if err != nil {
		return err
	}
	s.current.Store(snapshot)
	if s.logger != nil {
		s.logger.Printf("config reloaded path=%s tags=%d mapping_version=%s",
			s.path, len(snapshot.Tags), snapshot.MappingVersion)
	}
	return nil
}
