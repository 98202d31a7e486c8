package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when the requested schema version does not
	// exist in the registry.
	ErrNotFound = errors.New("schema not found")
	// ErrConflict is returned when a register call would alter the
	// definitions of an already-stored version.
	ErrConflict = errors.New("schema conflict")
)

// Registry is the append-only store of schema versions. There is no delete:
// every version ever published stays resolvable so old feature rows and
// model artifacts remain reproducible.
type Registry interface {
	// Get returns the schema for version, or ErrNotFound.
	Get(ctx context.Context, version int) (*FeatureSchema, error)
	// Latest returns the highest known version, or ErrNotFound when the
	// registry is empty.
	Latest(ctx context.Context) (*FeatureSchema, error)
	// Register appends s and returns the stored version. With Version 0
	// the next free version is assigned. Registering an existing version
	// with identical definitions is an idempotent no-op; with differing
	// definitions it fails with ErrConflict.
	Register(ctx context.Context, s *FeatureSchema) (int, error)
}

// MemoryRegistry is the in-process Registry. Register is linearized behind a
// single mutex so two concurrent calls can never hand out the same version
// for conflicting definitions.
type MemoryRegistry struct {
	mu       sync.RWMutex
	versions map[int]*FeatureSchema
	latest   int
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{versions: make(map[int]*FeatureSchema)}
}

// Get implements Registry.
func (r *MemoryRegistry) Get(ctx context.Context, version int) (*FeatureSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", ErrNotFound, version)
	}
	return s.Clone(), nil
}

// Latest implements Registry.
func (r *MemoryRegistry) Latest(ctx context.Context) (*FeatureSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == 0 {
		return nil, fmt.Errorf("%w: registry is empty", ErrNotFound)
	}
	return r.versions[r.latest].Clone(), nil
}

// Register implements Registry.
func (r *MemoryRegistry) Register(ctx context.Context, s *FeatureSchema) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, fmt.Errorf("invalid schema: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	version := s.Version
	if version == 0 {
		version = r.latest + 1
	}
	if existing, ok := r.versions[version]; ok {
		candidate := s.Clone()
		candidate.Version = version
		if existing.Equal(candidate) {
			return version, nil
		}
		return 0, fmt.Errorf("%w: version %d already registered with different definitions", ErrConflict, version)
	}

	stored := s.Clone()
	stored.Version = version
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.versions[version] = stored
	if version > r.latest {
		r.latest = version
	}
	return version, nil
}

// Versions returns all registered version numbers in ascending order.
func (r *MemoryRegistry) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
