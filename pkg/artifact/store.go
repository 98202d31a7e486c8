package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound reports a lookup for an artifact ID the store has never seen.
var ErrNotFound = errors.New("artifact not found")

var (
	artStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health",
		Subsystem: "artifacts",
		Name:      "stored_total",
		Help:      "Total number of model artifacts persisted.",
	})
	artLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health",
		Subsystem: "artifacts",
		Name:      "loads_total",
		Help:      "Artifact loads by result.",
	}, []string{"result"})
)

func init() {
	// Safe register; ignore duplicate registration in case of multiple imports
	_ = prometheus.Register(artStored)
	_ = prometheus.Register(artLoads)
}

// FileStore keeps artifacts on disk as <id>.model plus <id>.json metadata,
// with an in-memory metadata index and an optional Redis cache for sharing
// metadata across replicas. The Redis client may be nil.
type FileStore struct {
	dir   string
	redis *redis.Client
	mu    sync.RWMutex
	meta  map[string]*Metadata
}

// NewFileStore opens (or creates) an artifact directory and indexes the
// metadata already present in it.
func NewFileStore(dir string, redisClient *redis.Client) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	s := &FileStore{
		dir:   dir,
		redis: redisClient,
		meta:  make(map[string]*Metadata),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) loadIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read artifact dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil || m.ID == "" {
			continue
		}
		s.meta[m.ID] = &m
	}
	return nil
}

// Put persists an artifact. Both files are written to temp paths and
// renamed so a crash never leaves a half-written artifact behind.
func (s *FileStore) Put(ctx context.Context, a *Artifact) error {
	if a.Metadata.ID == "" {
		return errors.New("artifact has no ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.modelPath(a.Metadata.ID), a.Model); err != nil {
		return fmt.Errorf("write model file: %w", err)
	}
	metaJSON, err := json.MarshalIndent(a.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(s.metaPath(a.Metadata.ID), metaJSON); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}

	m := a.Metadata
	s.meta[m.ID] = &m
	artStored.Inc()

	if s.redis != nil {
		if err := s.redis.Set(ctx, redisArtifactKey(m.ID), metaJSON, 24*time.Hour).Err(); err != nil {
			// Cache only; disk is the source of truth.
			return nil
		}
	}
	return nil
}

// Get loads an artifact and verifies the model bytes against the recorded
// hash before handing them out.
func (s *FileStore) Get(ctx context.Context, id string) (*Artifact, error) {
	meta, err := s.getMetadata(ctx, id)
	if err != nil {
		artLoads.WithLabelValues("miss").Inc()
		return nil, err
	}
	data, err := os.ReadFile(s.modelPath(id))
	if err != nil {
		artLoads.WithLabelValues("error").Inc()
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (metadata present, model file missing)", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read model file: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != meta.ModelHash {
		artLoads.WithLabelValues("corrupt").Inc()
		return nil, fmt.Errorf("artifact %s model hash mismatch: stored %s, file %s", id, meta.ModelHash, got)
	}
	artLoads.WithLabelValues("hit").Inc()
	m := *meta
	return &Artifact{Metadata: m, Model: data}, nil
}

// List returns all artifact metadata sorted newest first.
func (s *FileStore) List(ctx context.Context) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Metadata, 0, len(s.meta))
	for _, m := range s.meta {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) getMetadata(ctx context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	m, ok := s.meta[id]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}
	if s.redis != nil {
		data, err := s.redis.Get(ctx, redisArtifactKey(id)).Bytes()
		if err == nil {
			var cached Metadata
			if err := json.Unmarshal(data, &cached); err == nil && cached.ID == id {
				s.mu.Lock()
				s.meta[id] = &cached
				s.mu.Unlock()
				return &cached, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *FileStore) modelPath(id string) string {
	return filepath.Join(s.dir, id+".model")
}

func (s *FileStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func redisArtifactKey(id string) string {
	return fmt.Sprintf("health:artifact:%s", id)
}
