// Package infer serves predictions from stored model artifacts. Every
// prediction is computed under the schema version the artifact was trained
// with; if that version is gone the request fails rather than silently
// using a newer schema.
package infer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pulseguard/pkg/artifact"
	"pulseguard/pkg/health"
	"pulseguard/pkg/ingest"
	"pulseguard/pkg/model"
	"pulseguard/pkg/schema"
	"pulseguard/pkg/transform"
)

// ArtifactSource loads stored artifacts by ID.
type ArtifactSource interface {
	Get(ctx context.Context, id string) (*artifact.Artifact, error)
}

var (
	infPredictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health",
		Subsystem: "inference",
		Name:      "predictions_total",
		Help:      "Predictions served, by risk level.",
	}, []string{"level"})
	infFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health",
		Subsystem: "inference",
		Name:      "failures_total",
		Help:      "Failed prediction requests, by reason.",
	}, []string{"reason"})
)

func init() {
	// Safe register; ignore duplicate registration in case of multiple imports
	_ = prometheus.Register(infPredictions)
	_ = prometheus.Register(infFailures)
}

// Adapter turns raw observations into a risk prediction using a pinned
// model artifact. Decoded classifiers are cached per artifact ID: the
// artifact is immutable, so the cache never needs invalidation.
type Adapter struct {
	registry  schema.Registry
	artifacts ArtifactSource

	mu    sync.RWMutex
	cache map[string]cachedModel
}

type cachedModel struct {
	classifier model.Classifier
	meta       artifact.Metadata
}

// NewAdapter builds an inference adapter over a schema registry and an
// artifact source.
func NewAdapter(registry schema.Registry, artifacts ArtifactSource) *Adapter {
	return &Adapter{
		registry:  registry,
		artifacts: artifacts,
		cache:     make(map[string]cachedModel),
	}
}

// Predict normalizes the raw rows, derives the feature vector under the
// artifact's pinned schema version, and scores it.
//
// The schema version comes from the artifact and nowhere else. When the
// registry no longer holds that version the call fails; falling back to the
// latest schema would feed the model a vector it was never trained on.
func (a *Adapter) Predict(ctx context.Context, source health.SourceType, raw []map[string]string, artifactID string) (*health.RiskPrediction, error) {
	cm, err := a.loadModel(ctx, artifactID)
	if err != nil {
		infFailures.WithLabelValues("artifact").Inc()
		return nil, err
	}

	sch, err := a.registry.Get(ctx, cm.meta.SchemaVersion)
	if err != nil {
		infFailures.WithLabelValues("schema").Inc()
		if errors.Is(err, schema.ErrNotFound) {
			latest := "none"
			if l, lerr := a.registry.Latest(ctx); lerr == nil {
				latest = fmt.Sprintf("%d", l.Version)
			}
			return nil, fmt.Errorf("artifact %s is pinned to schema version %d, which is no longer registered (latest is %s): %w",
				artifactID, cm.meta.SchemaVersion, latest, err)
		}
		return nil, fmt.Errorf("load schema version %d: %w", cm.meta.SchemaVersion, err)
	}

	records := make([]health.CanonicalRecord, 0, len(raw))
	for i, row := range raw {
		rec, err := ingest.Normalize(source, row)
		if err != nil {
			infFailures.WithLabelValues("normalize").Inc()
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, *rec)
	}

	featureRow, err := transform.One(sch, records)
	if err != nil {
		infFailures.WithLabelValues("transform").Inc()
		return nil, fmt.Errorf("derive features: %w", err)
	}

	x, err := model.VectorizeRow(featureRow, sch, cm.meta.FeatureNames)
	if err != nil {
		infFailures.WithLabelValues("vectorize").Inc()
		return nil, err
	}

	proba := cm.classifier.PredictProba(x)
	level, ok := health.LevelFromIndex(model.Argmax(proba))
	if !ok {
		infFailures.WithLabelValues("model").Inc()
		return nil, fmt.Errorf("model %s produced an empty probability vector", artifactID)
	}

	probs := make(map[health.RiskLevel]float64, len(proba))
	for i, p := range proba {
		if l, ok := health.LevelFromIndex(i); ok {
			probs[l] = p
		}
	}
	infPredictions.WithLabelValues(string(level)).Inc()
	return &health.RiskPrediction{
		Level:         level,
		Probabilities: probs,
		SchemaVersion: cm.meta.SchemaVersion,
		ModelID:       cm.meta.ID,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

func (a *Adapter) loadModel(ctx context.Context, artifactID string) (cachedModel, error) {
	a.mu.RLock()
	cm, ok := a.cache[artifactID]
	a.mu.RUnlock()
	if ok {
		return cm, nil
	}

	art, err := a.artifacts.Get(ctx, artifactID)
	if err != nil {
		return cachedModel{}, fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	classifier, err := model.Decode(art.Model)
	if err != nil {
		return cachedModel{}, fmt.Errorf("decode artifact %s: %w", artifactID, err)
	}
	cm = cachedModel{classifier: classifier, meta: art.Metadata}

	a.mu.Lock()
	a.cache[artifactID] = cm
	a.mu.Unlock()
	return cm, nil
}
