// Package artifact persists trained models and their metadata. A model
// artifact is immutable once stored: the bytes are hashed at write time and
// the hash is re-verified on every load.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Metadata describes one trained model. It is stored as JSON next to the
// serialized model so an artifact directory is self-describing.
type Metadata struct {
	ID            string             `json:"id"`
	Algorithm     string             `json:"algorithm"`
	SchemaVersion int                `json:"schema_version"`
	FeatureNames  []string           `json:"feature_names"`
	Metrics       map[string]float64 `json:"metrics"`
	ModelHash     string             `json:"model_hash"`
	ModelSize     int64              `json:"model_size"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Artifact pairs metadata with the serialized model bytes. The package does
// not interpret the bytes; encoding and decoding belong to the model layer.
type Artifact struct {
	Metadata Metadata
	Model    []byte
}

// New builds an artifact around an encoded model. The schema version and
// feature order recorded here pin inference: a loaded artifact is only ever
// evaluated against the schema version it was trained under.
func New(algorithm string, encodedModel []byte, schemaVersion int, featureNames []string, metrics map[string]float64) *Artifact {
	sum := sha256.Sum256(encodedModel)
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return &Artifact{
		Metadata: Metadata{
			ID:            uuid.NewString(),
			Algorithm:     algorithm,
			SchemaVersion: schemaVersion,
			FeatureNames:  names,
			Metrics:       metrics,
			ModelHash:     hex.EncodeToString(sum[:]),
			ModelSize:     int64(len(encodedModel)),
			CreatedAt:     time.Now().UTC(),
		},
		Model: encodedModel,
	}
}
