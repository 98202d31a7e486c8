// Package model trains and evaluates risk classifiers. Every classifier is
// JSON-serializable so a trained model can be persisted next to its metadata
// and reloaded for inference without loss.
package model

import (
	"encoding/json"
	"fmt"
)

// Supported algorithms.
const (
	AlgorithmSoftmax = "softmax"
	AlgorithmForest  = "forest"
	AlgorithmBanded  = "banded"
)

// Classifier is the contract every candidate model implements. Fit and
// PredictProba are deterministic: given the same data (and seed, where the
// algorithm uses one) they produce the same model and the same outputs.
type Classifier interface {
	// Fit trains on feature matrix X and class indices y.
	Fit(X [][]float64, y []int) error
	// PredictProba returns one probability per class index.
	PredictProba(x []float64) []float64
	// Algorithm names the model family.
	Algorithm() string
}

// envelope wraps a serialized classifier with its algorithm tag so Decode
// can reconstruct the right concrete type.
type envelope struct {
	Algorithm string          `json:"algorithm"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serializes a classifier for persistence.
func Encode(c Classifier) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", c.Algorithm(), err)
	}
	return json.Marshal(envelope{Algorithm: c.Algorithm(), Payload: payload})
}

// Decode reconstructs a classifier serialized by Encode.
func Decode(data []byte) (Classifier, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode model envelope: %w", err)
	}
	var c Classifier
	switch env.Algorithm {
	case AlgorithmSoftmax:
		c = &SoftmaxRegression{}
	case AlgorithmForest:
		c = &RandomForest{}
	case AlgorithmBanded:
		c = &BandedScorer{}
	default:
		return nil, fmt.Errorf("unknown model algorithm %q", env.Algorithm)
	}
	if err := json.Unmarshal(env.Payload, c); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Algorithm, err)
	}
	return c, nil
}
