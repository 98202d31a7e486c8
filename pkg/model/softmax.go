package model

import (
	"fmt"
	"math"
)

// SoftmaxRegression is a multinomial logistic regression trained with
// full-batch gradient descent. Inputs are standardized with the training
// mean and deviation, which travel with the model so inference applies the
// identical transform.
type SoftmaxRegression struct {
	Weights      [][]float64 `json:"weights"` // [class][feature]
	Bias         []float64   `json:"bias"`
	NumClasses   int         `json:"num_classes"`
	LearningRate float64     `json:"learning_rate"`
	Epochs       int         `json:"epochs"`
	L2           float64     `json:"l2"`
	Mean         []float64   `json:"mean"`
	Std          []float64   `json:"std"`
}

// NewSoftmaxRegression creates an untrained model with sane defaults.
func NewSoftmaxRegression(numClasses int) *SoftmaxRegression {
	return &SoftmaxRegression{
		NumClasses:   numClasses,
		LearningRate: 0.1,
		Epochs:       400,
		L2:           1e-4,
	}
}

// Algorithm implements Classifier.
func (m *SoftmaxRegression) Algorithm() string { return AlgorithmSoftmax }

// Fit implements Classifier. Full-batch descent keeps training a pure
// function of the data: no shuffling, no random init.
func (m *SoftmaxRegression) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("softmax: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("softmax: %d rows but %d labels", len(X), len(y))
	}
	d := len(X[0])
	if m.NumClasses < 2 {
		return fmt.Errorf("softmax: need at least 2 classes, have %d", m.NumClasses)
	}
	for _, label := range y {
		if label < 0 || label >= m.NumClasses {
			return fmt.Errorf("softmax: label %d out of range", label)
		}
	}

	m.fitScaler(X, d)
	scaled := make([][]float64, len(X))
	for i, x := range X {
		scaled[i] = m.scale(x)
	}

	m.Weights = make([][]float64, m.NumClasses)
	for c := range m.Weights {
		m.Weights[c] = make([]float64, d)
	}
	m.Bias = make([]float64, m.NumClasses)

	n := float64(len(scaled))
	for epoch := 0; epoch < m.Epochs; epoch++ {
		gradW := make([][]float64, m.NumClasses)
		for c := range gradW {
			gradW[c] = make([]float64, d)
		}
		gradB := make([]float64, m.NumClasses)

		for i, x := range scaled {
			p := m.proba(x)
			for c := 0; c < m.NumClasses; c++ {
				diff := p[c]
				if c == y[i] {
					diff -= 1
				}
				for j := 0; j < d; j++ {
					gradW[c][j] += diff * x[j]
				}
				gradB[c] += diff
			}
		}
		for c := 0; c < m.NumClasses; c++ {
			for j := 0; j < d; j++ {
				g := gradW[c][j]/n + m.L2*m.Weights[c][j]
				m.Weights[c][j] -= m.LearningRate * g
			}
			m.Bias[c] -= m.LearningRate * gradB[c] / n
		}
	}
	return nil
}

// PredictProba implements Classifier.
func (m *SoftmaxRegression) PredictProba(x []float64) []float64 {
	return m.proba(m.scale(x))
}

func (m *SoftmaxRegression) fitScaler(X [][]float64, d int) {
	m.Mean = make([]float64, d)
	m.Std = make([]float64, d)
	for _, x := range X {
		for j, v := range x {
			m.Mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range m.Mean {
		m.Mean[j] /= n
	}
	for _, x := range X {
		for j, v := range x {
			dv := v - m.Mean[j]
			m.Std[j] += dv * dv
		}
	}
	for j := range m.Std {
		m.Std[j] = math.Sqrt(m.Std[j] / n)
		if m.Std[j] == 0 {
			m.Std[j] = 1 // constant feature; avoid dividing by zero
		}
	}
}

func (m *SoftmaxRegression) scale(x []float64) []float64 {
	if len(m.Mean) != len(x) {
		return x
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - m.Mean[j]) / m.Std[j]
	}
	return out
}

// proba computes a numerically stable softmax over the class logits.
func (m *SoftmaxRegression) proba(x []float64) []float64 {
	logits := make([]float64, m.NumClasses)
	maxLogit := math.Inf(-1)
	for c := 0; c < m.NumClasses; c++ {
		z := m.Bias[c]
		for j, v := range x {
			if j < len(m.Weights[c]) {
				z += m.Weights[c][j] * v
			}
		}
		logits[c] = z
		if z > maxLogit {
			maxLogit = z
		}
	}
	sum := 0.0
	for c, z := range logits {
		logits[c] = math.Exp(z - maxLogit)
		sum += logits[c]
	}
	for c := range logits {
		logits[c] /= sum
	}
	return logits
}
