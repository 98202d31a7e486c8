package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// RandomForest is a bagged ensemble of CART trees with gini splits. The
// seed is part of the model: retraining on the same rows reproduces the
// same forest bit for bit.
type RandomForest struct {
	Trees      []*treeNode `json:"trees"`
	NumTrees   int         `json:"num_trees"`
	MaxDepth   int         `json:"max_depth"`
	MinLeaf    int         `json:"min_leaf"`
	NumClasses int         `json:"num_classes"`
	Seed       int64       `json:"seed"`
}

type treeNode struct {
	Leaf  bool      `json:"leaf"`
	Dist  []float64 `json:"dist,omitempty"` // class distribution at a leaf
	Dim   int       `json:"dim,omitempty"`
	Split float64   `json:"split,omitempty"`
	Left  *treeNode `json:"left,omitempty"`
	Right *treeNode `json:"right,omitempty"`
}

// NewRandomForest creates an untrained forest with sane defaults.
func NewRandomForest(numClasses int) *RandomForest {
	return &RandomForest{
		NumTrees:   50,
		MaxDepth:   8,
		MinLeaf:    2,
		NumClasses: numClasses,
		Seed:       1,
	}
}

// Algorithm implements Classifier.
func (f *RandomForest) Algorithm() string { return AlgorithmForest }

// Fit implements Classifier.
func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("forest: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("forest: %d rows but %d labels", len(X), len(y))
	}
	if f.NumClasses < 2 {
		return fmt.Errorf("forest: need at least 2 classes, have %d", f.NumClasses)
	}
	rng := rand.New(rand.NewSource(f.Seed))
	d := len(X[0])
	mtry := int(math.Ceil(math.Sqrt(float64(d))))

	f.Trees = make([]*treeNode, f.NumTrees)
	for t := 0; t < f.NumTrees; t++ {
		// Bootstrap sample with replacement.
		idxs := make([]int, len(X))
		for i := range idxs {
			idxs[i] = rng.Intn(len(X))
		}
		f.Trees[t] = f.buildTree(X, y, idxs, 0, mtry, rng)
	}
	return nil
}

func (f *RandomForest) buildTree(X [][]float64, y []int, idxs []int, depth, mtry int, rng *rand.Rand) *treeNode {
	counts := make([]float64, f.NumClasses)
	for _, i := range idxs {
		counts[y[i]]++
	}
	if depth >= f.MaxDepth || len(idxs) <= f.MinLeaf || pure(counts) {
		return leaf(counts)
	}

	d := len(X[0])
	dims := rng.Perm(d)[:mtry]
	sort.Ints(dims) // stable evaluation order for a given permutation

	bestGini := math.Inf(1)
	bestDim, bestSplit := -1, 0.0
	for _, dim := range dims {
		values := make([]float64, 0, len(idxs))
		for _, i := range idxs {
			values = append(values, X[i][dim])
		}
		sort.Float64s(values)
		for v := 1; v < len(values); v++ {
			if values[v] == values[v-1] {
				continue
			}
			split := (values[v] + values[v-1]) / 2
			g := f.splitGini(X, y, idxs, dim, split)
			if g < bestGini {
				bestGini, bestDim, bestSplit = g, dim, split
			}
		}
	}
	if bestDim < 0 {
		return leaf(counts)
	}

	var left, right []int
	for _, i := range idxs {
		if X[i][bestDim] < bestSplit {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return leaf(counts)
	}
	return &treeNode{
		Dim:   bestDim,
		Split: bestSplit,
		Left:  f.buildTree(X, y, left, depth+1, mtry, rng),
		Right: f.buildTree(X, y, right, depth+1, mtry, rng),
	}
}

func (f *RandomForest) splitGini(X [][]float64, y []int, idxs []int, dim int, split float64) float64 {
	leftCounts := make([]float64, f.NumClasses)
	rightCounts := make([]float64, f.NumClasses)
	var nl, nr float64
	for _, i := range idxs {
		if X[i][dim] < split {
			leftCounts[y[i]]++
			nl++
		} else {
			rightCounts[y[i]]++
			nr++
		}
	}
	return (nl*gini(leftCounts, nl) + nr*gini(rightCounts, nr)) / (nl + nr)
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func pure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func leaf(counts []float64) *treeNode {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	dist := make([]float64, len(counts))
	if total > 0 {
		for i, c := range counts {
			dist[i] = c / total
		}
	}
	return &treeNode{Leaf: true, Dist: dist}
}

// PredictProba implements Classifier: the mean of the leaf distributions
// across all trees.
func (f *RandomForest) PredictProba(x []float64) []float64 {
	proba := make([]float64, f.NumClasses)
	if len(f.Trees) == 0 {
		return proba
	}
	for _, t := range f.Trees {
		node := t
		for !node.Leaf {
			if x[node.Dim] < node.Split {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		for c, p := range node.Dist {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba
}
