package model

// Metrics summarizes classification quality on one evaluation set.
type Metrics struct {
	Accuracy  float64                 `json:"accuracy"`
	MacroF1   float64                 `json:"macro_f1"`
	PerClass  map[string]ClassMetrics `json:"per_class"`
	Support   int                     `json:"support"`
	Confusion [][]int                 `json:"confusion"` // [actual][predicted]
}

// ClassMetrics holds one class's precision, recall, and F1.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluate scores predictions against truth over numClasses classes.
// Macro F1 averages only over classes present in the truth labels, so a
// set with no High-risk examples is not penalized for an undefined class.
func Evaluate(yTrue, yPred []int, numClasses int, classNames []string) Metrics {
	m := Metrics{
		Support:  len(yTrue),
		PerClass: make(map[string]ClassMetrics, numClasses),
	}
	m.Confusion = make([][]int, numClasses)
	for i := range m.Confusion {
		m.Confusion[i] = make([]int, numClasses)
	}

	correct := 0
	for i, actual := range yTrue {
		pred := yPred[i]
		m.Confusion[actual][pred]++
		if actual == pred {
			correct++
		}
	}
	if len(yTrue) > 0 {
		m.Accuracy = float64(correct) / float64(len(yTrue))
	}

	var f1Sum float64
	present := 0
	for c := 0; c < numClasses; c++ {
		tp := m.Confusion[c][c]
		var fp, fn, support int
		for o := 0; o < numClasses; o++ {
			if o != c {
				fp += m.Confusion[o][c]
				fn += m.Confusion[c][o]
			}
			support += m.Confusion[c][o]
		}
		cm := ClassMetrics{Support: support}
		if tp+fp > 0 {
			cm.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			cm.Recall = float64(tp) / float64(tp+fn)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		m.PerClass[classNames[c]] = cm
		if support > 0 {
			f1Sum += cm.F1
			present++
		}
	}
	if present > 0 {
		m.MacroF1 = f1Sum / float64(present)
	}
	return m
}

// Argmax returns the index of the largest probability; ties break to the
// lower index so predictions stay deterministic. An empty vector yields -1
// so callers can distinguish it from a genuine class index.
func Argmax(proba []float64) int {
	if len(proba) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(proba); i++ {
		if proba[i] > proba[best] {
			best = i
		}
	}
	return best
}
