package metrics

import (
	"time"

	"github.com/montanaflynn/stats"
)

// Epoch is the outcome of one train+evaluate cycle.
type Epoch struct {
	Epoch     int
	LR        float64
	TrainLoss float64
	TestLoss  float64
	Correct   int
	Total     int
	Duration  time.Duration
}

// Accuracy is the fraction of test pairs classified correctly.
func (e Epoch) Accuracy() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Correct) / float64(e.Total)
}

// History is the ordered list of finished epochs.
type History []Epoch

// Best returns the epoch with the highest accuracy, preferring the earliest.
func (h History) Best() (Epoch, bool) {
	if len(h) == 0 {
		return Epoch{}, false
	}
	best := h[0]
	for _, e := range h[1:] {
		if e.Accuracy() > best.Accuracy() {
			best = e
		}
	}
	return best, true
}

// TrainLosses lists the mean training loss of every epoch.
func (h History) TrainLosses() []float64 {
	out := make([]float64, len(h))
	for i, e := range h {
		out[i] = e.TrainLoss
	}
	return out
}

// TestLosses lists the evaluation loss of every epoch.
func (h History) TestLosses() []float64 {
	out := make([]float64, len(h))
	for i, e := range h {
		out[i] = e.TestLoss
	}
	return out
}

// Accuracies lists the test accuracy of every epoch.
func (h History) Accuracies() []float64 {
	out := make([]float64, len(h))
	for i, e := range h {
		out[i] = e.Accuracy()
	}
	return out
}

// MeanAccuracy averages the test accuracy over the last n epochs.
func (h History) MeanAccuracy(n int) float64 {
	if n <= 0 || len(h) == 0 {
		return 0
	}
	if n > len(h) {
		n = len(h)
	}
	m, err := stats.Mean(h[len(h)-n:].Accuracies())
	if err != nil {
		return 0
	}
	return m
}
