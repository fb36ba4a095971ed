package metrics

import (
	"time"

	"github.com/montanaflynn/stats"
)

// Window accumulates timing and loss stats across multiple steps.
type Window struct {
	pairs   int
	data    time.Duration
	compute time.Duration
	losses  []float64

	// total counts pairs over the window's lifetime and survives Snapshot.
	total int64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.pairs += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.losses = append(w.losses, loss)
	w.total += int64(batchSize)
}

// Total is the number of pairs recorded since the window was created.
func (w *Window) Total() int64 {
	return w.total
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: len(w.losses)}
	total := w.data + w.compute
	if total > 0 {
		snap.PairsPerSec = float64(w.pairs) / total.Seconds()
	}
	if n := len(w.losses); n > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(n)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(n)
		snap.LastLoss = w.losses[n-1]
		// Errors only occur on empty input.
		snap.MeanLoss, _ = stats.Mean(w.losses)
		snap.MedianLoss, _ = stats.Median(w.losses)
		snap.StdDevLoss, _ = stats.StandardDeviation(w.losses)
	}

	w.pairs = 0
	w.data = 0
	w.compute = 0
	w.losses = nil
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	PairsPerSec  float64
	AvgDataMS    float64
	AvgComputeMS float64
	LastLoss     float64
	MeanLoss     float64
	MedianLoss   float64
	StdDevLoss   float64
}
