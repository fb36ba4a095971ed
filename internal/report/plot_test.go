package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siamese-iris/internal/metrics"
)

func TestSaveCurvesWritesPNG(t *testing.T) {
	h := metrics.History{
		{Epoch: 1, TrainLoss: 0.69, TestLoss: 0.0007, Correct: 40, Total: 80},
		{Epoch: 2, TrainLoss: 0.55, TestLoss: 0.0006, Correct: 52, Total: 80},
	}
	path := filepath.Join(t.TempDir(), "out", "loss.png")
	require.NoError(t, SaveCurves(path, "siamese", CurvesFromHistory(h)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))
}

func TestSaveCurvesNeedsData(t *testing.T) {
	err := SaveCurves(filepath.Join(t.TempDir(), "x.png"), "empty", CurvesFromHistory(nil))
	assert.Error(t, err)
}

func TestCurvesFromHistory(t *testing.T) {
	h := metrics.History{{TrainLoss: 1, TestLoss: 2, Correct: 1, Total: 4}}
	curves := CurvesFromHistory(h)
	require.Len(t, curves, 3)
	assert.Equal(t, []float64{0.25}, curves[2].Values)
}

func TestCurvesUseRecordedEpochs(t *testing.T) {
	h := metrics.History{
		{Epoch: 5, TrainLoss: 0.4, Correct: 3, Total: 4},
		{Epoch: 6, TrainLoss: 0.3, Correct: 4, Total: 4},
	}
	pts := CurvesFromHistory(h)[0].points()
	require.Len(t, pts, 2)
	assert.Equal(t, 5.0, pts[0].X)
	assert.Equal(t, 6.0, pts[1].X)
	assert.Equal(t, 0.3, pts[1].Y)

	bare := Series{Name: "loss", Values: []float64{1, 2}}.points()
	assert.Equal(t, 1.0, bare[0].X)
	assert.Equal(t, 2.0, bare[1].X)
}
