package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siamese-iris/internal/nn"
)

func testParams() []*nn.Param {
	return []*nn.Param{
		{Name: "a.weight", Shape: []int{2, 3}, Value: []float64{1, 2, 3, 4, 5, 6}},
		{Name: "a.bias", Shape: []int{2}, Value: []float64{-1, 0.5}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.ckpt")
	src := Capture(testParams(), Meta{Width: 4, Hidden: 8, ImageSize: 32, Epoch: 3})

	n, err := Save(path, src)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), n)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	dst := []*nn.Param{
		{Name: "a.weight", Shape: []int{2, 3}, Value: make([]float64, 6)},
		{Name: "a.bias", Shape: []int{2}, Value: make([]float64, 2)},
	}
	require.NoError(t, got.Apply(dst))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, dst[0].Value)
	assert.Equal(t, []float64{-1, 0.5}, dst[1].Value)
}

func TestCaptureCopiesValues(t *testing.T) {
	ps := testParams()
	st := Capture(ps, Meta{})
	ps[0].Value[0] = 100
	assert.Equal(t, 1.0, st.Tensors["a.weight"].Data[0])
}

func TestApplyShapeMismatch(t *testing.T) {
	st := Capture(testParams(), Meta{})
	dst := []*nn.Param{{Name: "a.weight", Shape: []int{3, 2}, Value: make([]float64, 6)}}
	err := st.Apply(dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestApplyMissingTensor(t *testing.T) {
	st := Capture(testParams(), Meta{})
	err := st.Apply([]*nn.Param{{Name: "b.weight", Shape: []int{1}, Value: make([]float64, 1)}})
	assert.Error(t, err)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Save(filepath.Join(dir, "m.ckpt"), Capture(testParams(), Meta{}))
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m.ckpt", entries[0].Name())
}

func TestSaveWritesReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.ckpt")
	_, err := Save(path, Capture(testParams(), Meta{}))
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
