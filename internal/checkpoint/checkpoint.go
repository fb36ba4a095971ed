// Package checkpoint persists network weights as a snappy-compressed gob of
// named tensors.
package checkpoint

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"siamese-iris/internal/nn"
)

const formatVersion = 1

// ErrShapeMismatch is returned when a stored tensor does not fit the network.
var ErrShapeMismatch = errors.New("checkpoint: tensor shape mismatch")

// Tensor is a stored parameter or buffer.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Meta records how the network was built so it can be rebuilt before loading.
type Meta struct {
	Width     int
	Hidden    int
	ImageSize int
	Epoch     int
}

// State is everything written to disk.
type State struct {
	Version int
	Meta    Meta
	Tensors map[string]Tensor
}

// Capture copies the current values of params.
func Capture(params []*nn.Param, meta Meta) *State {
	s := &State{Version: formatVersion, Meta: meta, Tensors: make(map[string]Tensor, len(params))}
	for _, p := range params {
		s.Tensors[p.Name] = Tensor{
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Value...),
		}
	}
	return s
}

// Apply copies stored values into params. Every param must be present with
// the same shape.
func (s *State) Apply(params []*nn.Param) error {
	for _, p := range params {
		t, ok := s.Tensors[p.Name]
		if !ok {
			return errors.Errorf("checkpoint: missing tensor %q", p.Name)
		}
		if !equalShape(t.Shape, p.Shape) || len(t.Data) != len(p.Value) {
			return errors.Wrapf(ErrShapeMismatch, "%s: stored %v, network %v", p.Name, t.Shape, p.Shape)
		}
		copy(p.Value, t.Data)
	}
	return nil
}

// Save writes s to path atomically and returns the number of bytes written.
func Save(path string, s *State) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create checkpoint dir")
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return 0, errors.Wrap(err, "create temp checkpoint")
	}
	defer os.Remove(tmp.Name())

	w := snappy.NewBufferedWriter(tmp)
	if err := gob.NewEncoder(w).Encode(s); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "encode checkpoint")
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "flush checkpoint")
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "stat checkpoint")
	}
	// CreateTemp uses 0600; checkpoints are shared like any other output.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "chmod checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "close checkpoint")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.Wrap(err, "rename checkpoint")
	}
	return info.Size(), nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	s := new(State)
	if err := gob.NewDecoder(snappy.NewReader(f)).Decode(s); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	if s.Version != formatVersion {
		return nil, errors.Errorf("checkpoint %s: unsupported version %d", path, s.Version)
	}
	return s, nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
