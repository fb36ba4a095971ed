package model

import (
	"image"
	"math/rand"

	"github.com/pkg/errors"

	"siamese-iris/internal/checkpoint"
	"siamese-iris/internal/dataset"
	"siamese-iris/internal/nn"
)

const (
	defaultWidth     = 64
	defaultHidden    = 256
	defaultImageSize = 128

	// Threshold separates "same" from "different" probabilities.
	Threshold = 0.5
)

// Config describes the network shape.
type Config struct {
	Width     int
	Hidden    int
	ImageSize int
	Seed      int64
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Hidden <= 0 {
		c.Hidden = defaultHidden
	}
	if c.ImageSize <= 0 {
		c.ImageSize = defaultImageSize
	}
	return c
}

// Siamese embeds both images of a pair with one shared ResNet-18 backbone,
// joins the two feature vectors and scores them with a small MLP head ending
// in a sigmoid.
type Siamese struct {
	cfg      Config
	backbone *nn.ResNet
	head     nn.Sequential

	n int // pairs in the last forward pass
}

// NewSiamese builds a freshly initialised network. Zero fields of cfg fall
// back to the standard shape.
func NewSiamese(cfg Config) *Siamese {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	backbone := nn.NewResNet18("backbone", cfg.Width, rng)
	// Each branch gets its own batch-norm statistics.
	backbone.SetBatchGroups(2)
	features := backbone.FeatureSize()
	return &Siamese{
		cfg:      cfg,
		backbone: backbone,
		head: nn.Sequential{
			nn.NewLinear("fc.0", 2*features, cfg.Hidden, rng),
			nn.NewReLU(),
			nn.NewLinear("fc.2", cfg.Hidden, 1, rng),
			nn.NewSigmoid(),
		},
	}
}

// Config returns the shape the network was built with.
func (s *Siamese) Config() Config {
	return s.cfg
}

// Forward scores every pair (first[i], second[i]). Both halves run through
// the backbone as one batch of 2n images; batch norm treats the halves as two
// separate passes, first then second.
func (s *Siamese) Forward(first, second *nn.Tensor, train bool) []float64 {
	n := first.Batch()
	if second.Batch() != n {
		panic(errors.Wrapf(nn.ErrShape, "pair batches differ: %d vs %d", n, second.Batch()))
	}
	s.n = n

	feats := s.backbone.Forward(nn.Concat(first, second), train)
	f := s.backbone.FeatureSize()
	joined := nn.New(n, 2*f)
	for i := 0; i < n; i++ {
		row := joined.Sample(i)
		copy(row[:f], feats.Sample(i))
		copy(row[f:], feats.Sample(n+i))
	}

	out := s.head.Forward(joined, train)
	return append([]float64(nil), out.Data...)
}

// Backward propagates d(loss)/d(prob) from the last Forward into every
// parameter gradient. The shared backbone receives the gradient of both
// branches.
func (s *Siamese) Backward(gradProbs []float64) {
	if len(gradProbs) != s.n {
		panic(errors.Wrapf(nn.ErrShape, "gradient for %d pairs, forward saw %d", len(gradProbs), s.n))
	}
	n, f := s.n, s.backbone.FeatureSize()
	dJoined := s.head.Backward(nn.FromData(append([]float64(nil), gradProbs...), n, 1))

	dFeats := nn.New(2*n, f)
	for i := 0; i < n; i++ {
		row := dJoined.Sample(i)
		copy(dFeats.Sample(i), row[:f])
		copy(dFeats.Sample(n+i), row[f:])
	}
	s.backbone.Backward(dFeats)
}

// Params lists the learnable tensors, backbone first.
func (s *Siamese) Params() []*nn.Param {
	return append(s.backbone.Params(), s.head.Params()...)
}

// Buffers lists the batch-norm running statistics.
func (s *Siamese) Buffers() []*nn.Param {
	return s.backbone.Buffers()
}

// Compare preprocesses two images and returns the probability that they show
// the same iris. The network runs in evaluation mode.
func (s *Siamese) Compare(a, b image.Image) (float64, error) {
	for _, img := range []image.Image{a, b} {
		if img == nil || img.Bounds().Empty() {
			return 0, errors.New("compare: empty image")
		}
	}
	size := s.cfg.ImageSize
	first := nn.FromData(dataset.Preprocess(a, size, size), 1, 1, size, size)
	second := nn.FromData(dataset.Preprocess(b, size, size), 1, 1, size, size)
	return s.Forward(first, second, false)[0], nil
}

// Same reports whether a probability means "same class".
func Same(prob float64) bool {
	return prob > Threshold
}

// State captures weights and running statistics for checkpointing.
func (s *Siamese) State(epoch int) *checkpoint.State {
	return checkpoint.Capture(append(s.Params(), s.Buffers()...), checkpoint.Meta{
		Width:     s.cfg.Width,
		Hidden:    s.cfg.Hidden,
		ImageSize: s.cfg.ImageSize,
		Epoch:     epoch,
	})
}

// Restore loads a checkpoint into the network.
func (s *Siamese) Restore(st *checkpoint.State) error {
	if st.Meta.Width != s.cfg.Width || st.Meta.Hidden != s.cfg.Hidden {
		return errors.Wrapf(checkpoint.ErrShapeMismatch, "checkpoint width=%d hidden=%d, network width=%d hidden=%d",
			st.Meta.Width, st.Meta.Hidden, s.cfg.Width, s.cfg.Hidden)
	}
	return st.Apply(append(s.Params(), s.Buffers()...))
}

// FromCheckpoint rebuilds the network described by a checkpoint and loads it.
func FromCheckpoint(st *checkpoint.State) (*Siamese, error) {
	m := NewSiamese(Config{Width: st.Meta.Width, Hidden: st.Meta.Hidden, ImageSize: st.Meta.ImageSize})
	if err := m.Restore(st); err != nil {
		return nil, err
	}
	return m, nil
}

var _ Model = (*Siamese)(nil)
