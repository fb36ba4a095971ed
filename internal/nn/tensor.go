// Package nn holds the layers needed by the siamese network: convolution, batch
// normalisation, pooling, linear layers and activations, each with an explicit
// backward pass. Tensors are batch-major float64 slices.
package nn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShape is wrapped by every shape mismatch panic raised inside a layer.
var ErrShape = errors.New("nn: shape mismatch")

// Tensor is a dense batch-major array. Shape is NCHW for images and NF for
// feature vectors.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zeroed tensor.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, volume(shape))}
}

// FromData wraps data without copying. It panics if len(data) does not match the shape.
func FromData(data []float64, shape ...int) *Tensor {
	if len(data) != volume(shape) {
		panic(shapeErr("FromData", shape, []int{len(data)}))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Size is the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Batch is the leading dimension.
func (t *Tensor) Batch() int {
	return t.Shape[0]
}

// Sample returns the slice of sample n. It aliases t.Data.
func (t *Tensor) Sample(n int) []float64 {
	stride := len(t.Data) / t.Shape[0]
	return t.Data[n*stride : (n+1)*stride]
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Concat stacks tensors along the batch dimension. Trailing dimensions must match.
func Concat(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		return nil
	}
	shape := append([]int(nil), ts[0].Shape...)
	shape[0] = 0
	for _, t := range ts {
		if !sameTrailing(t.Shape, ts[0].Shape) {
			panic(shapeErr("Concat", t.Shape, ts[0].Shape))
		}
		shape[0] += t.Shape[0]
	}
	out := New(shape...)
	off := 0
	for _, t := range ts {
		off += copy(out.Data[off:], t.Data)
	}
	return out
}

// Add returns a+b elementwise.
func Add(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic(shapeErr("Add", a.Shape, b.Shape))
	}
	out := New(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out
}

func volume(shape []int) int {
	v := 1
	for _, d := range shape {
		v *= d
	}
	return v
}

func sameTrailing(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shapeErr(op string, got, want []int) error {
	return errors.Wrap(ErrShape, fmt.Sprintf("%s: got %v, want %v", op, got, want))
}
