package nn

import "math"

// ReLU is max(x, 0).
type ReLU struct {
	out *Tensor
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Params() []*Param { return nil }

func (r *ReLU) Forward(x *Tensor, train bool) *Tensor {
	out := New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	r.out = out
	return out
}

func (r *ReLU) Backward(grad *Tensor) *Tensor {
	dx := New(grad.Shape...)
	for i, v := range r.out.Data {
		if v > 0 {
			dx.Data[i] = grad.Data[i]
		}
	}
	return dx
}

// Sigmoid is the logistic function, computed through tanh so that large
// magnitudes neither overflow nor reach exactly 0 or 1 early.
type Sigmoid struct {
	out *Tensor
}

func NewSigmoid() *Sigmoid { return &Sigmoid{} }

func (s *Sigmoid) Params() []*Param { return nil }

func (s *Sigmoid) Forward(x *Tensor, train bool) *Tensor {
	out := New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = logistic(v)
	}
	s.out = out
	return out
}

func (s *Sigmoid) Backward(grad *Tensor) *Tensor {
	dx := New(grad.Shape...)
	for i, y := range s.out.Data {
		dx.Data[i] = grad.Data[i] * y * (1 - y)
	}
	return dx
}

func logistic(x float64) float64 {
	return 0.5 + 0.5*math.Tanh(0.5*x)
}
