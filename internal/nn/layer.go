package nn

// Layer is one differentiable stage. Forward caches whatever Backward needs, so
// a Backward call always refers to the most recent Forward. Backward accumulates
// into the gradients of Params and returns the gradient w.r.t. the input.
type Layer interface {
	Forward(x *Tensor, train bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []*Param
}

// Buffered is implemented by layers carrying non-learnable state that must be
// checkpointed.
type Buffered interface {
	Buffers() []*Param
}

// Sequential runs layers in order.
type Sequential []Layer

func (s Sequential) Forward(x *Tensor, train bool) *Tensor {
	for _, l := range s {
		x = l.Forward(x, train)
	}
	return x
}

func (s Sequential) Backward(grad *Tensor) *Tensor {
	for i := len(s) - 1; i >= 0; i-- {
		grad = s[i].Backward(grad)
	}
	return grad
}

func (s Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range s {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (s Sequential) Buffers() []*Param {
	var bs []*Param
	for _, l := range s {
		if b, ok := l.(Buffered); ok {
			bs = append(bs, b.Buffers()...)
		}
	}
	return bs
}

type grouped interface {
	setGroups(g int)
}

// SetBatchGroups makes every batch norm inside s normalise its batch as g
// independent contiguous slices.
func (s Sequential) SetBatchGroups(g int) {
	s.setGroups(g)
}

func (s Sequential) setGroups(g int) {
	for _, l := range s {
		if gl, ok := l.(grouped); ok {
			gl.setGroups(g)
		}
	}
}
