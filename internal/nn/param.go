package nn

// Param is a named learnable tensor and its accumulated gradient. Buffers such
// as batch-norm running statistics reuse the type with a nil Grad.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParam(name string, shape ...int) *Param {
	n := volume(shape)
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float64, n),
		Grad:  make([]float64, n),
	}
}

func newBuffer(name string, shape ...int) *Param {
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float64, volume(shape)),
	}
}

// Size is the number of scalar weights.
func (p *Param) Size() int {
	return len(p.Value)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// CountParams sums the sizes of ps.
func CountParams(ps []*Param) int {
	total := 0
	for _, p := range ps {
		total += p.Size()
	}
	return total
}
