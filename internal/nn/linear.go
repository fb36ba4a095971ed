package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear computes y = x W^T + b on NF inputs.
type Linear struct {
	in, out int
	Weight  *Param // [out, in]
	B       *Param // [out]

	x *Tensor
}

// NewLinear builds a linear layer with Xavier-uniform weights and every bias
// set to 0.01.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		in:     in,
		out:    out,
		Weight: newParam(name+".weight", out, in),
		B:      newParam(name+".bias", out),
	}
	XavierUniform(rng, l.Weight, in, out)
	Fill(l.B, 0.01)
	return l
}

func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.B}
}

func (l *Linear) Forward(x *Tensor, train bool) *Tensor {
	if len(x.Shape) != 2 || x.Shape[1] != l.in {
		panic(shapeErr("Linear.Forward", x.Shape, []int{-1, l.in}))
	}
	n := x.Shape[0]
	l.x = x

	out := New(n, l.out)
	om := mat.NewDense(n, l.out, out.Data)
	om.Mul(mat.NewDense(n, l.in, x.Data), mat.NewDense(l.out, l.in, l.Weight.Value).T())
	for i := 0; i < n; i++ {
		row := out.Data[i*l.out : (i+1)*l.out]
		for j, b := range l.B.Value {
			row[j] += b
		}
	}
	return out
}

func (l *Linear) Backward(grad *Tensor) *Tensor {
	n := l.x.Shape[0]
	if len(grad.Data) != n*l.out {
		panic(shapeErr("Linear.Backward", grad.Shape, []int{n, l.out}))
	}
	gm := mat.NewDense(n, l.out, grad.Data)

	var dw mat.Dense
	dw.Mul(gm.T(), mat.NewDense(n, l.in, l.x.Data))
	for j, v := range dw.RawMatrix().Data {
		l.Weight.Grad[j] += v
	}
	for i := 0; i < n; i++ {
		for j, v := range grad.Data[i*l.out : (i+1)*l.out] {
			l.B.Grad[j] += v
		}
	}

	dx := New(n, l.in)
	dm := mat.NewDense(n, l.in, dx.Data)
	dm.Mul(gm, mat.NewDense(l.out, l.in, l.Weight.Value))
	return dx
}
