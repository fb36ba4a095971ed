package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ConvArgs describes a square 2-D convolution.
type ConvArgs struct {
	In, Out int
	Kernel  int
	Stride  int
	Padding int
	Bias    bool
}

// Conv2D is a 2-D convolution computed per sample as one matrix product over
// the im2col expansion of the input.
type Conv2D struct {
	args   ConvArgs
	Weight *Param // [Out, In, K, K]
	B      *Param // [Out], nil without bias

	x          *Tensor
	outH, outW int
}

// NewConv2D builds a convolution with Kaiming-normal weights and zero bias.
func NewConv2D(name string, args ConvArgs, rng *rand.Rand) *Conv2D {
	if args.Stride < 1 {
		args.Stride = 1
	}
	c := &Conv2D{
		args:   args,
		Weight: newParam(name+".weight", args.Out, args.In, args.Kernel, args.Kernel),
	}
	KaimingNormal(rng, c.Weight, args.Out*args.Kernel*args.Kernel)
	if args.Bias {
		c.B = newParam(name+".bias", args.Out)
	}
	return c
}

func (c *Conv2D) Params() []*Param {
	if c.B != nil {
		return []*Param{c.Weight, c.B}
	}
	return []*Param{c.Weight}
}

// OutputSize returns the spatial size produced for an h x w input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	k, s, p := c.args.Kernel, c.args.Stride, c.args.Padding
	return (h+2*p-k)/s + 1, (w+2*p-k)/s + 1
}

func (c *Conv2D) Forward(x *Tensor, train bool) *Tensor {
	if len(x.Shape) != 4 || x.Shape[1] != c.args.In {
		panic(shapeErr("Conv2D.Forward", x.Shape, []int{-1, c.args.In, -1, -1}))
	}
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	c.outH, c.outW = c.OutputSize(h, w)
	c.x = x

	hw := c.outH * c.outW
	ckk := c.args.In * c.args.Kernel * c.args.Kernel
	out := New(n, c.args.Out, c.outH, c.outW)
	wm := mat.NewDense(c.args.Out, ckk, c.Weight.Value)

	workers := workerCount(n)
	scratch := make([][]float64, workers)
	parallelFor(n, workers, func(worker, i int) {
		if scratch[worker] == nil {
			scratch[worker] = make([]float64, ckk*hw)
		}
		cols := scratch[worker]
		c.im2col(x.Sample(i), h, w, cols)

		om := mat.NewDense(c.args.Out, hw, out.Sample(i))
		om.Mul(wm, mat.NewDense(ckk, hw, cols))
		if c.B != nil {
			dst := out.Sample(i)
			for o, b := range c.B.Value {
				row := dst[o*hw : (o+1)*hw]
				for j := range row {
					row[j] += b
				}
			}
		}
	})
	return out
}

func (c *Conv2D) Backward(grad *Tensor) *Tensor {
	x := c.x
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	hw := c.outH * c.outW
	ckk := c.args.In * c.args.Kernel * c.args.Kernel
	if len(grad.Data) != n*c.args.Out*hw {
		panic(shapeErr("Conv2D.Backward", grad.Shape, []int{n, c.args.Out, c.outH, c.outW}))
	}

	dx := New(x.Shape...)
	wm := mat.NewDense(c.args.Out, ckk, c.Weight.Value)

	type local struct {
		cols, dcols []float64
		dw, tmp     *mat.Dense
		db          []float64
	}
	workers := workerCount(n)
	locals := make([]*local, workers)
	parallelFor(n, workers, func(worker, i int) {
		l := locals[worker]
		if l == nil {
			l = &local{
				cols:  make([]float64, ckk*hw),
				dcols: make([]float64, ckk*hw),
				dw:    mat.NewDense(c.args.Out, ckk, nil),
				tmp:   mat.NewDense(c.args.Out, ckk, nil),
				db:    make([]float64, c.args.Out),
			}
			locals[worker] = l
		}
		g := grad.Sample(i)
		gm := mat.NewDense(c.args.Out, hw, g)

		c.im2col(x.Sample(i), h, w, l.cols)
		l.tmp.Mul(gm, mat.NewDense(ckk, hw, l.cols).T())
		l.dw.Add(l.dw, l.tmp)

		dm := mat.NewDense(ckk, hw, l.dcols)
		dm.Mul(wm.T(), gm)
		c.col2im(l.dcols, h, w, dx.Sample(i))

		if c.B != nil {
			for o := range l.db {
				for _, v := range g[o*hw : (o+1)*hw] {
					l.db[o] += v
				}
			}
		}
	})

	for _, l := range locals {
		if l == nil {
			continue
		}
		raw := l.dw.RawMatrix().Data
		for j, v := range raw {
			c.Weight.Grad[j] += v
		}
		if c.B != nil {
			for o, v := range l.db {
				c.B.Grad[o] += v
			}
		}
	}
	return dx
}

// im2col lays out every receptive field of src as a column of dst. Row index is
// (channel, ky, kx), column index is the output position.
func (c *Conv2D) im2col(src []float64, h, w int, dst []float64) {
	k, s, p := c.args.Kernel, c.args.Stride, c.args.Padding
	hw := c.outH * c.outW
	for ch := 0; ch < c.args.In; ch++ {
		plane := src[ch*h*w : (ch+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := dst[((ch*k+ky)*k+kx)*hw:]
				for oy := 0; oy < c.outH; oy++ {
					iy := oy*s - p + ky
					for ox := 0; ox < c.outW; ox++ {
						ix := ox*s - p + kx
						v := 0.0
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							v = plane[iy*w+ix]
						}
						row[oy*c.outW+ox] = v
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatters-adds columns back into dst.
func (c *Conv2D) col2im(cols []float64, h, w int, dst []float64) {
	k, s, p := c.args.Kernel, c.args.Stride, c.args.Padding
	hw := c.outH * c.outW
	for ch := 0; ch < c.args.In; ch++ {
		plane := dst[ch*h*w : (ch+1)*h*w]
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := cols[((ch*k+ky)*k+kx)*hw:]
				for oy := 0; oy < c.outH; oy++ {
					iy := oy*s - p + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < c.outW; ox++ {
						ix := ox*s - p + kx
						if ix < 0 || ix >= w {
							continue
						}
						plane[iy*w+ix] += row[oy*c.outW+ox]
					}
				}
			}
		}
	}
}
