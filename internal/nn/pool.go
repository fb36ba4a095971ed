package nn

import "math"

// MaxPool2D takes the maximum over square windows. Padding is treated as -Inf.
type MaxPool2D struct {
	kernel, stride, padding int

	shape  []int
	argmax []int
}

func NewMaxPool2D(kernel, stride, padding int) *MaxPool2D {
	return &MaxPool2D{kernel: kernel, stride: stride, padding: padding}
}

func (p *MaxPool2D) Params() []*Param { return nil }

func (p *MaxPool2D) Forward(x *Tensor, train bool) *Tensor {
	if len(x.Shape) != 4 {
		panic(shapeErr("MaxPool2D.Forward", x.Shape, []int{-1, -1, -1, -1}))
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH := (h+2*p.padding-p.kernel)/p.stride + 1
	outW := (w+2*p.padding-p.kernel)/p.stride + 1

	out := New(n, c, outH, outW)
	p.shape = x.Shape
	p.argmax = make([]int, len(out.Data))

	for plane := 0; plane < n*c; plane++ {
		src := plane * h * w
		dst := plane * outH * outW
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				best, bestIdx := math.Inf(-1), -1
				for ky := 0; ky < p.kernel; ky++ {
					iy := oy*p.stride - p.padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < p.kernel; kx++ {
						ix := ox*p.stride - p.padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						if v := x.Data[src+iy*w+ix]; v > best {
							best, bestIdx = v, src+iy*w+ix
						}
					}
				}
				out.Data[dst+oy*outW+ox] = best
				p.argmax[dst+oy*outW+ox] = bestIdx
			}
		}
	}
	return out
}

func (p *MaxPool2D) Backward(grad *Tensor) *Tensor {
	dx := New(p.shape...)
	for i, idx := range p.argmax {
		if idx >= 0 {
			dx.Data[idx] += grad.Data[i]
		}
	}
	return dx
}

// GlobalAvgPool averages each channel plane, turning NCHW into NC.
type GlobalAvgPool struct {
	shape []int
}

func NewGlobalAvgPool() *GlobalAvgPool { return &GlobalAvgPool{} }

func (g *GlobalAvgPool) Params() []*Param { return nil }

func (g *GlobalAvgPool) Forward(x *Tensor, train bool) *Tensor {
	n, c := x.Shape[0], x.Shape[1]
	hw := x.Shape[2] * x.Shape[3]
	g.shape = x.Shape
	out := New(n, c)
	for plane := 0; plane < n*c; plane++ {
		var sum float64
		for _, v := range x.Data[plane*hw : (plane+1)*hw] {
			sum += v
		}
		out.Data[plane] = sum / float64(hw)
	}
	return out
}

func (g *GlobalAvgPool) Backward(grad *Tensor) *Tensor {
	hw := g.shape[2] * g.shape[3]
	dx := New(g.shape...)
	for plane, v := range grad.Data {
		share := v / float64(hw)
		for j := plane * hw; j < (plane+1)*hw; j++ {
			dx.Data[j] = share
		}
	}
	return dx
}
