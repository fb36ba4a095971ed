package nn

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

const (
	bnMomentum = 0.1
	bnEps      = 1e-5
)

// BatchNorm2D normalises each channel over the batch and spatial dimensions.
// In training mode it uses batch statistics and updates the running estimates;
// otherwise it uses the running estimates.
//
// With Groups > 1 the batch is split into that many contiguous slices and
// each slice is normalised with its own statistics, as if it had been a
// separate forward pass. The running estimates are updated once per slice, in
// order.
type BatchNorm2D struct {
	Gamma, Beta             *Param
	RunningMean, RunningVar *Param
	Groups                  int

	channels int
	groups   int
	xhat     []float64
	invStd   []float64 // [group][channel]
	shape    []int
	train    bool
}

// NewBatchNorm2D builds a batch norm with gamma 1 and beta 0.
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		Gamma:       newParam(name+".weight", channels),
		Beta:        newParam(name+".bias", channels),
		RunningMean: newBuffer(name+".running_mean", channels),
		RunningVar:  newBuffer(name+".running_var", channels),
		channels:    channels,
	}
	Fill(bn.Gamma, 1)
	Fill(bn.RunningVar, 1)
	return bn
}

func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}

func (bn *BatchNorm2D) Buffers() []*Param {
	return []*Param{bn.RunningMean, bn.RunningVar}
}

func (bn *BatchNorm2D) setGroups(g int) {
	bn.Groups = g
}

func (bn *BatchNorm2D) Forward(x *Tensor, train bool) *Tensor {
	if len(x.Shape) != 4 || x.Shape[1] != bn.channels {
		panic(shapeErr("BatchNorm2D.Forward", x.Shape, []int{-1, bn.channels, -1, -1}))
	}
	groups := bn.Groups
	if groups < 1 {
		groups = 1
	}
	n, c := x.Shape[0], x.Shape[1]
	if n%groups != 0 {
		panic(errors.Wrap(ErrShape, fmt.Sprintf("BatchNorm2D.Forward: batch %d not divisible into %d groups", n, groups)))
	}
	hw := x.Shape[2] * x.Shape[3]
	per := n / groups
	m := float64(per * hw)

	bn.shape = x.Shape
	bn.train = train
	bn.groups = groups
	bn.xhat = make([]float64, len(x.Data))
	bn.invStd = make([]float64, groups*c)
	out := New(x.Shape...)

	for g := 0; g < groups; g++ {
		lo, hi := g*per, (g+1)*per
		for ch := 0; ch < c; ch++ {
			var mean, variance float64
			if train {
				for i := lo; i < hi; i++ {
					for _, v := range x.Data[(i*c+ch)*hw : (i*c+ch+1)*hw] {
						mean += v
					}
				}
				mean /= m
				for i := lo; i < hi; i++ {
					for _, v := range x.Data[(i*c+ch)*hw : (i*c+ch+1)*hw] {
						d := v - mean
						variance += d * d
					}
				}
				variance /= m

				unbiased := variance
				if m > 1 {
					unbiased = variance * m / (m - 1)
				}
				bn.RunningMean.Value[ch] = (1-bnMomentum)*bn.RunningMean.Value[ch] + bnMomentum*mean
				bn.RunningVar.Value[ch] = (1-bnMomentum)*bn.RunningVar.Value[ch] + bnMomentum*unbiased
			} else {
				mean = bn.RunningMean.Value[ch]
				variance = bn.RunningVar.Value[ch]
			}

			inv := 1 / math.Sqrt(variance+bnEps)
			bn.invStd[g*c+ch] = inv
			gamma, beta := bn.Gamma.Value[ch], bn.Beta.Value[ch]
			for i := lo; i < hi; i++ {
				off := (i*c + ch) * hw
				for j := off; j < off+hw; j++ {
					xh := (x.Data[j] - mean) * inv
					bn.xhat[j] = xh
					out.Data[j] = gamma*xh + beta
				}
			}
		}
	}
	return out
}

func (bn *BatchNorm2D) Backward(grad *Tensor) *Tensor {
	n, c := bn.shape[0], bn.shape[1]
	hw := bn.shape[2] * bn.shape[3]
	per := n / bn.groups
	m := float64(per * hw)
	dx := New(bn.shape...)

	for g := 0; g < bn.groups; g++ {
		lo, hi := g*per, (g+1)*per
		for ch := 0; ch < c; ch++ {
			var dgamma, dbeta float64
			for i := lo; i < hi; i++ {
				off := (i*c + ch) * hw
				for j := off; j < off+hw; j++ {
					dgamma += grad.Data[j] * bn.xhat[j]
					dbeta += grad.Data[j]
				}
			}
			bn.Gamma.Grad[ch] += dgamma
			bn.Beta.Grad[ch] += dbeta

			scale := bn.Gamma.Value[ch] * bn.invStd[g*c+ch]
			for i := lo; i < hi; i++ {
				off := (i*c + ch) * hw
				for j := off; j < off+hw; j++ {
					if bn.train {
						dx.Data[j] = scale / m * (m*grad.Data[j] - dbeta - bn.xhat[j]*dgamma)
					} else {
						dx.Data[j] = scale * grad.Data[j]
					}
				}
			}
		}
	}
	return dx
}
