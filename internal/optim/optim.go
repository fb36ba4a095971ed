// Package optim updates nn parameters from their accumulated gradients.
package optim

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"siamese-iris/internal/nn"
)

// Optimizer applies one update to every parameter it owns.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
}

// New returns the optimizer registered under name.
func New(name string, params []*nn.Param, lr float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "", "adadelta":
		return NewAdadelta(params, lr), nil
	case "sgd":
		return NewSGD(params, lr), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q", name)
	}
}

type base struct {
	params []*nn.Param
	lr     float64
}

func (b *base) LR() float64 { return b.lr }
func (b *base) SetLR(lr float64) { b.lr = lr }

func (b *base) ZeroGrad() {
	for _, p := range b.params {
		p.ZeroGrad()
	}
}

// SGD is plain gradient descent: w -= lr * grad.
type SGD struct {
	base
}

func NewSGD(params []*nn.Param, lr float64) *SGD {
	return &SGD{base{params: params, lr: lr}}
}

func (s *SGD) Step() {
	for _, p := range s.params {
		for i, g := range p.Grad {
			p.Value[i] -= s.lr * g
		}
	}
}

// Adadelta scales each step by the ratio of running RMS of past updates to
// running RMS of gradients (Zeiler 2012), then by the learning rate.
type Adadelta struct {
	base
	Rho, Eps float64

	squareAvg [][]float64
	accDelta  [][]float64
}

func NewAdadelta(params []*nn.Param, lr float64) *Adadelta {
	a := &Adadelta{
		base:      base{params: params, lr: lr},
		Rho:       0.9,
		Eps:       1e-6,
		squareAvg: make([][]float64, len(params)),
		accDelta:  make([][]float64, len(params)),
	}
	for i, p := range params {
		a.squareAvg[i] = make([]float64, p.Size())
		a.accDelta[i] = make([]float64, p.Size())
	}
	return a
}

func (a *Adadelta) Step() {
	for k, p := range a.params {
		sq, acc := a.squareAvg[k], a.accDelta[k]
		for i, g := range p.Grad {
			sq[i] = a.Rho*sq[i] + (1-a.Rho)*g*g
			delta := math.Sqrt(acc[i]+a.Eps) / math.Sqrt(sq[i]+a.Eps) * g
			acc[i] = a.Rho*acc[i] + (1-a.Rho)*delta*delta
			p.Value[i] -= a.lr * delta
		}
	}
}
