package optim

import "math"

// StepLR decays the learning rate by Gamma every StepSize calls to Step.
type StepLR struct {
	opt      Optimizer
	baseLR   float64
	StepSize int
	Gamma    float64

	epoch int
}

func NewStepLR(opt Optimizer, stepSize int, gamma float64) *StepLR {
	if stepSize < 1 {
		stepSize = 1
	}
	return &StepLR{opt: opt, baseLR: opt.LR(), StepSize: stepSize, Gamma: gamma}
}

// Step advances one epoch and updates the optimizer's learning rate.
func (s *StepLR) Step() {
	s.epoch++
	s.opt.SetLR(s.Value(s.epoch))
}

// Value is the learning rate in effect after epoch steps.
func (s *StepLR) Value(epoch int) float64 {
	return s.baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

// Epoch is the number of steps taken so far.
func (s *StepLR) Epoch() int {
	return s.epoch
}

// Seek restores the schedule to a given epoch, e.g. after resuming.
func (s *StepLR) Seek(epoch int) {
	s.epoch = epoch
	s.opt.SetLR(s.Value(epoch))
}
