package nn

import (
	"math"
	"math/rand"
)

// XavierUniform fills p from U(-a, a) with a = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(rng *rand.Rand, p *Param, fanIn, fanOut int) {
	a := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * a
	}
}

// KaimingNormal fills p from N(0, 2/fanOut), the fan-out ReLU variant used for
// residual networks.
func KaimingNormal(rng *rand.Rand, p *Param, fanOut int) {
	sd := math.Sqrt(2 / float64(fanOut))
	for i := range p.Value {
		p.Value[i] = rng.NormFloat64() * sd
	}
}

// Fill sets every value of p to v.
func Fill(p *Param, v float64) {
	for i := range p.Value {
		p.Value[i] = v
	}
}
