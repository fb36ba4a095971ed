package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fdStep = 1e-6
	fdTol  = 1e-5
)

func randomTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// projected returns sum(r * layer(x)) so that r is d(loss)/d(output).
func projected(l Layer, x *Tensor, r []float64) float64 {
	y := l.Forward(x, true)
	var s float64
	for i, v := range y.Data {
		s += v * r[i]
	}
	return s
}

func checkGradients(t *testing.T, l Layer, x *Tensor, rng *rand.Rand) {
	t.Helper()

	y := l.Forward(x, true)
	r := make([]float64, len(y.Data))
	for i := range r {
		r[i] = rng.NormFloat64()
	}
	for _, p := range l.Params() {
		p.ZeroGrad()
	}
	l.Forward(x, true)
	dx := l.Backward(FromData(append([]float64(nil), r...), y.Shape...))
	require.Equal(t, x.Shape, dx.Shape)

	for j := range x.Data {
		orig := x.Data[j]
		x.Data[j] = orig + fdStep
		plus := projected(l, x, r)
		x.Data[j] = orig - fdStep
		minus := projected(l, x, r)
		x.Data[j] = orig
		numeric := (plus - minus) / (2 * fdStep)
		assert.InDelta(t, numeric, dx.Data[j], fdTol*math.Max(1, math.Abs(numeric)), "input grad %d", j)
	}

	for _, p := range l.Params() {
		analytic := append([]float64(nil), p.Grad...)
		for j := range p.Value {
			orig := p.Value[j]
			p.Value[j] = orig + fdStep
			plus := projected(l, x, r)
			p.Value[j] = orig - fdStep
			minus := projected(l, x, r)
			p.Value[j] = orig
			numeric := (plus - minus) / (2 * fdStep)
			assert.InDelta(t, numeric, analytic[j], fdTol*math.Max(1, math.Abs(numeric)), "%s grad %d", p.Name, j)
		}
	}
}

func TestConv2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv2D("conv", ConvArgs{In: 2, Out: 3, Kernel: 3, Stride: 2, Padding: 1, Bias: true}, rng)
	checkGradients(t, conv, randomTensor(rng, 2, 2, 5, 5), rng)
}

func TestConv2DMatchesDirectConvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	conv := NewConv2D("conv", ConvArgs{In: 1, Out: 1, Kernel: 3, Stride: 1, Padding: 1}, rng)
	x := randomTensor(rng, 1, 1, 4, 4)
	y := conv.Forward(x, false)
	require.Equal(t, []int{1, 1, 4, 4}, y.Shape)

	k := conv.Weight.Value
	for oy := 0; oy < 4; oy++ {
		for ox := 0; ox < 4; ox++ {
			var want float64
			for ky := 0; ky < 3; ky++ {
				for kx := 0; kx < 3; kx++ {
					iy, ix := oy-1+ky, ox-1+kx
					if iy < 0 || iy >= 4 || ix < 0 || ix >= 4 {
						continue
					}
					want += k[ky*3+kx] * x.Data[iy*4+ix]
				}
			}
			assert.InDelta(t, want, y.Data[oy*4+ox], 1e-12)
		}
	}
}

func TestBatchNormGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	bn := NewBatchNorm2D("bn", 2)
	for i := range bn.Gamma.Value {
		bn.Gamma.Value[i] = 0.5 + rng.Float64()
		bn.Beta.Value[i] = rng.NormFloat64()
	}
	checkGradients(t, bn, randomTensor(rng, 3, 2, 2, 2), rng)
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D("bn", 1)
	x := FromData([]float64{1, 2, 3, 4}, 1, 1, 2, 2)

	bn.Forward(x, true)
	assert.InDelta(t, 0.25, bn.RunningMean.Value[0], 1e-12)
	assert.InDelta(t, 0.9+0.1*(5.0/3.0), bn.RunningVar.Value[0], 1e-12)

	y := bn.Forward(x, false)
	inv := 1 / math.Sqrt(bn.RunningVar.Value[0]+bnEps)
	assert.InDelta(t, (1-0.25)*inv, y.Data[0], 1e-12)
}

func TestBatchNormGroupsMatchSeparatePasses(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := randomTensor(rng, 4, 2, 2, 2)
	half := len(x.Data) / 2

	grouped := NewBatchNorm2D("bn", 2)
	grouped.Groups = 2
	y := grouped.Forward(x, true)

	single := NewBatchNorm2D("bn", 2)
	a := single.Forward(FromData(append([]float64(nil), x.Data[:half]...), 2, 2, 2, 2), true)
	b := single.Forward(FromData(append([]float64(nil), x.Data[half:]...), 2, 2, 2, 2), true)

	assert.InDeltaSlice(t, a.Data, y.Data[:half], 1e-12)
	assert.InDeltaSlice(t, b.Data, y.Data[half:], 1e-12)
	assert.InDeltaSlice(t, single.RunningMean.Value, grouped.RunningMean.Value, 1e-12)
	assert.InDeltaSlice(t, single.RunningVar.Value, grouped.RunningVar.Value, 1e-12)
}

func TestBatchNormGroupedGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	bn := NewBatchNorm2D("bn", 2)
	bn.Groups = 2
	for i := range bn.Gamma.Value {
		bn.Gamma.Value[i] = 0.5 + rng.Float64()
		bn.Beta.Value[i] = rng.NormFloat64()
	}
	checkGradients(t, bn, randomTensor(rng, 4, 2, 2, 2), rng)
}

func TestBatchNormPanicsOnUnevenGroups(t *testing.T) {
	bn := NewBatchNorm2D("bn", 1)
	bn.Groups = 2
	assert.Panics(t, func() { bn.Forward(New(3, 1, 2, 2), true) })
}

func TestSetBatchGroupsReachesEveryBatchNorm(t *testing.T) {
	r := NewResNet18("backbone", 2, rand.New(rand.NewSource(13)))
	r.SetBatchGroups(2)
	var count int
	var walk func(Layer)
	walk = func(l Layer) {
		switch v := l.(type) {
		case *BatchNorm2D:
			count++
			assert.Equal(t, 2, v.Groups)
		case *BasicBlock:
			for _, inner := range append(v.main(), v.downsample...) {
				walk(inner)
			}
		}
	}
	for _, l := range r.Sequential {
		walk(l)
	}
	// stem + 8 blocks * 2 + 3 downsample projections
	assert.Equal(t, 20, count)
}

func TestMaxPoolGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	checkGradients(t, NewMaxPool2D(3, 2, 1), randomTensor(rng, 2, 2, 5, 5), rng)
}

func TestGlobalAvgPoolGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	checkGradients(t, NewGlobalAvgPool(), randomTensor(rng, 2, 3, 2, 3), rng)
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	lin := NewLinear("fc", 4, 3, rng)
	for _, b := range lin.B.Value {
		assert.Equal(t, 0.01, b)
	}
	checkGradients(t, lin, randomTensor(rng, 5, 4), rng)
}

func TestActivationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	checkGradients(t, NewSigmoid(), randomTensor(rng, 3, 4), rng)
	checkGradients(t, NewReLU(), randomTensor(rng, 3, 4), rng)
}

func TestBasicBlockGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	block := NewBasicBlock("block", 2, 3, 2, rng)
	require.NotNil(t, block.downsample)
	checkGradients(t, block, randomTensor(rng, 2, 2, 4, 4), rng)
}

func TestResNetFeatureShape(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net := NewResNet18("backbone", 2, rng)
	assert.Equal(t, 16, net.FeatureSize())

	x := randomTensor(rng, 3, 1, 32, 32)
	y := net.Forward(x, true)
	assert.Equal(t, []int{3, 16}, y.Shape)

	dx := net.Backward(randomTensor(rng, 3, 16))
	assert.Equal(t, x.Shape, dx.Shape)

	names := map[string]bool{}
	for _, p := range append(net.Params(), net.Buffers()...) {
		assert.False(t, names[p.Name], "duplicate name %s", p.Name)
		names[p.Name] = true
	}
	assert.True(t, names["backbone.conv1.weight"])
	assert.True(t, names["backbone.layer4.1.bn2.running_var"])
	assert.True(t, names["backbone.layer2.0.downsample.0.weight"])
	assert.False(t, names["backbone.layer1.0.downsample.0.weight"])
}

func TestBCELoss(t *testing.T) {
	loss, grad := BCELoss([]float64{0.9, 0.2}, []float64{1, 0})
	want := -(math.Log(0.9) + math.Log(0.8)) / 2
	assert.InDelta(t, want, loss, 1e-12)
	assert.InDelta(t, -1/0.9/2, grad[0], 1e-12)
	assert.InDelta(t, 1/0.8/2, grad[1], 1e-12)

	loss, _ = BCELoss([]float64{0}, []float64{1})
	assert.Equal(t, 100.0, loss)
}

func TestParallelForVisitsEveryIndexOnce(t *testing.T) {
	seen := make([]int, 1000)
	parallelFor(len(seen), 4, func(_, i int) { seen[i]++ })
	for i, n := range seen {
		require.Equal(t, 1, n, "index %d", i)
	}
}

func TestShapeMismatchPanics(t *testing.T) {
	lin := NewLinear("fc", 4, 2, rand.New(rand.NewSource(1)))
	assert.Panics(t, func() { lin.Forward(New(1, 3), false) })
}
