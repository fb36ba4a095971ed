package nn

import (
	"fmt"
	"math/rand"
)

// BasicBlock is the two-convolution residual block of ResNet-18/34.
type BasicBlock struct {
	conv1 *Conv2D
	bn1   *BatchNorm2D
	relu1 *ReLU
	conv2 *Conv2D
	bn2   *BatchNorm2D
	relu2 *ReLU

	// downsample projects the shortcut when the block changes stride or width.
	downsample Sequential
}

// NewBasicBlock builds a block mapping in channels to out channels.
func NewBasicBlock(name string, in, out, stride int, rng *rand.Rand) *BasicBlock {
	b := &BasicBlock{
		conv1: NewConv2D(name+".conv1", ConvArgs{In: in, Out: out, Kernel: 3, Stride: stride, Padding: 1}, rng),
		bn1:   NewBatchNorm2D(name+".bn1", out),
		relu1: NewReLU(),
		conv2: NewConv2D(name+".conv2", ConvArgs{In: out, Out: out, Kernel: 3, Stride: 1, Padding: 1}, rng),
		bn2:   NewBatchNorm2D(name+".bn2", out),
		relu2: NewReLU(),
	}
	if stride != 1 || in != out {
		b.downsample = Sequential{
			NewConv2D(name+".downsample.0", ConvArgs{In: in, Out: out, Kernel: 1, Stride: stride}, rng),
			NewBatchNorm2D(name+".downsample.1", out),
		}
	}
	return b
}

func (b *BasicBlock) main() Sequential {
	return Sequential{b.conv1, b.bn1, b.relu1, b.conv2, b.bn2}
}

func (b *BasicBlock) Params() []*Param {
	return append(b.main().Params(), b.downsample.Params()...)
}

func (b *BasicBlock) Buffers() []*Param {
	return append(b.main().Buffers(), b.downsample.Buffers()...)
}

func (b *BasicBlock) setGroups(g int) {
	b.main().setGroups(g)
	b.downsample.setGroups(g)
}

func (b *BasicBlock) Forward(x *Tensor, train bool) *Tensor {
	y := b.main().Forward(x, train)
	shortcut := x
	if b.downsample != nil {
		shortcut = b.downsample.Forward(x, train)
	}
	return b.relu2.Forward(Add(y, shortcut), train)
}

func (b *BasicBlock) Backward(grad *Tensor) *Tensor {
	g := b.relu2.Backward(grad)
	dx := b.main().Backward(g)
	if b.downsample != nil {
		return Add(dx, b.downsample.Backward(g))
	}
	return Add(dx, g)
}

// ResNet is a ResNet-18 feature extractor for single-channel images: the stem
// convolution takes one input channel and there is no classification layer,
// so the output is the pooled feature vector of size 8*width.
type ResNet struct {
	Sequential
	width int
}

// NewResNet18 builds the backbone. Width is the channel count of the first
// stage; 64 gives the standard ResNet-18.
func NewResNet18(name string, width int, rng *rand.Rand) *ResNet {
	layers := Sequential{
		NewConv2D(name+".conv1", ConvArgs{In: 1, Out: width, Kernel: 7, Stride: 2, Padding: 3}, rng),
		NewBatchNorm2D(name+".bn1", width),
		NewReLU(),
		NewMaxPool2D(3, 2, 1),
	}
	in := width
	for stage, mult := range []int{1, 2, 4, 8} {
		out := width * mult
		stride := 2
		if stage == 0 {
			stride = 1
		}
		for i := 0; i < 2; i++ {
			blockName := fmt.Sprintf("%s.layer%d.%d", name, stage+1, i)
			layers = append(layers, NewBasicBlock(blockName, in, out, stride, rng))
			in, stride = out, 1
		}
	}
	layers = append(layers, NewGlobalAvgPool())
	return &ResNet{Sequential: layers, width: width}
}

// FeatureSize is the length of the vector produced per image.
func (r *ResNet) FeatureSize() int {
	return 8 * r.width
}
