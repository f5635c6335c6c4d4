package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas/blas32"
)

// FilterBank owns the filter weights, biases and their gradient accumulators.
//
// Weights are stored flat as [filter][channel][k]; block f occupies
// weights[f*BlockSize() : (f+1)*BlockSize()].
type FilterBank struct {
	numFilters int
	shape      Shape

	weights  []float32
	biases   []float32
	dWeights []float32
	dBiases  []float32
}

// NewFilterBank draws every filter block independently from N(0, WeightScale^2)
// and zeroes biases and accumulators.
func NewFilterBank(cfg LayerConfig, rng *rand.Rand) *FilterBank {
	b := newZeroFilterBank(cfg.NumFilters, cfg.FilterShape)
	scale := float64(cfg.WeightScale)
	for f := 0; f < b.numFilters; f++ {
		block := b.Block(f)
		for i := range block {
			block[i] = float32(rng.NormFloat64() * scale)
		}
	}
	return b
}

func newZeroFilterBank(numFilters int, shape Shape) *FilterBank {
	n := numFilters * shape.Size()
	return &FilterBank{
		numFilters: numFilters,
		shape:      shape,
		weights:    make([]float32, n),
		biases:     make([]float32, numFilters),
		dWeights:   make([]float32, n),
		dBiases:    make([]float32, numFilters),
	}
}

func (b *FilterBank) NumFilters() int    { return b.numFilters }
func (b *FilterBank) FilterShape() Shape { return b.shape }
func (b *FilterBank) BlockSize() int     { return b.shape.Size() }

// Block returns a view of filter f's weights, laid out [channel][k].
func (b *FilterBank) Block(f int) []float32 {
	n := b.BlockSize()
	return b.weights[f*n : (f+1)*n : (f+1)*n]
}

func (b *FilterBank) gradBlock(f int) []float32 {
	n := b.BlockSize()
	return b.dWeights[f*n : (f+1)*n : (f+1)*n]
}

// Filter copies filter f into a (channels, kernel width) tensor.
func (b *FilterBank) Filter(f int) *Tensor {
	t := NewTensor(b.shape.Channels, b.shape.Width)
	copy(t.Data, b.Block(f))
	return t
}

// FilterGrad copies the accumulated gradient of filter f.
func (b *FilterBank) FilterGrad(f int) *Tensor {
	t := NewTensor(b.shape.Channels, b.shape.Width)
	copy(t.Data, b.gradBlock(f))
	return t
}

func (b *FilterBank) Weights() []float32     { return append([]float32(nil), b.weights...) }
func (b *FilterBank) Biases() []float32      { return append([]float32(nil), b.biases...) }
func (b *FilterBank) WeightGrads() []float32 { return append([]float32(nil), b.dWeights...) }
func (b *FilterBank) BiasGrads() []float32   { return append([]float32(nil), b.dBiases...) }

// SetParameters replaces every filter and bias. Accumulators are cleared.
func (b *FilterBank) SetParameters(filters []*Tensor, biases []float32) error {
	if len(filters) != b.numFilters || len(biases) != b.numFilters {
		return fmt.Errorf("%w: want %d filters and biases, got %d and %d",
			ErrShapeMismatch, b.numFilters, len(filters), len(biases))
	}
	for f, t := range filters {
		if t == nil || t.Shape != b.shape {
			return fmt.Errorf("%w: filter %d must be %v", ErrShapeMismatch, f, b.shape)
		}
	}
	for f, t := range filters {
		copy(b.Block(f), t.Data)
	}
	copy(b.biases, biases)
	b.ZeroGradients()
	return nil
}

// Clone deep-copies parameters and accumulators.
func (b *FilterBank) Clone() *FilterBank {
	return &FilterBank{
		numFilters: b.numFilters,
		shape:      b.shape,
		weights:    append([]float32(nil), b.weights...),
		biases:     append([]float32(nil), b.biases...),
		dWeights:   append([]float32(nil), b.dWeights...),
		dBiases:    append([]float32(nil), b.dBiases...),
	}
}

// accumulateDecay adds decay*W to the weight gradient.
func (b *FilterBank) accumulateDecay(decay float32) {
	if decay == 0 {
		return
	}
	blas32.Axpy(decay, vec(b.weights), vec(b.dWeights))
}

// ZeroGradients resets both accumulators.
func (b *FilterBank) ZeroGradients() {
	clear(b.dWeights)
	clear(b.dBiases)
}
