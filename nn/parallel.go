package nn

import "github.com/catalina17/part2project/parallel"

// ParallelExecutor fans each call out across goroutines.
//
// Forward is split into one unit per (output position, filter) pair: the unit
// writes the elementwise products of the filter block and its input window
// into a scratch block and tree-reduces it. Backward runs two phases: weight
// and bias gradients with one group per filter, serial over output positions,
// then the input gradient with one group per padded position summing every
// filter whose window covers it.
type ParallelExecutor struct {
	cfg parallel.Config
}

// NewParallelExecutor uses workers goroutines, or one per logical core when
// workers <= 0.
func NewParallelExecutor(workers int) *ParallelExecutor {
	cfg := parallel.DefaultConfig().WithWorkers(workers)
	cfg.MinChunkSize = 1
	return &ParallelExecutor{cfg: cfg}
}

func (e *ParallelExecutor) Kind() ExecutorKind { return ExecutorParallel }

// Workers reports the configured goroutine count.
func (e *ParallelExecutor) Workers() int { return e.cfg.NumWorkers }

func (e *ParallelExecutor) Forward(bank *FilterBank, padded, out *Tensor) error {
	channels := bank.shape.Channels
	kw := bank.shape.Width
	area := bank.BlockSize()
	outW := out.Shape.Width

	parallel.ForRange(bank.numFilters*outW, func(start, end int) {
		scratch := make([]float32, area)
		for u := start; u < end; u++ {
			f, w := u/outW, u%outW
			block := bank.Block(f)
			for c := 0; c < channels; c++ {
				window := padded.Row(c)[w : w+kw]
				for k, x := range window {
					scratch[c*kw+k] = block[c*kw+k] * x
				}
			}
			out.Data[f*outW+w] = parallel.TreeSum(scratch) + bank.biases[f]
		}
	}, e.cfg)
	return nil
}

func (e *ParallelExecutor) Backward(bank *FilterBank, padded, outGrad, inGrad *Tensor) error {
	e.backwardFilters(bank, padded, outGrad)
	e.backwardInput(bank, outGrad, inGrad)
	return nil
}

// backwardFilters accumulates dW and dB. Each group owns one filter, so the
// gradient blocks are written without synchronization.
func (e *ParallelExecutor) backwardFilters(bank *FilterBank, padded, outGrad *Tensor) {
	channels := bank.shape.Channels
	kw := bank.shape.Width

	parallel.For(bank.numFilters, func(f int) {
		grad := bank.gradBlock(f)
		var dBias float32
		for w, g := range outGrad.Row(f) {
			for c := 0; c < channels; c++ {
				window := padded.Row(c)[w : w+kw]
				for k, x := range window {
					grad[c*kw+k] += g * x
				}
			}
			dBias += g
		}
		bank.dBiases[f] += dBias
	}, e.cfg)
}

// backwardInput writes inGrad[c][p] = sum over f, k with 0 <= p-k < outW of
// outGrad[f][p-k] * W[f][c][k].
func (e *ParallelExecutor) backwardInput(bank *FilterBank, outGrad, inGrad *Tensor) {
	channels := bank.shape.Channels
	kw := bank.shape.Width
	outW := outGrad.Shape.Width
	numFilters := bank.numFilters

	parallel.ForRange(inGrad.Shape.Width, func(start, end int) {
		scratch := make([]float32, numFilters*kw)
		for p := start; p < end; p++ {
			for c := 0; c < channels; c++ {
				for f := 0; f < numFilters; f++ {
					block := bank.Block(f)
					for k := 0; k < kw; k++ {
						var v float32
						if w := p - k; w >= 0 && w < outW {
							v = outGrad.At(f, w) * block[c*kw+k]
						}
						scratch[f*kw+k] = v
					}
				}
				inGrad.Data[c*inGrad.Shape.Width+p] = parallel.TreeSum(scratch)
			}
		}
	}, e.cfg)
}
