package nn

import "gonum.org/v1/gonum/blas/blas32"

// SerialExecutor computes the correlation with nested loops on the calling
// goroutine. Every filter row is a BLAS level-1 call over one kernel window.
type SerialExecutor struct{}

func (SerialExecutor) Kind() ExecutorKind { return ExecutorSerial }

func (SerialExecutor) Forward(bank *FilterBank, padded, out *Tensor) error {
	channels := bank.shape.Channels
	kw := bank.shape.Width

	for f := 0; f < bank.numFilters; f++ {
		block := bank.Block(f)
		row := out.Row(f)
		for w := range row {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += blas32.Dot(vec(block[c*kw:(c+1)*kw]), vec(padded.Row(c)[w:w+kw]))
			}
			row[w] = sum + bank.biases[f]
		}
	}
	return nil
}

func (SerialExecutor) Backward(bank *FilterBank, padded, outGrad, inGrad *Tensor) error {
	channels := bank.shape.Channels
	kw := bank.shape.Width
	outW := outGrad.Shape.Width

	for w := 0; w < outW; w++ {
		for f := 0; f < bank.numFilters; f++ {
			g := outGrad.At(f, w)
			block := bank.Block(f)
			grad := bank.gradBlock(f)
			for c := 0; c < channels; c++ {
				lo, hi := c*kw, (c+1)*kw
				blas32.Axpy(g, vec(block[lo:hi]), vec(inGrad.Row(c)[w:w+kw]))
				blas32.Axpy(g, vec(padded.Row(c)[w:w+kw]), vec(grad[lo:hi]))
			}
		}
	}

	for f := 0; f < bank.numFilters; f++ {
		var sum float32
		for _, g := range outGrad.Row(f) {
			sum += g
		}
		bank.dBiases[f] += sum
	}
	return nil
}
