package nn

import "gonum.org/v1/gonum/blas/blas32"

// ApplyGradients takes one plain gradient-descent step with the accumulated
// gradients and clears them. Learning-rate schedules belong to the caller,
// which pre-scales learningRate.
func (b *FilterBank) ApplyGradients(learningRate float32) {
	blas32.Axpy(-learningRate, vec(b.dWeights), vec(b.weights))
	blas32.Axpy(-learningRate, vec(b.dBiases), vec(b.biases))
	b.ZeroGradients()
}
