// Package nn implements a 1-D convolutional layer for spectrogram-like
// sequence inputs, with interchangeable serial, CPU-parallel and WebGPU
// executors.
package nn

// Layer is the capability every layer kind exposes to the training loop.
//
// Forward returns a Pass that must be handed back to Backward; it replaces
// hidden per-layer state, so the dependency between the two calls is visible
// to the caller. Calls on one layer must not overlap.
type Layer interface {
	SetInputShape(shape Shape) error
	OutputShape() Shape
	Forward(input *Tensor) (*Tensor, *Pass, error)
	Backward(pass *Pass, outputGrad *Tensor) (*Tensor, error)
	UpdateParameters(learningRate float32)
}

// Pass is the context produced by one forward call.
type Pass struct {
	owner   Layer
	operand *Tensor
}

// Operand returns the tensor the layer cached for backward. For a
// convolutional layer this is the padded input.
func (p *Pass) Operand() *Tensor { return p.operand }
