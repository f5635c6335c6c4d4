package nn

import "fmt"

// Executor runs the correlation kernels of a convolutional layer against a
// FilterBank. Implementations differ only in how the work is decomposed;
// they agree numerically within float32 summation-order tolerance.
//
// Shapes are validated by the layer before an executor is called:
// padded is (channels, paddedWidth), out and outGrad are
// (filters, paddedWidth-kernelWidth+1), inGrad matches padded.
type Executor interface {
	Kind() ExecutorKind

	// Forward writes, for every filter f and output position w,
	// sum(W[f] .* padded[:, w:w+kw]) + b[f] into out[f][w].
	Forward(bank *FilterBank, padded, out *Tensor) error

	// Backward adds outGrad[f][w]*padded[:, w:w+kw] into the weight
	// gradient of f, the row sums of outGrad into the bias gradient, and
	// writes the full padded-width input gradient into inGrad, which the
	// caller passes in zeroed.
	Backward(bank *FilterBank, padded, outGrad, inGrad *Tensor) error
}

// NewExecutor builds the executor selected by cfg.Executor.
func NewExecutor(cfg LayerConfig) (Executor, error) {
	kind, err := ParseExecutorKind(string(cfg.Executor))
	if err != nil {
		return nil, err
	}
	switch kind {
	case ExecutorSerial:
		return SerialExecutor{}, nil
	case ExecutorParallel:
		return NewParallelExecutor(cfg.Workers), nil
	case ExecutorGPU:
		exec, err := NewGPUExecutor()
		if err != nil {
			return nil, err
		}
		return exec, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, kind)
}
