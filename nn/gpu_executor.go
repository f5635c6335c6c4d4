package nn

import (
	"fmt"

	"github.com/catalina17/part2project/gpu"
)

// GPUExecutor runs the correlation as WebGPU compute kernels. Parameters and
// accumulators stay on the host; each call uploads them, dispatches and
// blocks until the results are read back.
type GPUExecutor struct{}

// NewGPUExecutor fails with gpu.ErrNoGPU when no device can be opened.
func NewGPUExecutor() (*GPUExecutor, error) {
	if err := gpu.EnsureGPU(); err != nil {
		return nil, err
	}
	return &GPUExecutor{}, nil
}

func (*GPUExecutor) Kind() ExecutorKind { return ExecutorGPU }

func gpuShape(bank *FilterBank, padded *Tensor) gpu.Conv1DShape {
	return gpu.Conv1DShape{
		Channels:    bank.shape.Channels,
		PaddedWidth: padded.Shape.Width,
		KernelWidth: bank.shape.Width,
		Filters:     bank.numFilters,
	}
}

func (*GPUExecutor) Forward(bank *FilterBank, padded, out *Tensor) error {
	res, err := gpu.Forward(gpuShape(bank, padded), padded.Data, bank.weights, bank.biases)
	if err != nil {
		return err
	}
	if len(res) != len(out.Data) {
		return fmt.Errorf("gpu forward returned %d values, want %d", len(res), len(out.Data))
	}
	copy(out.Data, res)
	return nil
}

func (*GPUExecutor) Backward(bank *FilterBank, padded, outGrad, inGrad *Tensor) error {
	res, err := gpu.Backward(gpuShape(bank, padded), padded.Data, bank.weights, outGrad.Data,
		bank.dWeights, bank.dBiases)
	if err != nil {
		return err
	}
	if len(res) != len(inGrad.Data) {
		return fmt.Errorf("gpu backward returned %d values, want %d", len(res), len(inGrad.Data))
	}
	copy(inGrad.Data, res)
	return nil
}
