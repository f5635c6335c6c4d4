package nn

import (
	"fmt"
	"strings"
)

// ExecutorKind selects the implementation that runs the correlation kernels.
type ExecutorKind string

const (
	ExecutorSerial   ExecutorKind = "serial"   // Nested loops on the calling goroutine
	ExecutorParallel ExecutorKind = "parallel" // Goroutine fan-out over output positions and filters
	ExecutorGPU      ExecutorKind = "gpu"      // WebGPU compute kernels
)

// ParseExecutorKind maps a user supplied name onto an ExecutorKind.
// The empty string selects the serial executor.
func ParseExecutorKind(s string) (ExecutorKind, error) {
	switch k := ExecutorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return ExecutorSerial, nil
	case ExecutorSerial, ExecutorParallel, ExecutorGPU:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExecutor, s)
	}
}

// LayerConfig holds the immutable configuration of a convolutional layer.
type LayerConfig struct {
	NumFilters  int     // Number of filters, one output row each
	FilterShape Shape   // Channels x kernel width of every filter
	WeightDecay float32 // L2 coefficient added to the weight gradient on every backward call
	WeightScale float32 // Standard deviation of the Gaussian weight initialization
	Padding     bool    // Pad the input with 2*(kernelWidth-1) zero columns

	// Execution
	Executor ExecutorKind // Defaults to ExecutorSerial
	Workers  int          // Goroutines for ExecutorParallel; <= 0 uses one per logical core
	Seed     int64        // Weight initialization seed; 0 seeds from the clock
}

// DefaultLayerConfig returns the benchmark layer: 64 filters spanning 128
// channels with a temporal width of 4, no padding.
func DefaultLayerConfig() LayerConfig {
	return LayerConfig{
		NumFilters:  64,
		FilterShape: Shape{Channels: 128, Width: 4},
		WeightDecay: 0,
		WeightScale: 0.01,
		Padding:     false,
		Executor:    ExecutorSerial,
	}
}

// Validate reports whether the configuration describes a buildable layer.
func (c LayerConfig) Validate() error {
	if c.NumFilters <= 0 {
		return fmt.Errorf("%w: num filters must be positive, got %d", ErrInvalidConfig, c.NumFilters)
	}
	if c.FilterShape.Channels <= 0 || c.FilterShape.Width <= 0 {
		return fmt.Errorf("%w: filter shape must be positive, got %v", ErrInvalidConfig, c.FilterShape)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("%w: weight decay must be non-negative, got %g", ErrInvalidConfig, c.WeightDecay)
	}
	if c.WeightScale <= 0 {
		return fmt.Errorf("%w: weight scale must be positive, got %g", ErrInvalidConfig, c.WeightScale)
	}
	if _, err := ParseExecutorKind(string(c.Executor)); err != nil {
		return err
	}
	return nil
}

// PaddingAmount is the total number of zero columns added around the input,
// split evenly between both edges.
func (c LayerConfig) PaddingAmount() int {
	if !c.Padding {
		return 0
	}
	return 2 * (c.FilterShape.Width - 1)
}

// OutputShape derives the output shape for an input of the given shape.
func (c LayerConfig) OutputShape(input Shape) Shape {
	return Shape{
		Channels: c.NumFilters,
		Width:    input.Width + c.PaddingAmount() - c.FilterShape.Width + 1,
	}
}
