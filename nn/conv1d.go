package nn

import (
	"fmt"
	"math/rand"
	"time"
)

// ConvLayer is a temporal cross-correlation layer: every filter spans all
// input channels and slides along the width axis with stride 1.
type ConvLayer struct {
	cfg  LayerConfig
	bank *FilterBank
	exec Executor

	inputShape Shape
	shapeSet   bool
}

var _ Layer = (*ConvLayer)(nil)

// NewConvLayer validates cfg, initializes a fresh FilterBank and builds the
// configured executor.
func NewConvLayer(cfg LayerConfig) (*ConvLayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewConvLayerWithBank(cfg, NewFilterBank(cfg, rand.New(rand.NewSource(seed))))
}

// NewConvLayerWithBank builds a layer around an existing FilterBank. The
// bank is used in place, not copied.
func NewConvLayerWithBank(cfg LayerConfig, bank *FilterBank) (*ConvLayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bank.numFilters != cfg.NumFilters || bank.shape != cfg.FilterShape {
		return nil, fmt.Errorf("%w: bank holds %d filters of %v, config wants %d of %v",
			ErrShapeMismatch, bank.numFilters, bank.shape, cfg.NumFilters, cfg.FilterShape)
	}
	exec, err := NewExecutor(cfg)
	if err != nil {
		return nil, err
	}
	return &ConvLayer{cfg: cfg, bank: bank, exec: exec}, nil
}

func (l *ConvLayer) Config() LayerConfig { return l.cfg }
func (l *ConvLayer) Bank() *FilterBank   { return l.bank }
func (l *ConvLayer) Executor() Executor  { return l.exec }

// InputShape returns the established input shape and whether it is set.
func (l *ConvLayer) InputShape() (Shape, bool) { return l.inputShape, l.shapeSet }

// SetInputShape fixes the input shape. Setting the same shape again is a
// no-op; a different shape is rejected.
func (l *ConvLayer) SetInputShape(shape Shape) error {
	if l.shapeSet {
		if shape == l.inputShape {
			return nil
		}
		return fmt.Errorf("%w: have %v, got %v", ErrInputShapeFixed, l.inputShape, shape)
	}
	if shape.Channels != l.cfg.FilterShape.Channels {
		return fmt.Errorf("%w: input has %d channels, filters span %d",
			ErrInvalidShape, shape.Channels, l.cfg.FilterShape.Channels)
	}
	if out := l.cfg.OutputShape(shape); out.Width < 1 {
		return fmt.Errorf("%w: input %v yields output width %d", ErrInvalidShape, shape, out.Width)
	}
	l.inputShape = shape
	l.shapeSet = true
	return nil
}

// OutputShape is (filters, width+padding-kernelWidth+1) for the established
// input shape.
func (l *ConvLayer) OutputShape() Shape { return l.cfg.OutputShape(l.inputShape) }

func (l *ConvLayer) paddedShape() Shape {
	return Shape{Channels: l.inputShape.Channels, Width: l.inputShape.Width + l.cfg.PaddingAmount()}
}

// Forward pads input, correlates it with every filter and returns the output
// together with the pass needed by Backward.
func (l *ConvLayer) Forward(input *Tensor) (*Tensor, *Pass, error) {
	if !l.shapeSet {
		return nil, nil, ErrInputShapeUnset
	}
	if input == nil || input.Shape != l.inputShape || len(input.Data) != l.inputShape.Size() {
		return nil, nil, fmt.Errorf("%w: forward input must be %v", ErrShapeMismatch, l.inputShape)
	}

	padded := Pad(input, l.cfg.PaddingAmount())
	outShape := l.OutputShape()
	out := NewTensor(outShape.Channels, outShape.Width)
	if err := l.exec.Forward(l.bank, padded, out); err != nil {
		return nil, nil, fmt.Errorf("conv forward (%s): %w", l.exec.Kind(), err)
	}
	return out, &Pass{owner: l, operand: padded}, nil
}

// Backward accumulates weight and bias gradients (plus one weight-decay term
// per call) and returns the input gradient.
//
// The input gradient is cropped from the padded-width gradient at column
// kernelWidth-1, for InputShape.Width columns. With padding enabled that
// offset equals the padding split; without padding it shifts the window and
// columns beyond the padded width are zero.
func (l *ConvLayer) Backward(pass *Pass, outputGrad *Tensor) (*Tensor, error) {
	if !l.shapeSet {
		return nil, ErrInputShapeUnset
	}
	if pass == nil || pass.operand == nil {
		return nil, ErrNoForwardPass
	}
	if pass.owner != Layer(l) {
		return nil, ErrForeignPass
	}
	outShape := l.OutputShape()
	if outputGrad == nil || outputGrad.Shape != outShape || len(outputGrad.Data) != outShape.Size() {
		return nil, fmt.Errorf("%w: output gradient must be %v", ErrShapeMismatch, outShape)
	}

	ps := l.paddedShape()
	paddedGrad := NewTensor(ps.Channels, ps.Width)
	if err := l.exec.Backward(l.bank, pass.operand, outputGrad, paddedGrad); err != nil {
		return nil, fmt.Errorf("conv backward (%s): %w", l.exec.Kind(), err)
	}
	l.bank.accumulateDecay(l.cfg.WeightDecay)

	return cropColumns(paddedGrad, l.cfg.FilterShape.Width-1, l.inputShape.Width), nil
}

// UpdateParameters applies one gradient-descent step and clears the
// accumulators.
func (l *ConvLayer) UpdateParameters(learningRate float32) {
	l.bank.ApplyGradients(learningRate)
}
