package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioLayer builds one (1,2) filter of ones, no padding, over a
// (1, 3) input.
func scenarioLayer(t *testing.T, kind ExecutorKind) *ConvLayer {
	t.Helper()
	cfg := LayerConfig{
		NumFilters:  1,
		FilterShape: Shape{Channels: 1, Width: 2},
		WeightScale: 1,
		Executor:    kind,
		Workers:     2,
		Seed:        1,
	}
	layer, err := NewConvLayer(cfg)
	require.NoError(t, err)
	require.NoError(t, layer.Bank().SetParameters([]*Tensor{TensorFromRows([][]float32{{1, 1}})}, []float32{0}))
	require.NoError(t, layer.SetInputShape(Shape{Channels: 1, Width: 3}))
	return layer
}

func randomTensor(rng *rand.Rand, channels, width int) *Tensor {
	t := NewTensor(channels, width)
	for i := range t.Data {
		t.Data[i] = rng.Float32()*2 - 1
	}
	return t
}

// TestConvLayer_Scenario checks the hand-computed forward and backward values.
func TestConvLayer_Scenario(t *testing.T) {
	for _, kind := range []ExecutorKind{ExecutorSerial, ExecutorParallel} {
		t.Run(string(kind), func(t *testing.T) {
			layer := scenarioLayer(t, kind)

			out, pass, err := layer.Forward(TensorFromRows([][]float32{{1, 2, 3}}))
			require.NoError(t, err)
			assert.Equal(t, Shape{Channels: 1, Width: 2}, out.Shape)
			assert.Equal(t, [][]float32{{3, 5}}, out.Rows())

			inGrad, err := layer.Backward(pass, TensorFromRows([][]float32{{1, 1}}))
			require.NoError(t, err)
			assert.Equal(t, []float32{3, 5}, layer.Bank().WeightGrads())
			assert.Equal(t, []float32{2}, layer.Bank().BiasGrads())

			// Padded gradient is [1, 2, 1]; the crop starts at kernelWidth-1.
			assert.Equal(t, Shape{Channels: 1, Width: 3}, inGrad.Shape)
			assert.Equal(t, [][]float32{{2, 1, 0}}, inGrad.Rows())
		})
	}
}

// TestConvLayer_CropMatchesPaddingSplit checks that with padding enabled the
// kernelWidth-1 crop recovers the exact input gradient.
func TestConvLayer_CropMatchesPaddingSplit(t *testing.T) {
	cfg := LayerConfig{NumFilters: 1, FilterShape: Shape{Channels: 1, Width: 3}, WeightScale: 1, Padding: true, Seed: 3}
	layer, err := NewConvLayer(cfg)
	require.NoError(t, err)
	require.NoError(t, layer.Bank().SetParameters([]*Tensor{TensorFromRows([][]float32{{1, 2, 3}})}, []float32{0}))
	require.NoError(t, layer.SetInputShape(Shape{Channels: 1, Width: 2}))
	assert.Equal(t, Shape{Channels: 1, Width: 4}, layer.OutputShape())

	_, pass, err := layer.Forward(TensorFromRows([][]float32{{5, 7}}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0, 5, 7, 0, 0}}, pass.Operand().Rows())

	// out[1] = W[0]*x_pad[1] + W[1]*x[0] + W[2]*x[1], so dL/dx = [W[1], W[2]].
	inGrad, err := layer.Backward(pass, TensorFromRows([][]float32{{0, 1, 0, 0}}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 3}}, inGrad.Rows())
}

// TestConvLayer_OutputWidthLaw checks out = in + padding - kw + 1 and that
// OutputShape agrees with Forward.
func TestConvLayer_OutputWidthLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := []struct {
		channels, kw, filters, width int
		padding                      bool
		wantWidth                    int
	}{
		{1, 1, 1, 1, false, 1},
		{2, 3, 4, 10, false, 8},
		{2, 3, 4, 10, true, 12},
		{3, 4, 2, 4, false, 1},
		{3, 4, 2, 1, true, 4},
	}
	for _, tc := range cases {
		cfg := LayerConfig{
			NumFilters:  tc.filters,
			FilterShape: Shape{Channels: tc.channels, Width: tc.kw},
			WeightScale: 0.1,
			Padding:     tc.padding,
			Seed:        11,
		}
		layer, err := NewConvLayer(cfg)
		require.NoError(t, err)
		require.NoError(t, layer.SetInputShape(Shape{Channels: tc.channels, Width: tc.width}))

		want := Shape{Channels: tc.filters, Width: tc.wantWidth}
		assert.Equal(t, want, layer.OutputShape())

		out, _, err := layer.Forward(randomTensor(rng, tc.channels, tc.width))
		require.NoError(t, err)
		assert.Equal(t, layer.OutputShape(), out.Shape)
	}
}

// TestConvLayer_ZeroParametersGiveZeroOutput checks zero weights and biases.
func TestConvLayer_ZeroParametersGiveZeroOutput(t *testing.T) {
	cfg := LayerConfig{NumFilters: 3, FilterShape: Shape{Channels: 2, Width: 3}, WeightScale: 1, Padding: true, Seed: 5}
	layer, err := NewConvLayer(cfg)
	require.NoError(t, err)
	zeros := make([]*Tensor, 3)
	for i := range zeros {
		zeros[i] = NewTensor(2, 3)
	}
	require.NoError(t, layer.Bank().SetParameters(zeros, make([]float32, 3)))
	require.NoError(t, layer.SetInputShape(Shape{Channels: 2, Width: 6}))

	out, _, err := layer.Forward(randomTensor(rand.New(rand.NewSource(1)), 2, 6))
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Zero(t, v)
	}
}

// TestConvLayer_BiasAddsPerFilter checks the bias is added to every position.
func TestConvLayer_BiasAddsPerFilter(t *testing.T) {
	layer := scenarioLayer(t, ExecutorSerial)
	require.NoError(t, layer.Bank().SetParameters([]*Tensor{TensorFromRows([][]float32{{1, 1}})}, []float32{0.5}))
	out, _, err := layer.Forward(TensorFromRows([][]float32{{1, 2, 3}}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3.5, 5.5}}, out.Rows())
}

// TestConvLayer_GradientsAccumulate checks that repeated backward calls add
// up until an update clears them.
func TestConvLayer_GradientsAccumulate(t *testing.T) {
	layer := scenarioLayer(t, ExecutorSerial)
	input := TensorFromRows([][]float32{{1, 2, 3}})
	grad := TensorFromRows([][]float32{{1, 1}})

	for i := 0; i < 2; i++ {
		_, pass, err := layer.Forward(input)
		require.NoError(t, err)
		_, err = layer.Backward(pass, grad)
		require.NoError(t, err)
	}
	assert.Equal(t, []float32{6, 10}, layer.Bank().WeightGrads())
	assert.Equal(t, []float32{4}, layer.Bank().BiasGrads())

	layer.UpdateParameters(0.5)
	assert.Equal(t, []float32{1 - 3, 1 - 5}, layer.Bank().Weights())
	assert.Equal(t, []float32{-2}, layer.Bank().Biases())
	assert.Equal(t, []float32{0, 0}, layer.Bank().WeightGrads())
	assert.Equal(t, []float32{0}, layer.Bank().BiasGrads())
}

// TestConvLayer_UpdateIsIdempotentWithoutBackward checks the reset property.
func TestConvLayer_UpdateIsIdempotentWithoutBackward(t *testing.T) {
	cfg := LayerConfig{NumFilters: 2, FilterShape: Shape{Channels: 2, Width: 2}, WeightScale: 0.3, WeightDecay: 0.1, Seed: 9}
	layer, err := NewConvLayer(cfg)
	require.NoError(t, err)
	require.NoError(t, layer.SetInputShape(Shape{Channels: 2, Width: 5}))

	rng := rand.New(rand.NewSource(2))
	_, pass, err := layer.Forward(randomTensor(rng, 2, 5))
	require.NoError(t, err)
	_, err = layer.Backward(pass, randomTensor(rng, 2, 4))
	require.NoError(t, err)

	layer.UpdateParameters(0.1)
	weights, biases := layer.Bank().Weights(), layer.Bank().Biases()

	layer.UpdateParameters(0.1)
	assert.Equal(t, weights, layer.Bank().Weights())
	assert.Equal(t, biases, layer.Bank().Biases())
}

// TestConvLayer_WeightDecayOncePerBackward checks that each backward call adds
// exactly decay*W, regardless of what has already accumulated.
func TestConvLayer_WeightDecayOncePerBackward(t *testing.T) {
	const decay = 0.25
	rng := rand.New(rand.NewSource(4))
	input := randomTensor(rng, 2, 6)
	grad := randomTensor(rng, 3, 4)

	build := func(d float32) *ConvLayer {
		cfg := LayerConfig{NumFilters: 3, FilterShape: Shape{Channels: 2, Width: 3}, WeightScale: 0.5, WeightDecay: d, Seed: 21}
		layer, err := NewConvLayer(cfg)
		require.NoError(t, err)
		require.NoError(t, layer.SetInputShape(Shape{Channels: 2, Width: 6}))
		return layer
	}
	plain, decayed := build(0), build(decay)
	require.Equal(t, plain.Bank().Weights(), decayed.Bank().Weights())

	for call := 1; call <= 3; call++ {
		for _, l := range []*ConvLayer{plain, decayed} {
			_, pass, err := l.Forward(input)
			require.NoError(t, err)
			_, err = l.Backward(pass, grad)
			require.NoError(t, err)
		}
		w := decayed.Bank().Weights()
		pg, dg := plain.Bank().WeightGrads(), decayed.Bank().WeightGrads()
		for i := range w {
			assert.InDelta(t, float64(call)*decay*float64(w[i]), float64(dg[i]-pg[i]), 1e-4, "call %d index %d", call, i)
		}
		assert.Equal(t, plain.Bank().BiasGrads(), decayed.Bank().BiasGrads())
	}
}

// TestConvLayer_ShapeErrors checks the error surface of the layer interface.
func TestConvLayer_ShapeErrors(t *testing.T) {
	cfg := LayerConfig{NumFilters: 1, FilterShape: Shape{Channels: 2, Width: 3}, WeightScale: 1, Seed: 1}
	layer, err := NewConvLayer(cfg)
	require.NoError(t, err)

	_, _, err = layer.Forward(NewTensor(2, 5))
	assert.ErrorIs(t, err, ErrInputShapeUnset)
	_, err = layer.Backward(nil, NewTensor(1, 3))
	assert.ErrorIs(t, err, ErrInputShapeUnset)

	assert.ErrorIs(t, layer.SetInputShape(Shape{Channels: 3, Width: 5}), ErrInvalidShape)
	assert.ErrorIs(t, layer.SetInputShape(Shape{Channels: 2, Width: 2}), ErrInvalidShape)
	require.NoError(t, layer.SetInputShape(Shape{Channels: 2, Width: 5}))
	require.NoError(t, layer.SetInputShape(Shape{Channels: 2, Width: 5}))
	assert.ErrorIs(t, layer.SetInputShape(Shape{Channels: 2, Width: 6}), ErrInputShapeFixed)

	_, _, err = layer.Forward(NewTensor(2, 6))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, _, err = layer.Forward(nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	out, pass, err := layer.Forward(NewTensor(2, 5))
	require.NoError(t, err)

	_, err = layer.Backward(nil, out)
	assert.ErrorIs(t, err, ErrNoForwardPass)
	_, err = layer.Backward(pass, NewTensor(1, 4))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	other, err := NewConvLayer(cfg)
	require.NoError(t, err)
	require.NoError(t, other.SetInputShape(Shape{Channels: 2, Width: 5}))
	_, err = other.Backward(pass, out)
	assert.ErrorIs(t, err, ErrForeignPass)
}

// TestConvLayer_PassIsExplicit checks that a pass from an earlier forward
// call stays usable after a later forward.
func TestConvLayer_PassIsExplicit(t *testing.T) {
	layer := scenarioLayer(t, ExecutorSerial)
	_, first, err := layer.Forward(TensorFromRows([][]float32{{1, 2, 3}}))
	require.NoError(t, err)
	_, _, err = layer.Forward(TensorFromRows([][]float32{{9, 9, 9}}))
	require.NoError(t, err)

	_, err = layer.Backward(first, TensorFromRows([][]float32{{1, 1}}))
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 5}, layer.Bank().WeightGrads())
}

func TestNewConvLayerWithBank_RejectsMismatchedBank(t *testing.T) {
	cfg := LayerConfig{NumFilters: 2, FilterShape: Shape{Channels: 2, Width: 3}, WeightScale: 1}
	bank := NewFilterBank(LayerConfig{NumFilters: 3, FilterShape: Shape{Channels: 2, Width: 3}, WeightScale: 1},
		rand.New(rand.NewSource(1)))
	_, err := NewConvLayerWithBank(cfg, bank)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewConvLayer(LayerConfig{NumFilters: 0, FilterShape: Shape{Channels: 1, Width: 1}, WeightScale: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
