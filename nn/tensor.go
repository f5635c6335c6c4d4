package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"
)

// Shape is a (channels, width) pair. For inputs and gradients Width is the
// temporal axis; for filters it is the kernel width.
type Shape struct {
	Channels int
	Width    int
}

// Size returns the number of elements.
func (s Shape) Size() int { return s.Channels * s.Width }

func (s Shape) String() string { return fmt.Sprintf("(%d, %d)", s.Channels, s.Width) }

// Tensor is a dense float32 matrix stored row-major as [channel][position].
type Tensor struct {
	Shape Shape
	Data  []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(channels, width int) *Tensor {
	return &Tensor{
		Shape: Shape{Channels: channels, Width: width},
		Data:  make([]float32, channels*width),
	}
}

// NewTensorFromSlice wraps data without copying. It returns nil when the
// length does not match the shape.
func NewTensorFromSlice(data []float32, channels, width int) *Tensor {
	if len(data) != channels*width {
		return nil
	}
	return &Tensor{Shape: Shape{Channels: channels, Width: width}, Data: data}
}

// TensorFromRows copies equal-length rows into a new tensor.
func TensorFromRows(rows [][]float32) *Tensor {
	if len(rows) == 0 {
		return NewTensor(0, 0)
	}
	t := NewTensor(len(rows), len(rows[0]))
	for c, r := range rows {
		copy(t.Row(c), r)
	}
	return t
}

// Row returns a view of channel c.
func (t *Tensor) Row(c int) []float32 {
	w := t.Shape.Width
	return t.Data[c*w : (c+1)*w : (c+1)*w]
}

// Rows copies the tensor into a slice of rows.
func (t *Tensor) Rows() [][]float32 {
	out := make([][]float32, t.Shape.Channels)
	for c := range out {
		out[c] = append([]float32(nil), t.Row(c)...)
	}
	return out
}

func (t *Tensor) At(c, w int) float32     { return t.Data[c*t.Shape.Width+w] }
func (t *Tensor) Set(c, w int, v float32) { t.Data[c*t.Shape.Width+w] = v }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: t.Shape, Data: append([]float32(nil), t.Data...)}
}

// vec views a contiguous slice as a unit-stride BLAS vector.
func vec(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}
