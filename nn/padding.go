package nn

// Pad returns a copy of input widened by amount zero columns, with the input
// centered at offset amount/2. amount must be even. When amount is zero the
// input itself is returned.
func Pad(input *Tensor, amount int) *Tensor {
	if amount == 0 {
		return input
	}
	padded := NewTensor(input.Shape.Channels, input.Shape.Width+amount)
	offset := amount / 2
	for c := 0; c < input.Shape.Channels; c++ {
		copy(padded.Row(c)[offset:], input.Row(c))
	}
	return padded
}

// cropColumns copies width columns of src starting at offset. Columns past
// the end of src are left zero.
func cropColumns(src *Tensor, offset, width int) *Tensor {
	out := NewTensor(src.Shape.Channels, width)
	if offset >= src.Shape.Width {
		return out
	}
	for c := 0; c < src.Shape.Channels; c++ {
		copy(out.Row(c), src.Row(c)[offset:])
	}
	return out
}
