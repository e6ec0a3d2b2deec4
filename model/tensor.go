package model

import (
	"errors"
	"fmt"
)

const (
	ImageSize  = 176
	Channels   = 3
	NumClasses = 4
)

// InputShape is the NHWC shape the dementia classifier consumes.
var InputShape = []int64{1, ImageSize, ImageSize, Channels}

var ErrInvalidTensorShape = errors.New("invalid tensor shape")

// Tensor is a dense float32 array laid out in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int64) Tensor {
	return Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  make([]float32, elements(shape)),
	}
}

// Len returns the number of elements implied by the shape.
func (t Tensor) Len() int {
	return elements(t.Shape)
}

// CheckShape returns ErrInvalidTensorShape unless t has exactly the given
// shape and a backing slice of matching length.
func (t Tensor) CheckShape(want []int64) error {
	if len(t.Shape) != len(want) {
		return fmt.Errorf("%w: expected %v, got %v", ErrInvalidTensorShape, want, t.Shape)
	}
	for i := range want {
		if t.Shape[i] != want[i] {
			return fmt.Errorf("%w: expected %v, got %v", ErrInvalidTensorShape, want, t.Shape)
		}
	}
	if len(t.Data) != elements(want) {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidTensorShape, elements(want), len(t.Data))
	}
	return nil
}

func elements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index. It returns -1 for an empty slice.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := values[0]
	for i := 1; i < len(values); i++ {
		if values[i] > maxVal {
			maxVal = values[i]
			maxIdx = i
		}
	}
	return maxIdx
}
