package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgmaxLeftmostWinsOnTie(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float32{0.1, 0.4, 0.4, 0.1}))
	assert.Equal(t, 0, Argmax([]float32{0.25, 0.25, 0.25, 0.25}))
	assert.Equal(t, 3, Argmax([]float32{0.1, 0.2, 0.3, 0.4}))
	assert.Equal(t, -1, Argmax(nil))
}

func TestTopK(t *testing.T) {
	scores := TopK([]float32{0.1, 0.5, 0.5, 0.2}, 3)

	require.Len(t, scores, 3)
	assert.Equal(t, []Score{{1, 0.5}, {2, 0.5}, {3, 0.2}}, scores)
	assert.Len(t, TopK([]float32{0.1}, 5), 1)
	assert.Nil(t, TopK([]float32{0.1}, 0))
}

func TestCheckShape(t *testing.T) {
	ok := NewTensor(InputShape...)
	require.NoError(t, ok.CheckShape(InputShape))
	assert.Equal(t, 176*176*3, ok.Len())

	for _, shape := range [][]int64{
		{176, 176, 3},
		{1, 180, 180, 3},
		{1, 3, 176, 176},
		{2, 176, 176, 3},
	} {
		err := NewTensor(shape...).CheckShape(InputShape)
		assert.ErrorIs(t, err, ErrInvalidTensorShape, "shape %v", shape)
	}

	truncated := Tensor{Shape: InputShape, Data: make([]float32, 10)}
	assert.ErrorIs(t, truncated.CheckShape(InputShape), ErrInvalidTensorShape)
}

func TestNewONNXModelMissingFile(t *testing.T) {
	_, err := NewONNXModel(DefaultConfig(filepath.Join(t.TempDir(), "missing.onnx")))
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = NewONNXModel(DefaultConfig(""))
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = NewONNXModel(DefaultConfig(t.TempDir()))
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestClosedModelRefusesWork(t *testing.T) {
	var m ONNXModel

	_, err := m.Predict(NewTensor(InputShape...))
	assert.ErrorIs(t, err, ErrModelClosed)

	_, err = m.Classify(NewTensor(InputShape...))
	assert.ErrorIs(t, err, ErrModelClosed)

	assert.ErrorIs(t, m.Close(), ErrModelClosed)
	assert.ErrorIs(t, m.Close(), ErrModelClosed)
}
