package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestCosineSimilarity_DegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
