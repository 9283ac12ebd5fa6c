package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-3, 0}), 1e-12)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestEmbeddingEncoding(t *testing.T) {
	vec := []float64{math.Pi, -1e-300, 0, math.MaxFloat64}
	buf := EncodeEmbedding(vec)
	require.Len(t, buf, 32)

	got, err := DecodeEmbedding(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeEmbedding(buf, 3)
	assert.Error(t, err)
	_, err = DecodeEmbedding(buf, 0)
	assert.Error(t, err)
}
