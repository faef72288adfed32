package store

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32Blob(values ...float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return out
}

func TestDecodeF32Blob(t *testing.T) {
	blob := f32Blob(1, -2.5, 3)
	got := decodeF32Blob(blob)
	assert.Equal(t, []float32{1, -2.5, 3}, got)
}

func TestCosineDistance_IdenticalVectorsAreZero(t *testing.T) {
	v := f32Blob(1, 2, 3)
	d, err := cosineDistance(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestCosineDistance_OrthogonalVectorsAreOne(t *testing.T) {
	a := f32Blob(1, 0)
	b := f32Blob(0, 1)
	d, err := cosineDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-9)
}

func TestCosineDistance_OppositeVectorsAreTwo(t *testing.T) {
	a := f32Blob(1, 0)
	b := f32Blob(-1, 0)
	d, err := cosineDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-9)
}

func TestCosineDistance_RejectsDimensionMismatch(t *testing.T) {
	a := f32Blob(1, 2, 3)
	b := f32Blob(1, 2)
	_, err := cosineDistance(a, b)
	assert.Error(t, err)
}

func TestCosineDistance_RejectsEmptyVectors(t *testing.T) {
	_, err := cosineDistance(nil, nil)
	assert.Error(t, err)
}

func TestL2Distance_IdenticalVectorsAreZero(t *testing.T) {
	v := f32Blob(1, 2, 3)
	d, err := l2Distance(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestL2Distance_KnownDistance(t *testing.T) {
	a := f32Blob(0, 0)
	b := f32Blob(3, 4)
	d, err := l2Distance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 5, d, 1e-9)
}

func TestL2Distance_RejectsDimensionMismatch(t *testing.T) {
	a := f32Blob(1, 2)
	b := f32Blob(1, 2, 3)
	_, err := l2Distance(a, b)
	assert.Error(t, err)
}
