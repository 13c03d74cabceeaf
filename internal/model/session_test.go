package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/damage-api/internal/imaging"
)

func TestResolveInput(t *testing.T) {
	fallback := imaging.Size{Width: 256, Height: 256}

	layout, err := resolveInput([]int64{-1, 224, 192, 3}, fallback)
	require.NoError(t, err)
	assert.False(t, layout.channelsFirst)
	assert.Equal(t, imaging.Size{Width: 192, Height: 224}, layout.size)

	layout, err = resolveInput([]int64{1, 3, 128, 160}, fallback)
	require.NoError(t, err)
	assert.True(t, layout.channelsFirst)
	assert.Equal(t, imaging.Size{Width: 160, Height: 128}, layout.size)

	layout, err = resolveInput([]int64{-1, -1, -1, 3}, fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, layout.size)

	_, err = resolveInput([]int64{1, 224, 224}, fallback)
	assert.Error(t, err)

	_, err = resolveInput([]int64{1, 1, 224, 224}, fallback)
	assert.Error(t, err)
}

func TestResolveOutput(t *testing.T) {
	dims, err := resolveOutput([]int64{-1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, dims)

	_, err = resolveOutput([]int64{1, -1})
	assert.Error(t, err)

	_, err = resolveOutput(nil)
	assert.Error(t, err)
}

func TestFillInput(t *testing.T) {
	// 2x1 image: pixel 0 = (1,2,3), pixel 1 = (4,5,6).
	tensor := &imaging.Tensor{Data: []float32{1, 2, 3, 4, 5, 6}, Width: 2, Height: 1}

	nhwc := make([]float32, 6)
	fillInput(nhwc, tensor, false)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, nhwc)

	nchw := make([]float32, 6)
	fillInput(nchw, tensor, true)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, nchw)
}
