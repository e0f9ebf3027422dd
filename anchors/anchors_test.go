package anchors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retinaFaceScales() []Scale {
	return []Scale{
		{MinSizes: []int{16, 32}, Step: 8},
		{MinSizes: []int{64, 128}, Step: 16},
		{MinSizes: []int{256, 512}, Step: 32},
	}
}

func TestGenerateCount640(t *testing.T) {
	priors, err := Generate(640, 640, retinaFaceScales(), false)
	require.NoError(t, err)

	// ceil(640/8)^2*2 + ceil(640/16)^2*2 + ceil(640/32)^2*2
	want := 80*80*2 + 40*40*2 + 20*20*2
	assert.Equal(t, want, priors.Shape()[0], "anchor count for the 640 pyramid")
	assert.Equal(t, 4, priors.Shape()[1])
	assert.Equal(t, want, Count(640, 640, retinaFaceScales()), "Count must agree with Generate")
}

func TestGenerateCountNonDivisible(t *testing.T) {
	// 100/8 -> 13 cells, 100/16 -> 7, 100/32 -> 4: partial cells round up.
	want := 13*13*2 + 7*7*2 + 4*4*2
	assert.Equal(t, want, Count(100, 100, retinaFaceScales()))

	priors, err := Generate(100, 100, retinaFaceScales(), false)
	require.NoError(t, err)
	assert.Equal(t, want, priors.Shape()[0])
}

func TestGenerateFirstCells(t *testing.T) {
	priors, err := Generate(640, 640, retinaFaceScales(), false)
	require.NoError(t, err)
	data := priors.Data().([]float32)

	// Cell (0,0) of the stride-8 level emits its two min-sizes in order.
	assert.InDeltaSlice(t, []float32{0.5 * 8 / 640, 0.5 * 8 / 640, 16.0 / 640, 16.0 / 640},
		data[0:4], 1e-6, "first anchor: min size 16 at cell (0,0)")
	assert.InDeltaSlice(t, []float32{0.5 * 8 / 640, 0.5 * 8 / 640, 32.0 / 640, 32.0 / 640},
		data[4:8], 1e-6, "second anchor: min size 32 at the same cell")

	// Third anchor moves one cell along the inner (column) axis.
	assert.InDeltaSlice(t, []float32{1.5 * 8 / 640, 0.5 * 8 / 640, 16.0 / 640, 16.0 / 640},
		data[8:12], 1e-6, "cells advance column-first within a level")
}

func TestGenerateClip(t *testing.T) {
	priors, err := Generate(640, 640, retinaFaceScales(), true)
	require.NoError(t, err)

	for _, v := range priors.Data().([]float32) {
		assert.GreaterOrEqual(t, v, float32(0), "clipped anchors stay in range")
		assert.LessOrEqual(t, v, float32(1), "clipped anchors stay in range")
	}
}

func TestGenerateUnclippedExceedsRange(t *testing.T) {
	// A 512px anchor on a 640px image has w = 0.8, so edge cells spill
	// outside [0,1] when clip is off.
	priors, err := Generate(640, 640, retinaFaceScales(), false)
	require.NoError(t, err)

	exceeds := false
	data := priors.Data().([]float32)
	for i := 0; i < priors.Shape()[0]; i++ {
		if data[i*4+0]-data[i*4+2]/2 < 0 {
			exceeds = true
			break
		}
	}
	assert.True(t, exceeds, "without clip, edge anchors extend past the image")
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(640, 640, retinaFaceScales(), true)
	require.NoError(t, err)
	b, err := Generate(640, 640, retinaFaceScales(), true)
	require.NoError(t, err)

	assert.Equal(t, a.Data().([]float32), b.Data().([]float32),
		"same configuration must reproduce byte-identical anchors")
}

func TestGenerateValidation(t *testing.T) {
	_, err := Generate(0, 640, retinaFaceScales(), false)
	assert.Error(t, err, "non-positive image size")

	_, err = Generate(640, 640, nil, false)
	assert.Error(t, err, "missing scales")

	_, err = Generate(640, 640, []Scale{{MinSizes: []int{16}, Step: 0}}, false)
	assert.Error(t, err, "non-positive step")

	_, err = Generate(640, 640, []Scale{{MinSizes: nil, Step: 8}}, false)
	assert.Error(t, err, "empty min sizes")
}
