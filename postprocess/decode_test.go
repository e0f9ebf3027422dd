package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-retinaface/targets"
)

var testVariance = [2]float32{0.1, 0.2}

func dense(t *testing.T, rows, cols int, backing []float32) *tensor.Dense {
	t.Helper()
	require.Len(t, backing, rows*cols)
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
}

func TestDecodeBoxesZeroOffsets(t *testing.T) {
	// Zero offsets decode to the anchor's own corner form.
	priors := dense(t, 1, 4, []float32{0.5, 0.5, 0.2, 0.2})
	loc := dense(t, 1, 4, []float32{0, 0, 0, 0})

	got, err := DecodeBoxes(loc, priors, testVariance)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.4, 0.4, 0.6, 0.6}, got.Data().([]float32), 1e-6)
}

func TestDecodeBoxesKnownOffsets(t *testing.T) {
	priors := dense(t, 1, 4, []float32{0.5, 0.5, 0.2, 0.2})
	loc := dense(t, 1, 4, []float32{1, -1, 0, 0})

	got, err := DecodeBoxes(loc, priors, testVariance)
	require.NoError(t, err)

	// Center shifts by +/- v0*extent = 0.02, size is unchanged.
	assert.InDeltaSlice(t, []float32{0.42, 0.38, 0.62, 0.58}, got.Data().([]float32), 1e-6)
}

func TestDecodeBoxesRoundTrip(t *testing.T) {
	// Encode a ground truth against an anchor via Match, then decode the
	// offsets against the same anchor and variance: the original box must
	// come back within float tolerance.
	priors := dense(t, 1, 4, []float32{0.5, 0.5, 0.2, 0.2})
	want := []float32{0.44, 0.31, 0.58, 0.67}
	gt := dense(t, 1, 4, append([]float32(nil), want...))
	landms := dense(t, 1, 10, []float32{
		0.5, 0.5, 0.45, 0.45, 0.55, 0.55, 0.48, 0.52, 0.52, 0.48,
	})

	loc, _, encLandm, err := targets.Match(0.1, gt, priors, testVariance, []int32{1}, landms)
	require.NoError(t, err)

	decoded, err := DecodeBoxes(loc, priors, testVariance)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, decoded.Data().([]float32), 1e-5,
		"decode must invert the encode exactly")

	decodedLandm, err := DecodeLandmarks(encLandm, priors, testVariance)
	require.NoError(t, err)
	assert.InDeltaSlice(t, landms.Data().([]float32), decodedLandm.Data().([]float32), 1e-5,
		"landmark decode must invert the landmark encode")
}

func TestDecodeLandmarksZeroOffsets(t *testing.T) {
	priors := dense(t, 2, 4, []float32{
		0.25, 0.25, 0.1, 0.1,
		0.75, 0.75, 0.2, 0.2,
	})
	landm := dense(t, 2, 10, make([]float32, 20))

	got, err := DecodeLandmarks(landm, priors, testVariance)
	require.NoError(t, err)

	data := got.Data().([]float32)
	for p := 0; p < 5; p++ {
		assert.InDelta(t, 0.25, data[2*p+0], 1e-6, "zero offsets land on the anchor center")
		assert.InDelta(t, 0.25, data[2*p+1], 1e-6)
		assert.InDelta(t, 0.75, data[10+2*p+0], 1e-6)
		assert.InDelta(t, 0.75, data[10+2*p+1], 1e-6)
	}
}

func TestDecodeShapeValidation(t *testing.T) {
	priors := dense(t, 2, 4, make([]float32, 8))
	loc := dense(t, 1, 4, make([]float32, 4))

	_, err := DecodeBoxes(loc, priors, testVariance)
	assert.Error(t, err, "row count mismatch must be rejected")

	landm := dense(t, 1, 10, make([]float32, 10))
	_, err = DecodeLandmarks(landm, priors, testVariance)
	assert.Error(t, err, "row count mismatch must be rejected")
}
