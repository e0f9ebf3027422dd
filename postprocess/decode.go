// Package postprocess - decodes raw detector regression output back into
// absolute corner-form boxes and landmark coordinates, ready for NMS.
package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-retinaface/boxes"
)

const (
	locCols   = 4
	landmCols = 10
)

// DecodeBoxes inverts the location encode: predicted offsets plus the anchor
// set they were regressed against yield corner-form boxes in the same
// normalized coordinates as the anchors.
//
//	center = anchor.center + pred[:2] * v0 * anchor.extent
//	extent = anchor.extent * exp(pred[2:] * v1)
//
// Arguments:
//   - loc: [N,4] predicted location offsets.
//   - priors: [N,4] center-form anchors; must be the set used at encode time.
//   - variance: The offset scale pair used at encode time.
//
// Returns:
//   - A new [N,4] float32 tensor of (x1, y1, x2, y2) boxes.
func DecodeBoxes(loc, priors *tensor.Dense, variance [2]float32) (*tensor.Dense, error) {
	ld, n, err := boxes.Data(loc, "loc", locCols)
	if err != nil {
		return nil, err
	}
	pr, pn, err := boxes.Data(priors, "priors", locCols)
	if err != nil {
		return nil, err
	}
	if pn != n {
		return nil, errors.Errorf("priors: want %d rows to match loc, got %d", n, pn)
	}

	out := make([]float32, n*locCols)
	for i := 0; i < n; i++ {
		cx := pr[i*4+0] + ld[i*4+0]*variance[0]*pr[i*4+2]
		cy := pr[i*4+1] + ld[i*4+1]*variance[0]*pr[i*4+3]
		w := pr[i*4+2] * math32.Exp(ld[i*4+2]*variance[1])
		h := pr[i*4+3] * math32.Exp(ld[i*4+3]*variance[1])

		x1 := cx - w/2
		y1 := cy - h/2
		out[i*4+0] = x1
		out[i*4+1] = y1
		out[i*4+2] = x1 + w
		out[i*4+3] = y1 + h
	}

	return tensor.New(tensor.WithShape(n, locCols), tensor.WithBacking(out)), nil
}

// DecodeLandmarks inverts the landmark encode: each of the five predicted
// (x,y) offset pairs becomes an absolute point at
// anchor.center + pair * v0 * anchor.extent.
//
// Arguments:
//   - landm: [N,10] predicted landmark offsets.
//   - priors: [N,4] center-form anchors; must be the set used at encode time.
//   - variance: The offset scale pair used at encode time.
//
// Returns:
//   - A new [N,10] float32 tensor of absolute landmark coordinates.
func DecodeLandmarks(landm, priors *tensor.Dense, variance [2]float32) (*tensor.Dense, error) {
	ld, n, err := boxes.Data(landm, "landm", landmCols)
	if err != nil {
		return nil, err
	}
	pr, pn, err := boxes.Data(priors, "priors", locCols)
	if err != nil {
		return nil, err
	}
	if pn != n {
		return nil, errors.Errorf("priors: want %d rows to match landm, got %d", n, pn)
	}

	out := make([]float32, n*landmCols)
	for i := 0; i < n; i++ {
		cx, cy := pr[i*4+0], pr[i*4+1]
		pw, ph := pr[i*4+2], pr[i*4+3]
		for p := 0; p < 5; p++ {
			out[i*10+2*p+0] = cx + ld[i*10+2*p+0]*variance[0]*pw
			out[i*10+2*p+1] = cy + ld[i*10+2*p+1]*variance[0]*ph
		}
	}

	return tensor.New(tensor.WithShape(n, landmCols), tensor.WithBacking(out)), nil
}
