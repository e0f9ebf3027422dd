// Package boxes - pairwise bounding box geometry for anchor matching.
package boxes

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Every box tensor in this module is [N,4] float32: center form is
// (cx, cy, w, h), corner form is (x1, y1, x2, y2). Corners are plain
// sub-pixel coordinates, not the integral bounds of image.Rectangle.
const boxCols = 4

// Data extracts the flat float32 backing of a [N,cols] tensor, validating
// rank, column count and element type.
//
// Arguments:
//   - t: The tensor to unpack.
//   - name: Argument name used in error messages.
//   - cols: Required number of columns.
//
// Returns:
//   - The flat row-major backing slice and the row count.
func Data(t *tensor.Dense, name string, cols int) ([]float32, int, error) {
	if t == nil {
		return nil, 0, errors.Errorf("%s: tensor is nil", name)
	}
	shape := t.Shape()
	if len(shape) != 2 || shape[1] != cols {
		return nil, 0, errors.Errorf("%s: want shape [N,%d], got %v", name, cols, shape)
	}
	if shape[0] == 0 {
		return nil, 0, errors.Errorf("%s: box set is empty", name)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, 0, errors.Errorf("%s: want float32 backing, got %T", name, t.Data())
	}
	return data, shape[0], nil
}

// CenterToCorner converts center-form boxes (cx, cy, w, h) into corner-form
// boxes (x1, y1, x2, y2).
//
// Arguments:
//   - priors: [N,4] float32 tensor in center form.
//
// Returns:
//   - A new [N,4] float32 tensor in corner form.
func CenterToCorner(priors *tensor.Dense) (*tensor.Dense, error) {
	data, n, err := Data(priors, "priors", boxCols)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n*boxCols)
	for i := 0; i < n; i++ {
		cx, cy := data[i*4+0], data[i*4+1]
		w, h := data[i*4+2], data[i*4+3]
		out[i*4+0] = cx - w/2
		out[i*4+1] = cy - h/2
		out[i*4+2] = cx + w/2
		out[i*4+3] = cy + h/2
	}

	return tensor.New(tensor.WithShape(n, boxCols), tensor.WithBacking(out)), nil
}

// Intersection computes the pairwise intersection areas between two
// corner-form box sets. The overlap per axis is
// max(0, min(maxXY) - max(minXY)), so disjoint pairs contribute exactly
// zero, never a negative area.
//
// Arguments:
//   - a: [N,4] float32 tensor in corner form.
//   - b: [M,4] float32 tensor in corner form.
//
// Returns:
//   - A new [N,M] float32 tensor of intersection areas.
func Intersection(a, b *tensor.Dense) (*tensor.Dense, error) {
	ad, n, err := Data(a, "a", boxCols)
	if err != nil {
		return nil, err
	}
	bd, m, err := Data(b, "b", boxCols)
	if err != nil {
		return nil, err
	}

	out := pairwiseIntersection(ad, n, bd, m)
	return tensor.New(tensor.WithShape(n, m), tensor.WithBacking(out)), nil
}

// IoU computes the pairwise Intersection over Union between two corner-form
// box sets:
//
//	IoU = intersection / (areaA + areaB - intersection)
//
// Well-formed boxes (positive area, x1 <= x2, y1 <= y2) always score in
// [0,1]; identical boxes score 1 and disjoint boxes score 0.
//
// A pair of zero-area boxes drives the union term to zero and the quotient
// to NaN. That case is intentionally not guarded here: callers are expected
// to reject degenerate boxes upstream, and the matching stage treats the
// propagated NaN as undefined behavior rather than silently redefining the
// overlap.
//
// Arguments:
//   - a: [N,4] float32 tensor in corner form.
//   - b: [M,4] float32 tensor in corner form.
//
// Returns:
//   - A new [N,M] float32 tensor of IoU scores.
func IoU(a, b *tensor.Dense) (*tensor.Dense, error) {
	out, n, m, err := IoUData(a, b)
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(n, m), tensor.WithBacking(out)), nil
}

// IoUData is IoU without the output tensor wrapper: it returns the flat
// row-major [N,M] score slice plus both set sizes. The matching stage scans
// the matrix by index and has no use for the shape header.
func IoUData(a, b *tensor.Dense) ([]float32, int, int, error) {
	ad, n, err := Data(a, "a", boxCols)
	if err != nil {
		return nil, 0, 0, err
	}
	bd, m, err := Data(b, "b", boxCols)
	if err != nil {
		return nil, 0, 0, err
	}

	out := pairwiseIntersection(ad, n, bd, m)

	areaB := make([]float32, m)
	for j := 0; j < m; j++ {
		areaB[j] = (bd[j*4+2] - bd[j*4+0]) * (bd[j*4+3] - bd[j*4+1])
	}
	for i := 0; i < n; i++ {
		areaA := (ad[i*4+2] - ad[i*4+0]) * (ad[i*4+3] - ad[i*4+1])
		for j := 0; j < m; j++ {
			in := out[i*m+j]
			out[i*m+j] = in / (areaA + areaB[j] - in)
		}
	}

	return out, n, m, nil
}

func pairwiseIntersection(ad []float32, n int, bd []float32, m int) []float32 {
	out := make([]float32, n*m)
	for i := 0; i < n; i++ {
		ax1, ay1 := ad[i*4+0], ad[i*4+1]
		ax2, ay2 := ad[i*4+2], ad[i*4+3]
		for j := 0; j < m; j++ {
			w := math32.Min(ax2, bd[j*4+2]) - math32.Max(ax1, bd[j*4+0])
			h := math32.Min(ay2, bd[j*4+3]) - math32.Max(ay1, bd[j*4+1])
			if w < 0 {
				w = 0
			}
			if h < 0 {
				h = 0
			}
			out[i*m+j] = w * h
		}
	}
	return out
}
