// Package anchors - deterministic multi-scale prior box generation.
package anchors

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Scale describes one level of the detection feature pyramid.
type Scale struct {
	// MinSizes are the anchor side lengths, in input pixels, placed at every
	// feature-map cell of this level.
	MinSizes []int
	// Step is the feature map stride: the downsampling factor between the
	// input image and this level's spatial resolution.
	Step int
}

// Generate produces the full center-form anchor set for an input of the
// given size, normalized to [0,1] relative to the image dimensions.
//
// The emission order is load-bearing: downstream target and decode stages
// index anchors positionally. Levels are walked in the configured order,
// then feature cells row-major, then min-sizes in their configured order.
// Identical arguments always reproduce an identical anchor set.
//
// The per-axis normalization follows the reference convention exactly:
// the first feature-map extent and cy derive from width, while cx and the
// anchor extents divide by the other axis. For the square inputs this
// detector trains on, the two conventions coincide.
//
// Arguments:
//   - width, height: Input image size in pixels.
//   - scales: Pyramid levels, ordered coarse-to-fine or as the model expects.
//   - clip: If true, clamp every coordinate to [0,1].
//
// Returns:
//   - A [K,4] float32 tensor of (cx, cy, w, h) anchors, K = Count(...).
func Generate(width, height int, scales []Scale, clip bool) (*tensor.Dense, error) {
	if err := validate(width, height, scales); err != nil {
		return nil, err
	}

	out := make([]float32, 0, Count(width, height, scales)*4)
	for _, s := range scales {
		fw := ceilDiv(width, s.Step)
		fh := ceilDiv(height, s.Step)
		for i := 0; i < fw; i++ {
			for j := 0; j < fh; j++ {
				for _, m := range s.MinSizes {
					cx := (float32(j) + 0.5) * float32(s.Step) / float32(height)
					cy := (float32(i) + 0.5) * float32(s.Step) / float32(width)
					w := float32(m) / float32(height)
					h := float32(m) / float32(width)
					out = append(out, cx, cy, w, h)
				}
			}
		}
	}

	if clip {
		for i, v := range out {
			if v < 0 {
				out[i] = 0
			} else if v > 1 {
				out[i] = 1
			}
		}
	}

	return tensor.New(tensor.WithShape(len(out)/4, 4), tensor.WithBacking(out)), nil
}

// Count returns the number of anchors Generate emits for the given
// configuration: the sum over levels of rows x cols x min-sizes.
func Count(width, height int, scales []Scale) int {
	total := 0
	for _, s := range scales {
		total += ceilDiv(width, s.Step) * ceilDiv(height, s.Step) * len(s.MinSizes)
	}
	return total
}

func validate(width, height int, scales []Scale) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("anchors: image size must be positive, got %dx%d", width, height)
	}
	if len(scales) == 0 {
		return errors.New("anchors: at least one scale is required")
	}
	for k, s := range scales {
		if s.Step <= 0 {
			return errors.Errorf("anchors: scale %d: step must be positive, got %d", k, s.Step)
		}
		if len(s.MinSizes) == 0 {
			return errors.Errorf("anchors: scale %d: no min sizes configured", k)
		}
		for _, m := range s.MinSizes {
			if m <= 0 {
				return errors.Errorf("anchors: scale %d: min size must be positive, got %d", k, m)
			}
		}
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
