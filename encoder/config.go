// Package encoder - the per-sample training transform: owns one immutable
// anchor set and turns each image's ground-truth annotations into
// fixed-length per-anchor targets.
package encoder

import (
	"github.com/pkg/errors"
)

// Config holds the construction-time parameters of a BBoxEncoder.
type Config struct {
	// ImageSize is the square network input size in pixels.
	ImageSize int

	// MatchThreshold is the minimum anchor/ground-truth IoU for a positive
	// classification target, in (0,1]. Anchors below it train as background
	// unless they are a ground truth's forced match.
	MatchThreshold float32

	// Variance rescales encoded offsets: index 0 scales center and landmark
	// offsets, index 1 scales log-size offsets. Fixed constants, not learned;
	// decode must use the same pair.
	Variance [2]float32

	// Clip clamps generated anchor coordinates to [0,1].
	Clip bool
}

// DefaultConfig returns the RetinaFace training configuration: 640px input,
// match threshold 0.35, variance (0.1, 0.2), no clipping.
func DefaultConfig() Config {
	return Config{
		ImageSize:      640,
		MatchThreshold: 0.35,
		Variance:       [2]float32{0.1, 0.2},
		Clip:           false,
	}
}

// Validate fails fast on malformed configuration.
func (c Config) Validate() error {
	if c.ImageSize <= 0 {
		return errors.Errorf("encoder: image size must be positive, got %d", c.ImageSize)
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return errors.Errorf("encoder: match threshold must be in (0,1], got %v", c.MatchThreshold)
	}
	if c.Variance[0] <= 0 || c.Variance[1] <= 0 {
		return errors.Errorf("encoder: variance components must be positive, got %v", c.Variance)
	}
	return nil
}
