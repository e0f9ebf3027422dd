package encoder

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-retinaface/anchors"
	"github.com/nvr-ai/go-retinaface/targets"
)

// Annotation column layout: 4 box corners, 5 landmark (x,y) pairs, class
// label. The label column holds small integers; 0 is background.
const (
	annCols      = 15
	boxCols      = 4
	landmarkCols = 10
)

// pyramidScales is the fixed RetinaFace feature pyramid: strides 8/16/32
// with two anchor sizes per cell. Not user-configurable.
func pyramidScales() []anchors.Scale {
	return []anchors.Scale{
		{MinSizes: []int{16, 32}, Step: 8},
		{MinSizes: []int{64, 128}, Step: 16},
		{MinSizes: []int{256, 512}, Step: 32},
	}
}

// BBoxEncoder converts per-image ground-truth annotations into the
// per-anchor location, classification and landmark targets the training
// loss consumes.
//
// The anchor set is generated once at construction and never mutated, so a
// single BBoxEncoder is safe to share across any number of data-loading
// workers.
type BBoxEncoder struct {
	cfg    Config
	priors *tensor.Dense
}

// NewBBoxEncoder validates cfg, builds and caches the anchor set, and
// returns the ready encoder.
func NewBBoxEncoder(cfg Config) (*BBoxEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	priors, err := anchors.Generate(cfg.ImageSize, cfg.ImageSize, pyramidScales(), cfg.Clip)
	if err != nil {
		return nil, errors.Wrap(err, "encoder: generating priors")
	}

	return &BBoxEncoder{cfg: cfg, priors: priors}, nil
}

// Priors returns the cached anchor set. Inference-side decoding must run
// against this exact tensor (or a byte-identical regeneration) and the same
// variance. The returned tensor is shared: treat it as read-only.
func (e *BBoxEncoder) Priors() *tensor.Dense {
	return e.priors
}

// NumPriors returns the anchor count; every Encode output is sized to it.
func (e *BBoxEncoder) NumPriors() int {
	return e.priors.Shape()[0]
}

// Config returns the configuration the encoder was built with.
func (e *BBoxEncoder) Config() Config {
	return e.cfg
}

// Encode produces the training targets for one sample.
//
// The image is opaque to the encoder and is returned unchanged; it rides
// along so the transform slots directly into a dataset pipeline.
//
// Arguments:
//   - img: The sample's image handle, passed through untouched.
//   - annotations: [N,15] float32 tensor, one ground-truth instance per row:
//     [x1, y1, x2, y2, lm1x, lm1y, ..., lm5x, lm5y, label]. nil and zero
//     rows both mean the sample has no annotations.
//
// Returns:
//   - The image unchanged.
//   - loc: [NumPriors,4] encoded location targets.
//   - conf: [NumPriors] int32 class targets, 0 = background.
//   - landm: [NumPriors,10] encoded landmark targets.
func (e *BBoxEncoder) Encode(img image.Image, annotations *tensor.Dense,
) (image.Image, *tensor.Dense, *tensor.Dense, *tensor.Dense, error) {
	if annotations == nil {
		loc, conf, landm, err := targets.Match(
			e.cfg.MatchThreshold, nil, e.priors, e.cfg.Variance, nil, nil)
		return img, loc, conf, landm, err
	}

	shape := annotations.Shape()
	if len(shape) != 2 || shape[1] != annCols {
		return img, nil, nil, nil, errors.Errorf(
			"encoder: want annotations shaped [N,%d], got %v", annCols, shape)
	}
	// A zero-row tensor is a legal empty sample. Short-circuit before
	// touching the backing slice: Data on a zero-element Dense panics.
	if shape[0] == 0 {
		loc, conf, landm, err := targets.Match(
			e.cfg.MatchThreshold, nil, e.priors, e.cfg.Variance, nil, nil)
		return img, loc, conf, landm, err
	}
	data, ok := annotations.Data().([]float32)
	if !ok {
		return img, nil, nil, nil, errors.Errorf(
			"encoder: want float32 annotations, got %T", annotations.Data())
	}

	n := shape[0]
	gt := make([]float32, 0, n*boxCols)
	landms := make([]float32, 0, n*landmarkCols)
	labels := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		row := data[i*annCols : (i+1)*annCols]
		gt = append(gt, row[0:4]...)
		landms = append(landms, row[4:14]...)
		labels = append(labels, int32(row[14]))
	}

	loc, conf, landm, err := targets.Match(
		e.cfg.MatchThreshold,
		tensor.New(tensor.WithShape(n, boxCols), tensor.WithBacking(gt)),
		e.priors,
		e.cfg.Variance,
		labels,
		tensor.New(tensor.WithShape(n, landmarkCols), tensor.WithBacking(landms)),
	)
	return img, loc, conf, landm, err
}
