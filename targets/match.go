// Package targets - assigns ground truth to anchors and encodes the
// per-anchor regression, classification and landmark targets used to train
// a single-stage face detector.
package targets

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-retinaface/boxes"
)

const (
	// forcedMatchMin is the minimum best-anchor overlap a ground truth needs
	// before its preferred anchor is forced past the background threshold.
	forcedMatchMin = 0.2
	// forcedOverlap is the sentinel written over a forced anchor's overlap.
	// It exceeds the [0,1] IoU range, so no valid threshold can zero it.
	forcedOverlap = 2
	// sizeEpsilon replaces an exactly-zero width/height ratio ahead of the
	// logarithm in the size encode. The guard is one-sided: it protects the
	// log argument only, never the prior extents in the denominator.
	sizeEpsilon = 1e-12

	locCols   = 4
	landmCols = 10
)

// Match computes the training targets for every anchor given one image's
// ground-truth annotations.
//
// Assignment runs in two phases. First every ground truth claims the anchor
// it overlaps most (the forced match, granted only when that best overlap
// reaches 0.2); its overlap is raised to a sentinel above the IoU range so
// the later threshold cannot demote the anchor to background. Second, every
// remaining anchor adopts the ground truth it overlaps most, and is zeroed
// to background when that overlap falls below threshold.
//
// The reciprocal binding of anchors to their claiming ground truth runs
// over every ground-truth row, including rows that failed the 0.2 filter; a
// weak match binds its box and landmark data without being forced past the
// background threshold. That asymmetry is the reference behavior and is
// preserved.
//
// Argmax ties resolve to the lowest index on both axes, by explicit linear
// scan, so identical inputs always produce identical outputs.
//
// Arguments:
//   - threshold: Minimum anchor overlap for a positive classification, in (0,1].
//   - gtBoxes: [N,4] corner-form ground-truth boxes, or nil when the sample
//     carries no annotations.
//   - priors: [K,4] center-form anchors.
//   - variance: Offset scale pair; index 0 scales center and landmark
//     offsets, index 1 scales log-size offsets.
//   - labels: N class labels, 0 reserved for background.
//   - landmarks: [N,10] landmark coordinates, five (x,y) pairs per row.
//
// Returns:
//   - loc: [K,4] encoded location offsets.
//   - conf: [K] int32 class targets, 0 = background.
//   - landm: [K,10] encoded landmark offsets.
//
// When no ground truth exists, or no ground-truth row reaches the 0.2
// forced-match floor, all three outputs are zero-valued but still sized to
// the anchor count: the sample trains as pure background.
func Match(threshold float32, gtBoxes, priors *tensor.Dense, variance [2]float32,
	labels []int32, landmarks *tensor.Dense,
) (loc, conf, landm *tensor.Dense, err error) {
	pr, numPriors, err := boxes.Data(priors, "priors", locCols)
	if err != nil {
		return nil, nil, nil, err
	}

	if gtBoxes == nil {
		loc, conf, landm = zeroTargets(numPriors)
		return loc, conf, landm, nil
	}

	gt, numGT, err := boxes.Data(gtBoxes, "gtBoxes", locCols)
	if err != nil {
		return nil, nil, nil, err
	}
	lm, lmRows, err := boxes.Data(landmarks, "landmarks", landmCols)
	if err != nil {
		return nil, nil, nil, err
	}
	if lmRows != numGT {
		return nil, nil, nil, errors.Errorf(
			"landmarks: want %d rows to match gtBoxes, got %d", numGT, lmRows)
	}
	if len(labels) != numGT {
		return nil, nil, nil, errors.Errorf(
			"labels: want %d entries to match gtBoxes, got %d", numGT, len(labels))
	}

	cornerPriors, err := boxes.CenterToCorner(priors)
	if err != nil {
		return nil, nil, nil, err
	}
	ov, _, _, err := boxes.IoUData(gtBoxes, cornerPriors)
	if err != nil {
		return nil, nil, nil, err
	}

	// Phase one: the anchor each ground truth overlaps most.
	bestPriorIdx := make([]int, numGT)
	bestPriorOverlap := make([]float32, numGT)
	anyValid := false
	for r := 0; r < numGT; r++ {
		row := ov[r*numPriors : (r+1)*numPriors]
		best, bestIdx := row[0], 0
		for c := 1; c < numPriors; c++ {
			if row[c] > best {
				best, bestIdx = row[c], c
			}
		}
		bestPriorIdx[r] = bestIdx
		bestPriorOverlap[r] = best
		if best >= forcedMatchMin {
			anyValid = true
		}
	}

	if !anyValid {
		loc, conf, landm = zeroTargets(numPriors)
		return loc, conf, landm, nil
	}

	// Phase two: the ground truth each anchor overlaps most.
	bestTruthIdx := make([]int, numPriors)
	bestTruthOverlap := make([]float32, numPriors)
	for c := 0; c < numPriors; c++ {
		best, bestIdx := ov[c], 0
		for r := 1; r < numGT; r++ {
			if v := ov[r*numPriors+c]; v > best {
				best, bestIdx = v, r
			}
		}
		bestTruthIdx[c] = bestIdx
		bestTruthOverlap[c] = best
	}

	for r := 0; r < numGT; r++ {
		if bestPriorOverlap[r] >= forcedMatchMin {
			bestTruthOverlap[bestPriorIdx[r]] = forcedOverlap
		}
	}

	// Reciprocal binding, unfiltered: later rows win when two ground truths
	// claim the same anchor.
	for r := 0; r < numGT; r++ {
		bestTruthIdx[bestPriorIdx[r]] = r
	}

	locOut := make([]float32, numPriors*locCols)
	confOut := make([]int32, numPriors)
	landmOut := make([]float32, numPriors*landmCols)

	for a := 0; a < numPriors; a++ {
		t := bestTruthIdx[a]
		cx, cy := pr[a*4+0], pr[a*4+1]
		pw, ph := pr[a*4+2], pr[a*4+3]
		bx1, by1 := gt[t*4+0], gt[t*4+1]
		bx2, by2 := gt[t*4+2], gt[t*4+3]

		locOut[a*4+0] = ((bx1+bx2)/2 - cx) / (variance[0] * pw)
		locOut[a*4+1] = ((by1+by2)/2 - cy) / (variance[0] * ph)

		wr := (bx2 - bx1) / pw
		hr := (by2 - by1) / ph
		if wr == 0 {
			wr = sizeEpsilon
		}
		if hr == 0 {
			hr = sizeEpsilon
		}
		locOut[a*4+2] = math32.Log(wr) / variance[1]
		locOut[a*4+3] = math32.Log(hr) / variance[1]

		if bestTruthOverlap[a] >= threshold {
			confOut[a] = labels[t]
		}

		for p := 0; p < 5; p++ {
			landmOut[a*10+2*p+0] = (lm[t*10+2*p+0] - cx) / (variance[0] * pw)
			landmOut[a*10+2*p+1] = (lm[t*10+2*p+1] - cy) / (variance[0] * ph)
		}
	}

	loc = tensor.New(tensor.WithShape(numPriors, locCols), tensor.WithBacking(locOut))
	conf = tensor.New(tensor.WithShape(numPriors), tensor.WithBacking(confOut))
	landm = tensor.New(tensor.WithShape(numPriors, landmCols), tensor.WithBacking(landmOut))
	return loc, conf, landm, nil
}

// zeroTargets builds the all-background output for samples with no usable
// ground truth.
func zeroTargets(numPriors int) (loc, conf, landm *tensor.Dense) {
	loc = tensor.New(tensor.WithShape(numPriors, locCols),
		tensor.WithBacking(make([]float32, numPriors*locCols)))
	conf = tensor.New(tensor.WithShape(numPriors),
		tensor.WithBacking(make([]int32, numPriors)))
	landm = tensor.New(tensor.WithShape(numPriors, landmCols),
		tensor.WithBacking(make([]float32, numPriors*landmCols)))
	return loc, conf, landm
}
