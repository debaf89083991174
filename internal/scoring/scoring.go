// Package scoring converts per-expert prediction errors into bounded score
// updates. Scores live in [0, 1]; each update moves the most accurate
// expert up by the configured step, the least accurate down by the same
// step, and interpolates everyone else linearly by relative error.
package scoring

import "gonum.org/v1/gonum/floats"

// #region mse

// MeanSquaredError computes the mean squared error between ground truth
// and predicted values. Both slices must have the same length.
func MeanSquaredError(gt, pred []float64) float64 {
	if len(gt) == 0 {
		return 0
	}
	var sum float64
	for i := range gt {
		d := gt[i] - pred[i]
		sum += d * d
	}
	return sum / float64(len(gt))
}

// #endregion mse

// #region deltas

// Deltas maps per-expert MSEs to score deltas in [-step, +step]. The
// lowest MSE maps to +step, the highest to -step. When all MSEs are equal
// the linear map degenerates (zero range); every expert is then tied best
// and receives +step.
func Deltas(mses []float64, step float64) []float64 {
	if len(mses) == 0 {
		return nil
	}

	minMSE := floats.Min(mses)
	maxMSE := floats.Max(mses)
	rng := maxMSE - minMSE

	deltas := make([]float64, len(mses))
	if rng == 0 {
		for i := range deltas {
			deltas[i] = step
		}
		return deltas
	}

	for i, mse := range mses {
		deltas[i] = (minMSE-mse)/rng*(2*step) + step
	}
	return deltas
}

// #endregion deltas

// #region apply

// Apply adds each delta to the matching score in iteration order, keeping
// every score in [0, 1]. The lower bound saturates at 0. When a score
// would exceed 1, that delta is undone, every score and every pending
// delta is scaled by the rescale factor, and the (now scaled) delta is
// re-applied. A later rescale therefore also scales scores finalized
// earlier in the same pass. Both slices are modified in place.
func Apply(scores, deltas []float64) {
	const rescale = 0.8

	for i := range scores {
		scores[i] += deltas[i]

		// Lower limit saturates.
		if scores[i] < 0 {
			scores[i] = 0
		}

		// Upper limit rescales everyone to preserve relative ordering,
		// so one runaway expert cannot pin the others at 1.
		if scores[i] > 1 {
			scores[i] -= deltas[i]
			for j := range scores {
				scores[j] *= rescale
				deltas[j] *= rescale
			}
			scores[i] += deltas[i]
		}
	}
}

// #endregion apply
