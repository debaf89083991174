// Package loading provides future-load functions for simulation: sources
// of input vectors over time, and wrappers that perturb them.
package loading

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
)

// #region load-func

// LoadFunc produces the inputs applied at time t. The current state x may
// be nil when the caller has no state to offer.
type LoadFunc func(t float64, x model.StateVector) model.InputVector

// Constant returns a load function that always applies u.
func Constant(u model.InputVector) LoadFunc {
	return func(float64, model.StateVector) model.InputVector {
		out := make(model.InputVector, len(u))
		for k, v := range u {
			out[k] = v
		}
		return out
	}
}

// #endregion load-func

// #region gaussian-wrapper

// WithGaussianNoise wraps fcn so that every known input value gets
// N(0, std) noise added. Unknown (NaN) values pass through unchanged. The
// same seed reproduces the same noise sequence.
func WithGaussianNoise(fcn LoadFunc, std float64, seed uint64) LoadFunc {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: std,
		Src:   rand.NewPCG(seed, 0),
	}
	return func(t float64, x model.StateVector) model.InputVector {
		u := fcn(t, x)

		// Perturb in sorted key order so a fixed seed reproduces the
		// same values regardless of map iteration order.
		keys := make([]string, 0, len(u))
		for k := range u {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(model.InputVector, len(u))
		for _, k := range keys {
			v := u[k]
			if math.IsNaN(v) {
				out[k] = v
				continue
			}
			out[k] = v + dist.Rand()
		}
		return out
	}
}

// #endregion gaussian-wrapper
