// Package optimize finds clustering and regression hyperparameters for the
// refindex model. Two search backends share one cross-validated objective:
// a Gaussian-process Bayesian optimizer over a continuous relaxation of the
// space, and a tree-structured Parzen estimator study over the typed space.
// Hybrid mode runs both, warm-starting the TPE study from the Bayesian best.
package optimize

import (
	"math"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/regression"
)

// Params is one concrete hyperparameter assignment. ClusterCount is the
// number of clusters for KMeans or the grid side length for the SOM.
type Params struct {
	ClusterCount int
	Kernel       regression.Kernel
	C            float64
	Epsilon      float64
}

// SVRParams converts the regression part of the assignment.
func (p Params) SVRParams() regression.SVRParams {
	return regression.SVRParams{Kernel: p.Kernel, C: p.C, Epsilon: p.Epsilon}
}

// Space bounds the search. C and Epsilon are sampled log-uniformly, so their
// bounds must be strictly positive.
type Space struct {
	Method       cluster.Method
	CountLo      int
	CountHi      int
	CMin, CMax   float64
	EpsMin, EpsMax float64
}

// NewSpace derives the cluster-count bounds from the training-set size.
// KMeans allows up to one cluster per five samples; the SOM grid side is
// bounded by half the square root of the sample count. Both are capped at 5
// and floored at 2.
func NewSpace(method cluster.Method, nTrain int, cMin, cMax, epsMin, epsMax float64) Space {
	hi := 2
	switch method {
	case cluster.MethodSOM:
		hi = int(math.Sqrt(float64(nTrain))) / 2
	default:
		hi = nTrain / 5
	}
	if hi > 5 {
		hi = 5
	}
	if hi < 2 {
		hi = 2
	}
	return Space{
		Method:  method,
		CountLo: 2,
		CountHi: hi,
		CMin:    cMin, CMax: cMax,
		EpsMin: epsMin, EpsMax: epsMax,
	}
}

// Relaxed vector layout used by the Bayesian stage:
//
//	x[0] cluster count, continuous over [CountLo, CountHi+1)
//	x[1] kernel indicator over [0, 1], >= 0.5 means rbf
//	x[2] log10(C)
//	x[3] log10(epsilon)
const relaxedDims = 4

// RelaxedBounds returns the lower and upper bounds of the relaxed vector.
func (s Space) RelaxedBounds() (lo, hi [relaxedDims]float64) {
	lo = [relaxedDims]float64{float64(s.CountLo), 0, math.Log10(s.CMin), math.Log10(s.EpsMin)}
	hi = [relaxedDims]float64{float64(s.CountHi) + 0.999, 1, math.Log10(s.CMax), math.Log10(s.EpsMax)}
	return lo, hi
}

// FromRelaxed discretizes a relaxed vector into typed parameters. The count
// is floored, the kernel indicator thresholds at 0.5, and the scale
// parameters come back from log space. The mapping is deterministic and
// monotone in every coordinate.
func (s Space) FromRelaxed(x []float64) Params {
	count := int(math.Floor(x[0]))
	if count < s.CountLo {
		count = s.CountLo
	}
	if count > s.CountHi {
		count = s.CountHi
	}
	kernel := regression.KernelLinear
	if x[1] >= 0.5 {
		kernel = regression.KernelRBF
	}
	return Params{
		ClusterCount: count,
		Kernel:       kernel,
		C:            math.Pow(10, x[2]),
		Epsilon:      math.Pow(10, x[3]),
	}
}

// ToRelaxed embeds typed parameters into the relaxed space. It is the left
// inverse of FromRelaxed up to discretization.
func (s Space) ToRelaxed(p Params) []float64 {
	k := 0.0
	if p.Kernel == regression.KernelRBF {
		k = 1.0
	}
	return []float64{
		float64(p.ClusterCount) + 0.5,
		k,
		math.Log10(p.C),
		math.Log10(p.Epsilon),
	}
}
