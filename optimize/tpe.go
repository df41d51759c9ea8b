package optimize

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/prismlab/refindex/regression"
)

// tpeSampler proposes parameters with a univariate tree-structured Parzen
// estimator. Completed trials are split into a good and a bad set by score
// quantile; each dimension samples candidates from the good set's Parzen
// density and keeps the candidate with the highest good/bad density ratio.
type tpeSampler struct {
	space       Space
	gamma       float64
	nStartup    int
	nCandidates int
}

func newTPESampler(space Space) *tpeSampler {
	return &tpeSampler{
		space:       space,
		gamma:       0.25,
		nStartup:    10,
		nCandidates: 24,
	}
}

func (t *tpeSampler) sample(rng *rand.Rand, trials []Trial) Params {
	if len(trials) < t.nStartup {
		return t.random(rng)
	}
	good, bad := t.split(trials)

	lo, hi := t.space.RelaxedBounds()
	count := t.sampleNumeric(rng, numericValues(good, dimCount), numericValues(bad, dimCount), lo[0], hi[0])
	logC := t.sampleNumeric(rng, numericValues(good, dimLogC), numericValues(bad, dimLogC), lo[2], hi[2])
	logEps := t.sampleNumeric(rng, numericValues(good, dimLogEps), numericValues(bad, dimLogEps), lo[3], hi[3])
	kernel := t.sampleKernel(rng, good, bad)

	p := Params{
		ClusterCount: int(math.Floor(count)),
		Kernel:       kernel,
		C:            math.Pow(10, logC),
		Epsilon:      math.Pow(10, logEps),
	}
	if p.ClusterCount < t.space.CountLo {
		p.ClusterCount = t.space.CountLo
	}
	if p.ClusterCount > t.space.CountHi {
		p.ClusterCount = t.space.CountHi
	}
	return p
}

func (t *tpeSampler) random(rng *rand.Rand) Params {
	kernel := regression.KernelRBF
	if rng.Float64() < 0.5 {
		kernel = regression.KernelLinear
	}
	return Params{
		ClusterCount: t.space.CountLo + rng.IntN(t.space.CountHi-t.space.CountLo+1),
		Kernel:       kernel,
		C:            logUniform(rng, t.space.CMin, t.space.CMax),
		Epsilon:      logUniform(rng, t.space.EpsMin, t.space.EpsMax),
	}
}

// split orders trials by value and takes the best gamma fraction, at least
// one trial, as the good set.
func (t *tpeSampler) split(trials []Trial) (good, bad []Trial) {
	sorted := make([]Trial, len(trials))
	copy(sorted, trials)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	nGood := int(math.Ceil(t.gamma * float64(len(sorted))))
	if nGood < 1 {
		nGood = 1
	}
	if nGood >= len(sorted) {
		nGood = len(sorted) - 1
	}
	return sorted[:nGood], sorted[nGood:]
}

const (
	dimCount = iota
	dimLogC
	dimLogEps
)

func numericValues(trials []Trial, dim int) []float64 {
	out := make([]float64, len(trials))
	for i, tr := range trials {
		switch dim {
		case dimCount:
			out[i] = float64(tr.Params.ClusterCount)
		case dimLogC:
			out[i] = math.Log10(tr.Params.C)
		default:
			out[i] = math.Log10(tr.Params.Epsilon)
		}
	}
	return out
}

// sampleNumeric draws candidates from the good set's Parzen mixture and
// returns the one with the highest l(x)/g(x) ratio, clamped to [lo, hi].
func (t *tpeSampler) sampleNumeric(rng *rand.Rand, good, bad []float64, lo, hi float64) float64 {
	bw := parzenBandwidth(good, lo, hi)
	bwBad := parzenBandwidth(bad, lo, hi)

	best := lo + rng.Float64()*(hi-lo)
	bestRatio := math.Inf(-1)
	for c := 0; c < t.nCandidates; c++ {
		center := good[rng.IntN(len(good))]
		x := center + rng.NormFloat64()*bw
		if x < lo {
			x = lo
		}
		if x > hi {
			x = hi
		}
		ratio := parzenDensity(x, good, bw) / math.Max(parzenDensity(x, bad, bwBad), 1e-12)
		if ratio > bestRatio {
			bestRatio = ratio
			best = x
		}
	}
	return best
}

func (t *tpeSampler) sampleKernel(rng *rand.Rand, good, bad []Trial) regression.Kernel {
	ratio := func(k regression.Kernel) float64 {
		return kernelWeight(good, k) / kernelWeight(bad, k)
	}
	rbfR, linR := ratio(regression.KernelRBF), ratio(regression.KernelLinear)
	if rbfR == linR {
		if rng.Float64() < 0.5 {
			return regression.KernelLinear
		}
		return regression.KernelRBF
	}
	if rbfR > linR {
		return regression.KernelRBF
	}
	return regression.KernelLinear
}

// kernelWeight is a count with a +1 prior so unseen categories stay samplable.
func kernelWeight(trials []Trial, k regression.Kernel) float64 {
	w := 1.0
	for _, tr := range trials {
		if tr.Params.Kernel == k {
			w++
		}
	}
	return w / float64(len(trials)+2)
}

// parzenBandwidth follows the usual n^(-1/5) scaling with a floor so a
// cluster of identical observations still has spread.
func parzenBandwidth(v []float64, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	bw := 1.06 * span * math.Pow(float64(len(v)), -0.2)
	minBW := span / 100
	if bw < minBW {
		bw = minBW
	}
	return bw
}

func parzenDensity(x float64, centers []float64, bw float64) float64 {
	if len(centers) == 0 {
		return 1e-12
	}
	var sum float64
	for _, c := range centers {
		z := (x - c) / bw
		sum += math.Exp(-0.5 * z * z)
	}
	return sum / (float64(len(centers)) * bw * math.Sqrt(2*math.Pi))
}

func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	l, h := math.Log10(lo), math.Log10(hi)
	return math.Pow(10, l+rng.Float64()*(h-l))
}
