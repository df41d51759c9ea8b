package optimize

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
)

// penaltyTarget stands in for infinitely bad trials so the Gaussian process
// stays finite.
const penaltyTarget = 1e6

// BayesTrial is one evaluated point of the Bayesian stage. Target is the
// maximized value, the negated cross-validation MAE.
type BayesTrial struct {
	Number int
	Target float64
	Best   float64
	Params Params
}

// BayesianOptimizer maximizes the negated CV MAE over the continuous
// relaxation of the search space with a Gaussian-process surrogate and
// expected-improvement acquisition. The model is refitted from scratch after
// every observation; at the point budgets involved here that is cheap.
type BayesianOptimizer struct {
	Space      Space
	Objective  Scorer
	InitPoints int
	NIter      int
	Seed       int64
	Cancel     *runctl.Flag

	// History holds every evaluated trial in order.
	History []BayesTrial

	// Interrupted is set when a run ended on the cancellation flag.
	Interrupted bool

	logger log.Logger
}

// NewBayesianOptimizer builds the Bayesian stage around a shared objective.
func NewBayesianOptimizer(space Space, obj Scorer, initPoints, nIter int, seed int64, cancel *runctl.Flag) *BayesianOptimizer {
	return &BayesianOptimizer{
		Space:      space,
		Objective:  obj,
		InitPoints: initPoints,
		NIter:      nIter,
		Seed:       seed,
		Cancel:     cancel,
		logger:     log.GetLoggerWithName("BayesianOptimizer"),
	}
}

// Run evaluates one probe point, InitPoints random points and NIter guided
// points, and returns the best parameters found. On cancellation it returns
// the best so far together with ErrInterrupted.
func (b *BayesianOptimizer) Run() (Params, float64, error) {
	rng := rand.New(rand.NewPCG(uint64(b.Seed), uint64(b.Seed)))
	lo, hi := b.Space.RelaxedBounds()

	var xs [][]float64
	var ys []float64
	best := math.Inf(-1)
	var bestParams Params

	evaluate := func(x []float64) error {
		if b.Cancel.IsSet() {
			b.Interrupted = true
			return errors.Wrap(errors.ErrInterrupted, "BayesianOptimizer.Run")
		}
		p := b.Space.FromRelaxed(x)
		mae, err := b.Objective.Score(p)
		if err != nil {
			if errors.Is(err, errors.ErrInterrupted) {
				b.Interrupted = true
			}
			return err
		}
		target := -mae
		if math.IsInf(mae, 1) || math.IsNaN(mae) {
			target = -penaltyTarget
		}
		xs = append(xs, x)
		ys = append(ys, target)
		if target > best {
			best = target
			bestParams = p
		}
		b.History = append(b.History, BayesTrial{
			Number: len(b.History) + 1,
			Target: target,
			Best:   best,
			Params: p,
		})
		b.logger.Info("bayesian trial", "trial", len(b.History),
			"target", target, "best", best)
		return nil
	}

	// Hand-picked probe near the middle of the space anchors the surrogate
	// before any random exploration.
	probe := []float64{
		(lo[0] + hi[0]) / 2,
		1.0,
		(lo[2] + hi[2]) / 2,
		(lo[3] + hi[3]) / 2,
	}
	if err := evaluate(probe); err != nil {
		return bestParams, -best, err
	}

	for i := 0; i < b.InitPoints; i++ {
		if err := evaluate(randomPoint(rng, lo, hi)); err != nil {
			return bestParams, -best, err
		}
	}

	for i := 0; i < b.NIter; i++ {
		x := b.suggest(rng, xs, ys, lo, hi)
		if err := evaluate(x); err != nil {
			return bestParams, -best, err
		}
	}
	return bestParams, -best, nil
}

// suggest maximizes expected improvement over a random candidate set using a
// GP posterior fitted to the observations so far.
func (b *BayesianOptimizer) suggest(rng *rand.Rand, xs [][]float64, ys []float64, lo, hi [relaxedDims]float64) []float64 {
	gp, ok := fitGP(xs, ys, lo, hi)
	if !ok {
		return randomPoint(rng, lo, hi)
	}

	yBest := ys[0]
	for _, y := range ys[1:] {
		if y > yBest {
			yBest = y
		}
	}

	const candidates = 1000
	std := distuv.Normal{Mu: 0, Sigma: 1}
	var bestX []float64
	bestEI := math.Inf(-1)
	for c := 0; c < candidates; c++ {
		x := randomPoint(rng, lo, hi)
		mu, sigma := gp.posterior(x)
		var ei float64
		if sigma > 1e-12 {
			z := (mu - yBest) / sigma
			ei = (mu-yBest)*std.CDF(z) + sigma*std.Prob(z)
		} else if mu > yBest {
			ei = mu - yBest
		}
		if ei > bestEI {
			bestEI = ei
			bestX = x
		}
	}
	if bestX == nil {
		return randomPoint(rng, lo, hi)
	}
	return bestX
}

func randomPoint(rng *rand.Rand, lo, hi [relaxedDims]float64) []float64 {
	x := make([]float64, relaxedDims)
	for d := range x {
		x[d] = lo[d] + rng.Float64()*(hi[d]-lo[d])
	}
	return x
}

// gaussianProcess is an RBF-kernel GP on inputs normalized to the unit cube.
type gaussianProcess struct {
	xs    [][]float64
	alpha *mat.VecDense
	chol  mat.Cholesky
	yMean float64
	span  [relaxedDims]float64
}

const (
	gpLengthScale = 0.3
	gpNoise       = 1e-6
)

func fitGP(xs [][]float64, ys []float64, lo, hi [relaxedDims]float64) (*gaussianProcess, bool) {
	n := len(xs)
	if n < 2 {
		return nil, false
	}
	gp := &gaussianProcess{xs: xs}
	for d := 0; d < relaxedDims; d++ {
		gp.span[d] = hi[d] - lo[d]
		if gp.span[d] <= 0 {
			gp.span[d] = 1
		}
	}

	for _, y := range ys {
		gp.yMean += y
	}
	gp.yMean /= float64(n)

	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := gp.kernel(xs[i], xs[j])
			if i == j {
				v += gpNoise
			}
			k.SetSym(i, j, v)
		}
	}
	if ok := gp.chol.Factorize(k); !ok {
		return nil, false
	}

	centered := mat.NewVecDense(n, nil)
	for i, y := range ys {
		centered.SetVec(i, y-gp.yMean)
	}
	gp.alpha = mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(gp.alpha, centered); err != nil {
		return nil, false
	}
	return gp, true
}

func (gp *gaussianProcess) kernel(a, b []float64) float64 {
	var d2 float64
	for d := range a {
		diff := (a[d] - b[d]) / gp.span[d]
		d2 += diff * diff
	}
	return math.Exp(-d2 / (2 * gpLengthScale * gpLengthScale))
}

func (gp *gaussianProcess) posterior(x []float64) (mu, sigma float64) {
	n := len(gp.xs)
	kStar := mat.NewVecDense(n, nil)
	for i := range gp.xs {
		kStar.SetVec(i, gp.kernel(x, gp.xs[i]))
	}
	mu = gp.yMean + mat.Dot(kStar, gp.alpha)

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, kStar); err != nil {
		return mu, 0
	}
	variance := 1.0 + gpNoise - mat.Dot(kStar, v)
	if variance < 0 {
		variance = 0
	}
	return mu, math.Sqrt(variance)
}
