package optimize

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/metrics"
	"github.com/prismlab/refindex/pipeline"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
	"github.com/prismlab/refindex/regression"
)

// Scorer evaluates one parameter assignment. Lower scores are better. The
// only error implementations may return is ErrInterrupted.
type Scorer interface {
	Score(Params) (float64, error)
}

// Objective scores one hyperparameter assignment by shuffled k-fold
// cross-validation over the training split. Scores are mean absolute errors,
// lower is better. A degenerate or failing fold contributes an infinite
// penalty instead of aborting the trial; only cancellation stops evaluation.
type Objective struct {
	X      mat.Matrix
	Y      []float64
	Method cluster.Method
	Folds  int
	Seed   int64
	Cancel *runctl.Flag

	logger log.Logger
}

// NewObjective builds the CV objective over the given training split.
func NewObjective(X mat.Matrix, y []float64, method cluster.Method, folds int, seed int64, cancel *runctl.Flag) *Objective {
	if folds < 2 {
		folds = 2
	}
	return &Objective{
		X: X, Y: y,
		Method: method,
		Folds:  folds,
		Seed:   seed,
		Cancel: cancel,
		logger: log.GetLoggerWithName("Objective"),
	}
}

// Score returns the mean cross-validated MAE of p. The only error it returns
// is ErrInterrupted; everything else becomes a penalized score.
func (o *Objective) Score(p Params) (float64, error) {
	rows, _ := o.X.Dims()
	folds := o.Folds
	if folds > rows {
		folds = rows
	}

	rng := rand.New(rand.NewPCG(uint64(o.Seed), uint64(o.Seed)))
	perm := rng.Perm(rows)

	var scores []float64
	for f := 0; f < folds; f++ {
		if o.Cancel.IsSet() {
			return 0, errors.Wrap(errors.ErrInterrupted, "Objective.Score")
		}
		trainIdx, testIdx := foldSplit(perm, folds, f)
		score, err := o.scoreFold(p, trainIdx, testIdx)
		if err != nil {
			return 0, err
		}
		scores = append(scores, score)
	}

	mean := finiteOrNaNMean(scores)
	o.logger.Debug("trial scored", "clusters", p.ClusterCount, "kernel", string(p.Kernel),
		"c", p.C, "epsilon", p.Epsilon, "mae", mean)
	return mean, nil
}

// scoreFold penalizes every failure except cancellation, which is the one
// error it returns.
func (o *Objective) scoreFold(p Params, trainIdx, testIdx []int) (score float64, ferr error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("fold panicked, penalizing", "panic", r)
			score = math.Inf(1)
			ferr = nil
		}
	}()

	trainX, trainY := takeRows(o.X, o.Y, trainIdx)
	testX, testY := takeRows(o.X, o.Y, testIdx)

	pipe := pipeline.NewDataPipeline(o.Method, pipeline.WithClusterer(o.newClusterer(p)))
	scaledTrain, trainClusters, err := pipe.Process(trainX, true, pipeline.WithCancel(o.Cancel))
	if err != nil {
		if errors.Is(err, errors.ErrInterrupted) {
			return 0, errors.Wrap(err, "Objective.scoreFold")
		}
		o.logger.Warn("fold pipeline failed, penalizing", "error", err)
		return math.Inf(1), nil
	}
	if distinctCount(trainClusters) < 2 {
		return math.Inf(1), nil
	}

	reg := regression.NewClusterRegressor(p.SVRParams())
	if err := reg.Train(scaledTrain, trainY, trainClusters); err != nil {
		o.logger.Warn("fold training failed, penalizing", "error", err)
		return math.Inf(1), nil
	}

	scaledTest, testClusters, err := pipe.Process(testX, false)
	if err != nil {
		o.logger.Warn("fold transform failed, penalizing", "error", err)
		return math.Inf(1), nil
	}
	preds := reg.Predict(scaledTest, testClusters)
	for i, v := range preds {
		if math.IsNaN(v) {
			preds[i] = reg.GlobalMean
		}
	}
	mae, err := metrics.MAESlice(testY, preds)
	if err != nil {
		o.logger.Warn("fold scoring failed, penalizing", "error", err)
		return math.Inf(1), nil
	}
	return mae, nil
}

func (o *Objective) newClusterer(p Params) cluster.Interface {
	if o.Method == cluster.MethodSOM {
		return cluster.NewSOM(cluster.WithSOMGridSize(p.ClusterCount))
	}
	return cluster.NewKMeans(cluster.WithKMeansNClusters(p.ClusterCount))
}

// foldSplit partitions perm into fold f's test indices and the rest.
func foldSplit(perm []int, folds, f int) (train, test []int) {
	n := len(perm)
	lo := n * f / folds
	hi := n * (f + 1) / folds
	test = append(test, perm[lo:hi]...)
	train = append(train, perm[:lo]...)
	train = append(train, perm[hi:]...)
	return train, test
}

func takeRows(X mat.Matrix, y []float64, idx []int) (*mat.Dense, []float64) {
	_, cols := X.Dims()
	sub := mat.NewDense(len(idx), cols, nil)
	subY := make([]float64, len(idx))
	for k, row := range idx {
		for j := 0; j < cols; j++ {
			sub.Set(k, j, X.At(row, j))
		}
		subY[k] = y[row]
	}
	return sub, subY
}

func distinctCount(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// finiteOrNaNMean averages the non-NaN entries. Infinite penalties stay in
// the mean so wholly failing trials rank last.
func finiteOrNaNMean(v []float64) float64 {
	var sum float64
	var n int
	for _, x := range v {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}
