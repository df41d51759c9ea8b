package trainer

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/metrics"
	"github.com/prismlab/refindex/optimize"
	"github.com/prismlab/refindex/pipeline"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
	"github.com/prismlab/refindex/regression"
)

// Status is the terminal state of a training run.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Result summarizes one training run.
type Result struct {
	Status       Status
	BestParams   optimize.Params
	BestCV       float64
	TestMAE      float64
	TestMSE      float64
	TrainingTime time.Duration
	RunDir       string
	ModelPath    string
}

// Trainer runs the full training workflow. One Trainer executes one run at a
// time on the calling goroutine; cancellation and progress cross the
// goroutine boundary through the flag and the sink.
type Trainer struct {
	cfg       Config
	extractor FeatureExtractor
	cancel    *runctl.Flag
	progress  *ProgressSink
	logger    log.Logger
	now       func() time.Time
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithCancelFlag installs the controller-owned cancellation flag.
func WithCancelFlag(flag *runctl.Flag) TrainerOption {
	return func(t *Trainer) { t.cancel = flag }
}

// WithProgressSink installs the progress event sink.
func WithProgressSink(sink *ProgressSink) TrainerOption {
	return func(t *Trainer) { t.progress = sink }
}

// WithClock overrides the run-directory timestamp source.
func WithClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) { t.now = now }
}

// New creates a Trainer. The config is normalized in place of missing
// fields.
func New(cfg Config, fx FeatureExtractor, options ...TrainerOption) *Trainer {
	cfg.normalize()
	t := &Trainer{
		cfg:       cfg,
		extractor: fx,
		logger:    log.GetLoggerWithName("Trainer"),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Run executes one training run over the labeled images in dataDir.
//
// Phases run strictly in order, each behind a cancellation check: load,
// split, search, final fit, evaluation, save, reports. An interrupted run
// returns a Result with StatusInterrupted and an error satisfying
// errors.Is(err, errors.ErrInterrupted); no artifact and no run directory
// survive an interrupted or failed run.
func (t *Trainer) Run(dataDir string) (res *Result, err error) {
	defer t.progress.close()
	start := t.now()
	res = &Result{Status: StatusFailed}

	runDir := ""
	defer func() {
		if res.Status != StatusCompleted && runDir != "" {
			if rmErr := os.RemoveAll(runDir); rmErr != nil {
				t.logger.Warn("run directory cleanup failed", "dir", runDir, "error", rmErr)
			}
			res.RunDir = ""
			res.ModelPath = ""
		}
	}()
	interrupted := func(phase string) (*Result, error) {
		res.Status = StatusInterrupted
		t.logger.Info("training interrupted", "phase", phase)
		return res, errors.Wrapf(errors.ErrInterrupted, "Trainer.Run: %s", phase)
	}

	// Load.
	if t.cancel.IsSet() {
		return interrupted("load")
	}
	t.progress.publish(0, "load", "loading dataset")
	ds, err := LoadDataset(dataDir, t.extractor)
	if err != nil {
		return res, errors.Wrap(err, "Trainer.Run")
	}

	// Split.
	if t.cancel.IsSet() {
		return interrupted("split")
	}
	t.progress.publish(10, "split", "splitting train/test")
	trainX, trainY, testX, testY := trainTestSplit(ds, t.cfg.TestSize, t.cfg.Seed)
	nTrain := len(trainY)

	space := optimize.NewSpace(t.cfg.ClusteringMethod, nTrain,
		t.cfg.Tuning.CMin, t.cfg.Tuning.CMax,
		t.cfg.Tuning.EpsilonMin, t.cfg.Tuning.EpsilonMax)
	clampSmallDataset(&space, nTrain)

	runDir, err = makeRunDir(t.cfg.ModelDir, start)
	if err != nil {
		return res, errors.Wrap(err, "Trainer.Run: run directory")
	}
	res.RunDir = runDir
	t.logger.Info("training run started", "dir", runDir,
		"samples", ds.Len(), "train", nTrain, "test", len(testY),
		"clustering", string(t.cfg.ClusteringMethod),
		"optimization", t.cfg.OptimizationMethod)

	// Search.
	if t.cancel.IsSet() {
		return interrupted("search")
	}
	t.progress.publish(15, "search", "hyperparameter search")
	best, bestCV, tpeTrials, bayesHistory, err := t.search(space, trainX, trainY)
	if err != nil {
		if errors.Is(err, errors.ErrInterrupted) {
			return interrupted("search")
		}
		return res, err
	}
	// A search where every trial was penalized leaves no winner; fall back
	// to the shallowest point of the space rather than fitting nonsense.
	if best.ClusterCount < space.CountLo {
		best.ClusterCount = space.CountLo
	}
	if best.C <= 0 {
		best.C = 1.0
	}
	if best.Epsilon <= 0 {
		best.Epsilon = 0.01
	}
	if best.Kernel == "" {
		best.Kernel = regression.KernelRBF
	}
	res.BestParams = best
	res.BestCV = bestCV
	if herr := optimize.WriteHistory(runDir, tpeTrials, bayesHistory); herr != nil {
		t.logger.Warn("optimization history report failed", "error", herr)
	}

	// Final fit.
	if t.cancel.IsSet() {
		return interrupted("final fit")
	}
	t.progress.publish(70, "fit", "training final model")
	pipe := pipeline.NewDataPipeline(t.cfg.ClusteringMethod,
		pipeline.WithClusterer(t.newClusterer(best)))
	scaledTrain, trainClusters, err := pipe.Process(trainX, true,
		pipeline.WithCancel(t.cancel),
		pipeline.WithReportDir(runDir),
		pipeline.WithProgress(t.fitProgress(70, 85)))
	if err != nil {
		if errors.Is(err, errors.ErrInterrupted) {
			return interrupted("final fit")
		}
		return res, errors.Wrap(err, "Trainer.Run: final fit")
	}
	reg := regression.NewClusterRegressor(best.SVRParams())
	if err := reg.Train(scaledTrain, trainY, trainClusters); err != nil {
		return res, errors.Wrap(err, "Trainer.Run: final fit")
	}

	// Evaluation.
	if t.cancel.IsSet() {
		return interrupted("evaluation")
	}
	t.progress.publish(85, "evaluate", "evaluating on test split")
	scaledTest, testClusters, err := pipe.Process(testX, false)
	if err != nil {
		return res, errors.Wrap(err, "Trainer.Run: evaluation")
	}
	preds := reg.Predict(scaledTest, testClusters)
	res.TestMAE, err = metrics.MAESlice(testY, preds)
	if err != nil {
		return res, errors.Wrap(err, "Trainer.Run: evaluation")
	}
	res.TestMSE, err = metrics.MSESlice(testY, preds)
	if err != nil {
		return res, errors.Wrap(err, "Trainer.Run: evaluation")
	}
	res.TrainingTime = t.now().Sub(start)
	t.logger.Info("evaluation complete", "test_mae", res.TestMAE, "test_mse", res.TestMSE)

	// Save.
	if t.cancel.IsSet() {
		return interrupted("save")
	}
	t.progress.publish(90, "save", "saving model artifact")
	artifact := &Artifact{
		Pipeline:           pipe,
		Regressor:          reg,
		BestParams:         best,
		TrainingTime:       res.TrainingTime,
		ClusteringMethod:   string(t.cfg.ClusteringMethod),
		OptimizationMethod: t.cfg.OptimizationMethod,
	}
	if err := SaveArtifact(runDir, artifact); err != nil {
		return res, err
	}
	res.ModelPath = ModelPath(runDir)

	// Reports.
	if t.cancel.IsSet() {
		return interrupted("reports")
	}
	t.progress.publish(95, "reports", "writing diagnostic plots")
	if perr := writeResultPlots(runDir, trainClusters, testY, preds); perr != nil {
		t.logger.Warn("result plots failed", "error", perr)
	}
	if t.cfg.UserDir != "" {
		dst := filepath.Join(t.cfg.UserDir, filepath.Base(runDir))
		if merr := mirrorDir(runDir, dst); merr != nil {
			t.logger.Warn("run directory mirror failed", "dst", dst, "error", merr)
		}
	}

	t.progress.publish(100, "done", "training complete")
	res.Status = StatusCompleted
	t.logger.Info("training run complete", "dir", runDir,
		"duration", res.TrainingTime.String())
	return res, nil
}

// search runs the configured stage combination and returns the winner plus
// both histories for reporting.
func (t *Trainer) search(space optimize.Space, trainX *mat.Dense, trainY []float64) (optimize.Params, float64, []optimize.Trial, []optimize.BayesTrial, error) {
	obj := optimize.NewObjective(trainX, trainY, t.cfg.ClusteringMethod,
		t.cfg.Tuning.CVFolds, t.cfg.Seed, t.cancel)

	var (
		best         optimize.Params
		bestValue    float64
		haveBayes    bool
		bayesHistory []optimize.BayesTrial
	)
	if t.cfg.OptimizationMethod == SearchBayesian || t.cfg.OptimizationMethod == SearchHybrid {
		bo := optimize.NewBayesianOptimizer(space, obj,
			t.cfg.Tuning.BayesInitPoints, t.cfg.Tuning.BayesIterations,
			t.cfg.Seed, t.cancel)
		p, v, err := bo.Run()
		bayesHistory = bo.History
		if err != nil {
			return best, 0, nil, bayesHistory, err
		}
		best, bestValue, haveBayes = p, v, true
		t.logger.Info("bayesian stage complete", "best_mae", v)
	}

	if t.cfg.OptimizationMethod == SearchTPE || t.cfg.OptimizationMethod == SearchHybrid {
		study := optimize.NewStudy(space, obj, t.cfg.Tuning.NTrials,
			t.cfg.Tuning.Timeout, t.cfg.Seed, t.cancel)
		study.Callback = func(trial, total int, studyBest float64) {
			pct := 15 + 55*float64(trial)/float64(total)
			t.progress.publish(pct, "search",
				fmt.Sprintf("trial %d/%d, best MAE %.6f", trial, total, studyBest))
		}
		if haveBayes {
			study.Enqueue(best)
		}
		p, v, err := study.Run()
		if err != nil {
			return best, bestValue, study.Trials, bayesHistory, err
		}
		if !haveBayes || v <= bestValue {
			best, bestValue = p, v
		}
		t.logger.Info("tpe stage complete", "best_mae", v)
		return best, bestValue, study.Trials, bayesHistory, nil
	}
	return best, bestValue, nil, bayesHistory, nil
}

func (t *Trainer) newClusterer(p optimize.Params) cluster.Interface {
	if t.cfg.ClusteringMethod == cluster.MethodSOM {
		return cluster.NewSOM(
			cluster.WithSOMGridSize(p.ClusterCount),
			cluster.WithSOMRandomState(t.cfg.Seed))
	}
	return cluster.NewKMeans(
		cluster.WithKMeansNClusters(p.ClusterCount),
		cluster.WithKMeansRandomState(t.cfg.Seed))
}

// fitProgress maps a backend's fit progress onto [from, to] percent.
func (t *Trainer) fitProgress(from, to float64) runctl.ProgressFunc {
	return func(current, total int, description string) {
		if total <= 0 {
			return
		}
		pct := from + (to-from)*float64(current)/float64(total)
		t.progress.publish(pct, "fit", description)
	}
}

// makeRunDir creates a timestamp-named run directory under base, appending a
// counter suffix when two runs start within the same second.
func makeRunDir(base string, start time.Time) (string, error) {
	stamp := "run_" + start.Format("20060102_150405")
	dir := filepath.Join(base, stamp)
	for n := 1; ; n++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
		dir = filepath.Join(base, fmt.Sprintf("%s_%d", stamp, n))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// trainTestSplit shuffles sample indices with the given seed and holds out
// testSize of them.
func trainTestSplit(ds *Dataset, testSize float64, seed int64) (trainX *mat.Dense, trainY []float64, testX *mat.Dense, testY []float64) {
	n := ds.Len()
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	perm := rng.Perm(n)

	nTest := int(float64(n) * testSize)
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}
	testIdx, trainIdx := perm[:nTest], perm[nTest:]

	_, cols := ds.X.Dims()
	take := func(idx []int) (*mat.Dense, []float64) {
		sub := mat.NewDense(len(idx), cols, nil)
		subY := make([]float64, len(idx))
		for k, row := range idx {
			for j := 0; j < cols; j++ {
				sub.Set(k, j, ds.X.At(row, j))
			}
			subY[k] = ds.Y[row]
		}
		return sub, subY
	}
	trainX, trainY = take(trainIdx)
	testX, testY = take(testIdx)
	return trainX, trainY, testX, testY
}

// clampSmallDataset tightens the cluster-count upper bound for datasets
// under 50 training samples so tiny clusters cannot dominate the search.
func clampSmallDataset(space *optimize.Space, nTrain int) {
	if nTrain >= 50 {
		return
	}
	maxCount := nTrain / 10
	if maxCount > 3 {
		maxCount = 3
	}
	if maxCount < 2 {
		maxCount = 2
	}
	if space.CountHi > maxCount {
		space.CountHi = maxCount
	}
}
