package trainer

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/optimize"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/runctl"
)

// sixtySampleDataset writes 60 labeled files with indices spread over
// [1.50, 1.60).
func sixtySampleDataset(t *testing.T) string {
	t.Helper()
	names := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		names = append(names, datasetName(i))
	}
	return writeDataset(t, names)
}

func fastTuning() TuningConfig {
	return TuningConfig{
		NTrials:         4,
		CVFolds:         3,
		BayesInitPoints: 2,
		BayesIterations: 2,
		CMin:            1e-2,
		CMax:            1e2,
		EpsilonMin:      1e-5,
		EpsilonMax:      0.1,
	}
}

func TestTrainerKMeansTPECompletes(t *testing.T) {
	dataDir := sixtySampleDataset(t)

	cfg := DefaultConfig()
	cfg.ClusteringMethod = cluster.MethodKMeans
	cfg.OptimizationMethod = SearchTPE
	cfg.ModelDir = t.TempDir()
	cfg.Tuning = fastTuning()

	tr := New(cfg, fakeExtractor{})
	res, err := tr.Run(dataDir)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	assert.False(t, math.IsNaN(res.TestMAE) || math.IsInf(res.TestMAE, 0), "test MAE must be finite")
	assert.GreaterOrEqual(t, res.TestMAE, 0.0)
	assert.Greater(t, res.TrainingTime, time.Duration(0))

	// The run directory must contain the artifact and the history report.
	if _, err := os.Stat(res.ModelPath); err != nil {
		t.Fatalf("Model artifact missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.RunDir, optimize.HistoryFileName)); err != nil {
		t.Errorf("Optimization history missing: %v", err)
	}

	// The artifact round-trips with the winning parameters.
	a, err := LoadArtifact(res.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, res.BestParams, a.BestParams)
	assert.Equal(t, string(cluster.MethodKMeans), a.ClusteringMethod)
	assert.Equal(t, SearchTPE, a.OptimizationMethod)
	assert.NotEmpty(t, a.Regressor.Models, "at least one cluster model should survive training")
}

func TestTrainerSOMHybridWritesReports(t *testing.T) {
	dataDir := sixtySampleDataset(t)

	cfg := DefaultConfig()
	cfg.ClusteringMethod = cluster.MethodSOM
	cfg.OptimizationMethod = SearchHybrid
	cfg.ModelDir = t.TempDir()
	cfg.Tuning = fastTuning()
	cfg.Tuning.NTrials = 2

	tr := New(cfg, fakeExtractor{})
	res, err := tr.Run(dataDir)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	if _, err := os.Stat(filepath.Join(res.RunDir, cluster.ReportFileName)); err != nil {
		t.Errorf("SOM visualization missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.RunDir, optimize.HistoryFileName)); err != nil {
		t.Errorf("Optimization history missing: %v", err)
	}
}

func TestTrainerPreCancelled(t *testing.T) {
	dataDir := sixtySampleDataset(t)
	modelDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.OptimizationMethod = SearchTPE
	cfg.ModelDir = modelDir
	cfg.Tuning = fastTuning()

	flag := runctl.NewFlag()
	flag.Set()

	tr := New(cfg, fakeExtractor{}, WithCancelFlag(flag))
	res, err := tr.Run(dataDir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInterrupted))
	assert.Equal(t, StatusInterrupted, res.Status)

	entries, err := os.ReadDir(modelDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no run directory may survive a cancelled run")
}

func TestTrainerCancelledDuringSearch(t *testing.T) {
	dataDir := sixtySampleDataset(t)
	modelDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ClusteringMethod = cluster.MethodKMeans
	cfg.OptimizationMethod = SearchTPE
	cfg.ModelDir = modelDir
	cfg.Tuning = fastTuning()
	cfg.Tuning.NTrials = 50

	flag := runctl.NewFlag()
	sink := NewProgressSink(64)
	tr := New(cfg, fakeExtractor{}, WithCancelFlag(flag), WithProgressSink(sink))

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tr.Run(dataDir)
		done <- outcome{res, err}
	}()

	// Cancel as soon as the search phase reports its first trial.
	for ev := range sink.Events() {
		if ev.Phase == "search" {
			flag.Set()
			break
		}
	}
	out := <-done

	require.Error(t, out.err)
	assert.True(t, errors.Is(out.err, errors.ErrInterrupted))
	assert.Equal(t, StatusInterrupted, out.res.Status)
	assert.Empty(t, out.res.ModelPath)

	entries, err := os.ReadDir(modelDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "cancelled run must remove its partial directory")
}

func TestTrainerMirrorsRunDir(t *testing.T) {
	dataDir := sixtySampleDataset(t)
	userDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ClusteringMethod = cluster.MethodKMeans
	cfg.OptimizationMethod = SearchTPE
	cfg.ModelDir = t.TempDir()
	cfg.UserDir = userDir
	cfg.Tuning = fastTuning()
	cfg.Tuning.NTrials = 2

	tr := New(cfg, fakeExtractor{})
	res, err := tr.Run(dataDir)
	require.NoError(t, err)

	mirrored := filepath.Join(userDir, filepath.Base(res.RunDir), ModelsSubdir, ModelFileName)
	if _, err := os.Stat(mirrored); err != nil {
		t.Errorf("Mirrored artifact missing: %v", err)
	}
}

func TestTrainerPredictorEndToEnd(t *testing.T) {
	dataDir := sixtySampleDataset(t)

	cfg := DefaultConfig()
	cfg.ClusteringMethod = cluster.MethodKMeans
	cfg.OptimizationMethod = SearchTPE
	cfg.ModelDir = t.TempDir()
	cfg.Tuning = fastTuning()
	cfg.Tuning.NTrials = 2

	tr := New(cfg, fakeExtractor{})
	res, err := tr.Run(dataDir)
	require.NoError(t, err)

	p, err := NewPredictor(res.ModelPath, fakeExtractor{})
	require.NoError(t, err)

	value, err := p.Predict(filepath.Join(dataDir, datasetName(30)))
	require.NoError(t, err)
	// Labels live in [1.50, 1.60); a trained model must predict in the
	// neighborhood, and output is rounded to 4 decimals.
	assert.InDelta(t, 1.55, value, 0.25)
	assert.InDelta(t, value, math.Round(value*1e4)/1e4, 1e-12)
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	names := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		names = append(names, datasetName(i))
	}
	dir := writeDataset(t, names)
	ds, err := LoadDataset(dir, fakeExtractor{})
	require.NoError(t, err)

	_, trainA, _, testA := splitSizes(ds, 0.2, 42)
	_, trainB, _, testB := splitSizes(ds, 0.2, 42)
	assert.Equal(t, trainA, trainB)
	assert.Equal(t, testA, testB)

	trainX, trainY, testX, testY := trainTestSplit(ds, 0.2, 42)
	rTrain, _ := trainX.Dims()
	rTest, _ := testX.Dims()
	assert.Equal(t, 16, rTrain)
	assert.Equal(t, 4, rTest)
	assert.Len(t, trainY, 16)
	assert.Len(t, testY, 4)
}

func splitSizes(ds *Dataset, testSize float64, seed int64) (int, []float64, int, []float64) {
	trainX, trainY, testX, testY := trainTestSplit(ds, testSize, seed)
	rTrain, _ := trainX.Dims()
	rTest, _ := testX.Dims()
	return rTrain, trainY, rTest, testY
}

func TestClampSmallDataset(t *testing.T) {
	s := optimize.NewSpace(cluster.MethodKMeans, 30, 1e-3, 1e3, 1e-6, 0.1)
	clampSmallDataset(&s, 30)
	// 30 training samples allow at most 3 clusters.
	assert.Equal(t, 3, s.CountHi)

	s = optimize.NewSpace(cluster.MethodKMeans, 15, 1e-3, 1e3, 1e-6, 0.1)
	clampSmallDataset(&s, 15)
	assert.Equal(t, 2, s.CountHi)

	s = optimize.NewSpace(cluster.MethodKMeans, 200, 1e-3, 1e3, 1e-6, 0.1)
	clampSmallDataset(&s, 200)
	assert.Equal(t, 5, s.CountHi, "large datasets keep the full range")
}

func TestMakeRunDirCollision(t *testing.T) {
	base := t.TempDir()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := makeRunDir(base, start)
	require.NoError(t, err)
	second, err := makeRunDir(base, start)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "run_20240301_120000"), first)
	assert.Equal(t, filepath.Join(base, "run_20240301_120000_1"), second)
	for _, dir := range []string{first, second} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
