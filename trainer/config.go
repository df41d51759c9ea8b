// Package trainer orchestrates a full refractive-index training run: dataset
// loading, train/test split, hyperparameter search, final model fit,
// evaluation, artifact persistence and diagnostic reports. One run is one
// worker; a controller cancels it through a shared flag and observes it
// through a progress channel.
package trainer

import (
	"time"

	"github.com/prismlab/refindex/cluster"
)

// Search method names.
const (
	SearchBayesian = "bayesian"
	SearchTPE      = "tpe"
	SearchHybrid   = "hybrid"
)

// TuningConfig bounds the hyperparameter search.
type TuningConfig struct {
	// NTrials is the TPE-stage trial budget.
	NTrials int

	// Timeout caps the TPE stage's wall-clock time. Zero disables it.
	Timeout time.Duration

	// CVFolds is the cross-validation fold count per trial.
	CVFolds int

	// BayesInitPoints and BayesIterations size the Bayesian stage: random
	// exploration points, then surrogate-guided ones.
	BayesInitPoints int
	BayesIterations int

	// SVR regularization range, sampled log-uniformly.
	CMin, CMax float64

	// SVR epsilon-tube range, sampled log-uniformly.
	EpsilonMin, EpsilonMax float64
}

// Config controls one training run.
type Config struct {
	// ClusteringMethod selects the pipeline backend.
	ClusteringMethod cluster.Method

	// OptimizationMethod is SearchBayesian, SearchTPE or SearchHybrid.
	OptimizationMethod string

	// TestSize is the held-out fraction of the dataset.
	TestSize float64

	// Seed drives the split, the samplers and every trial's fold shuffle.
	Seed int64

	// ModelDir is where timestamped run directories are created.
	ModelDir string

	// UserDir, when set, receives a mirror copy of the finished run
	// directory.
	UserDir string

	Tuning TuningConfig
}

// DefaultConfig returns the standard training configuration.
func DefaultConfig() Config {
	return Config{
		ClusteringMethod:   cluster.MethodKMeans,
		OptimizationMethod: SearchHybrid,
		TestSize:           0.2,
		Seed:               42,
		ModelDir:           "trained_models",
		Tuning: TuningConfig{
			NTrials:         100,
			Timeout:         2 * time.Hour,
			CVFolds:         3,
			BayesInitPoints: 5,
			BayesIterations: 15,
			CMin:            1e-3,
			CMax:            1e3,
			EpsilonMin:      1e-6,
			EpsilonMax:      0.1,
		},
	}
}

// normalize fills unset fields with defaults and maps method aliases.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.ClusteringMethod == "" {
		c.ClusteringMethod = def.ClusteringMethod
	}
	switch c.OptimizationMethod {
	case "", "optuna":
		// "optuna" is the historical name of the TPE stage.
		if c.OptimizationMethod == "optuna" {
			c.OptimizationMethod = SearchTPE
		} else {
			c.OptimizationMethod = def.OptimizationMethod
		}
	}
	if c.TestSize <= 0 || c.TestSize >= 1 {
		c.TestSize = def.TestSize
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}
	if c.ModelDir == "" {
		c.ModelDir = def.ModelDir
	}
	if c.Tuning.NTrials <= 0 {
		c.Tuning.NTrials = def.Tuning.NTrials
	}
	if c.Tuning.CVFolds < 2 {
		c.Tuning.CVFolds = def.Tuning.CVFolds
	}
	if c.Tuning.BayesInitPoints <= 0 {
		c.Tuning.BayesInitPoints = def.Tuning.BayesInitPoints
	}
	if c.Tuning.BayesIterations <= 0 {
		c.Tuning.BayesIterations = def.Tuning.BayesIterations
	}
	if c.Tuning.CMin <= 0 || c.Tuning.CMax <= c.Tuning.CMin {
		c.Tuning.CMin, c.Tuning.CMax = def.Tuning.CMin, def.Tuning.CMax
	}
	if c.Tuning.EpsilonMin <= 0 || c.Tuning.EpsilonMax <= c.Tuning.EpsilonMin {
		c.Tuning.EpsilonMin, c.Tuning.EpsilonMax = def.Tuning.EpsilonMin, def.Tuning.EpsilonMax
	}
}
