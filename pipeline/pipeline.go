// Package pipeline chains feature standardization and clustering into the
// single preprocessing step the trainer and predictor share. The pipeline is
// direction aware: in training mode it fits the scaler and the clusterer, in
// inference mode it only applies the fitted state.
package pipeline

import (
	"encoding/gob"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
	"github.com/prismlab/refindex/preprocessing"
)

func init() {
	// Concrete clusterers travel through gob behind the cluster.Interface
	// field, so both must be registered before any artifact round trip.
	gob.Register(&cluster.KMeans{})
	gob.Register(&cluster.SOM{})
}

// DataPipeline standardizes features and assigns cluster labels. All learned
// state lives in exported fields so pipelines survive gob round trips.
type DataPipeline struct {
	// Scaler holds the fitted standardization parameters.
	Scaler *preprocessing.StandardScaler

	// Clusterer is the fitted clustering backend.
	Clusterer cluster.Interface

	// Method records which backend Clusterer is, for logs and artifacts.
	Method cluster.Method

	// LegacyKMeans carries the clusterer of artifacts written before the
	// backend became pluggable. Normalize moves it into Clusterer.
	LegacyKMeans *cluster.KMeans

	logger log.Logger
}

// Option configures a DataPipeline at construction.
type Option func(*DataPipeline)

// WithClusterer overrides the default backend for the chosen method. The
// caller is responsible for matching the backend to the method name.
func WithClusterer(c cluster.Interface) Option {
	return func(p *DataPipeline) { p.Clusterer = c }
}

// NewDataPipeline creates a pipeline for the given clustering method with an
// unfitted scaler and a default backend: 3-cluster KMeans or a default SOM.
func NewDataPipeline(method cluster.Method, options ...Option) *DataPipeline {
	p := &DataPipeline{
		Scaler: preprocessing.NewStandardScaler(),
		Method: method,
		logger: log.GetLoggerWithName("DataPipeline"),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.Clusterer == nil {
		switch method {
		case cluster.MethodSOM:
			p.Clusterer = cluster.NewSOM()
		default:
			p.Method = cluster.MethodKMeans
			p.Clusterer = cluster.NewKMeans()
		}
	}
	return p
}

// ProcessOption configures a single Process call.
type ProcessOption func(*processConfig)

type processConfig struct {
	progress  runctl.ProgressFunc
	cancel    *runctl.Flag
	reportDir string
}

// WithProgress forwards fit progress to fn. Only long-running backends
// report intermediate steps.
func WithProgress(fn runctl.ProgressFunc) ProcessOption {
	return func(c *processConfig) { c.progress = fn }
}

// WithCancel makes training-mode clustering honor the given flag.
func WithCancel(flag *runctl.Flag) ProcessOption {
	return func(c *processConfig) { c.cancel = flag }
}

// WithReportDir asks backends that can render training reports to write
// them under dir.
func WithReportDir(dir string) ProcessOption {
	return func(c *processConfig) { c.reportDir = dir }
}

// Process standardizes X and assigns one cluster label per row.
//
// In training mode the scaler and clusterer are fitted on X. In inference
// mode the previously fitted state is applied unchanged; calling with
// training=false before any training run fails with ErrNotFitted.
//
// NaN and Inf entries are replaced with zero before scaling, so downstream
// stages only ever see finite values.
func (p *DataPipeline) Process(X mat.Matrix, training bool, options ...ProcessOption) (*mat.Dense, []int, error) {
	var cfg processConfig
	for _, opt := range options {
		opt(&cfg)
	}
	if p.logger == nil {
		p.logger = log.GetLoggerWithName("DataPipeline")
	}

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, errors.NewModelError("DataPipeline.Process", "empty data", errors.ErrEmptyData)
	}

	var (
		scaled *mat.Dense
		err    error
	)
	if training {
		scaled, err = p.Scaler.FitTransform(X)
	} else {
		if p.Scaler == nil || !p.Scaler.IsFitted() {
			return nil, nil, errors.NewNotFittedError("DataPipeline", "Process")
		}
		scaled, err = p.Scaler.Transform(X)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "DataPipeline.Process: standardization")
	}
	// Sanitation runs on the scaled output, so a NaN in the input zeroes
	// the whole scaled column rather than a single cell.
	preprocessing.SanitizeNaN(scaled, 0)
	cfg.progress.Report(1, 2, "standardization complete")

	labels, err := p.clusterLabels(scaled, training, &cfg)
	if err != nil {
		return nil, nil, err
	}
	cfg.progress.Report(2, 2, "clustering complete")

	p.logger.Debug("processed batch", "rows", rows, "cols", cols,
		"training", training, "method", string(p.Method))
	return scaled, labels, nil
}

func (p *DataPipeline) clusterLabels(scaled *mat.Dense, training bool, cfg *processConfig) ([]int, error) {
	if !training {
		if p.Clusterer == nil || !p.Clusterer.IsFitted() {
			return nil, errors.NewNotFittedError("DataPipeline", "Process")
		}
		labels, err := p.Clusterer.Predict(scaled)
		if err != nil {
			return nil, errors.Wrap(err, "DataPipeline.Process: cluster assignment")
		}
		return labels, nil
	}

	if pf, ok := p.Clusterer.(cluster.ProgressFitter); ok {
		if err := pf.FitWithProgress(scaled, cfg.progress, cfg.cancel, cfg.reportDir); err != nil {
			return nil, errors.Wrap(err, "DataPipeline.Process: clustering")
		}
	} else {
		if cfg.cancel.IsSet() {
			return nil, errors.Wrap(errors.ErrInterrupted, "DataPipeline.Process")
		}
		if err := p.Clusterer.Fit(scaled); err != nil {
			return nil, errors.Wrap(err, "DataPipeline.Process: clustering")
		}
	}
	return p.Clusterer.Labels(), nil
}

// NumClusters returns the label space size of the clustering backend.
func (p *DataPipeline) NumClusters() int {
	if p.Clusterer == nil {
		return 0
	}
	return p.Clusterer.NumClusters()
}

// IsFitted reports whether both stages have been trained.
func (p *DataPipeline) IsFitted() bool {
	return p.Scaler != nil && p.Scaler.IsFitted() &&
		p.Clusterer != nil && p.Clusterer.IsFitted()
}
