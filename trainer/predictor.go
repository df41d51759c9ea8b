package trainer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
)

// Predictor serves single-sample predictions from a saved artifact.
type Predictor struct {
	artifact  *Artifact
	extractor FeatureExtractor
	logger    log.Logger
}

// NewPredictor loads the artifact at path. The extractor may be nil when
// only PredictFeatures is used.
func NewPredictor(path string, fx FeatureExtractor) (*Predictor, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	return &Predictor{
		artifact:  a,
		extractor: fx,
		logger:    log.GetLoggerWithName("Predictor"),
	}, nil
}

// Artifact exposes the loaded model bundle.
func (p *Predictor) Artifact() *Artifact { return p.artifact }

// Predict extracts features from an image and predicts its refractive
// index.
func (p *Predictor) Predict(imagePath string) (float64, error) {
	if p.extractor == nil {
		return 0, errors.NewValueError("Predictor.Predict", "no feature extractor configured")
	}
	features, err := p.extractor.Extract(imagePath)
	if err != nil {
		return 0, errors.Wrap(err, "Predictor.Predict")
	}
	return p.PredictFeatures(features)
}

// PredictFeatures predicts the refractive index of one feature vector,
// rounded to four decimal places to match the label resolution.
func (p *Predictor) PredictFeatures(features []float64) (float64, error) {
	X := mat.NewDense(1, len(features), features)
	scaled, clusters, err := p.artifact.Pipeline.Process(X, false)
	if err != nil {
		return 0, errors.Wrap(err, "Predictor.PredictFeatures")
	}
	preds := p.artifact.Regressor.Predict(scaled, clusters)
	value := math.Round(preds[0]*1e4) / 1e4
	p.logger.Debug("prediction", "cluster", clusters[0], "value", value)
	return value, nil
}
