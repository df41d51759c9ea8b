package trainer

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
)

// MinSamples is the smallest dataset a training run accepts.
const MinSamples = 10

// FeatureExtractor turns one image into a fixed-length feature vector. It is
// treated as a pure, possibly slow, collaborator; per-image failures are the
// loader's to handle.
type FeatureExtractor interface {
	Extract(imagePath string) ([]float64, error)
}

// Dataset is a loaded, labeled feature matrix.
type Dataset struct {
	X     *mat.Dense
	Y     []float64
	Paths []string
}

// Len returns the sample count.
func (d *Dataset) Len() int { return len(d.Y) }

// Labeled image files look like Rn_1.52.png: the refractive index split
// around the dot.
var labelPattern = regexp.MustCompile(`^Rn_(\d+)\.(\d+)$`)

// ParseLabel extracts the refractive index from a dataset file name. The
// fractional digits keep their decimal scaling, so Rn_1.05.png is 1.05 and
// Rn_1.5.png is 1.5.
func ParseLabel(filename string) (float64, error) {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	m := labelPattern.FindStringSubmatch(stem)
	if m == nil {
		return 0, errors.NewValueError("ParseLabel", "file name "+base+" does not match Rn_<index>.png")
	}
	intPart, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errors.Wrap(err, "ParseLabel")
	}
	fracPart, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, errors.Wrap(err, "ParseLabel")
	}
	return float64(intPart) + float64(fracPart)/math.Pow(10, float64(len(m[2]))), nil
}

// LoadDataset walks dir for labeled PNG images, extracts features and parses
// labels. Individual bad samples are logged and skipped; fewer than
// MinSamples surviving samples is an error.
func LoadDataset(dir string, fx FeatureExtractor) (*Dataset, error) {
	logger := log.GetLoggerWithName("LoadDataset")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "LoadDataset")
	}

	var (
		features [][]float64
		labels   []float64
		paths    []string
		nDims    int
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		path := filepath.Join(dir, e.Name())

		label, err := ParseLabel(e.Name())
		if err != nil {
			logger.Warn("skipping sample, bad label", "file", e.Name(), "error", err)
			continue
		}
		vec, err := fx.Extract(path)
		if err != nil {
			logger.Warn("skipping sample, extraction failed", "file", e.Name(), "error", err)
			continue
		}
		if nDims == 0 {
			nDims = len(vec)
		}
		if len(vec) != nDims || nDims == 0 {
			logger.Warn("skipping sample, inconsistent feature length",
				"file", e.Name(), "got", len(vec), "want", nDims)
			continue
		}
		features = append(features, vec)
		labels = append(labels, label)
		paths = append(paths, path)
	}

	if len(labels) < MinSamples {
		return nil, errors.Wrapf(errors.ErrInsufficientSamples,
			"LoadDataset: %d valid samples, need at least %d", len(labels), MinSamples)
	}

	X := mat.NewDense(len(features), nDims, nil)
	for i, row := range features {
		X.SetRow(i, row)
	}
	logger.Info("dataset loaded", "samples", len(labels), "features", nDims)
	return &Dataset{X: X, Y: labels, Paths: paths}, nil
}
