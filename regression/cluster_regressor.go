package regression

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
)

// MinClusterSamples is the smallest cluster that gets its own regressor.
// Smaller clusters fall back to the global mean at prediction time.
const MinClusterSamples = 5

// ClusterRegressor decomposes one regression problem into independent
// per-cluster SVRs. Every fallback layer matters: clusters of degenerate
// data trip SVR failures routinely, and the pipeline has to stay numerically
// safe through all of them.
//
// Fallback ladder at prediction time:
//  1. no model for a cluster id -> global mean for those samples
//  2. per-cluster predict failure -> global mean for those samples
//  3. NaN in a cluster's predictions -> global mean per sample
//  4. no models at all -> constant global-mean vector
type ClusterRegressor struct {
	// Models maps cluster id to its trained regressor. Entries are
	// replaced wholesale on every Train call.
	Models map[int]*SVR

	// Params configure every per-cluster SVR.
	Params SVRParams

	// GlobalMean is the NaN-ignoring mean of the last training labels.
	GlobalMean float64

	logger log.Logger
}

// NewClusterRegressor creates an untrained ensemble with the given SVR
// hyperparameters.
func NewClusterRegressor(params SVRParams) *ClusterRegressor {
	return &ClusterRegressor{
		Params: params,
		logger: log.GetLoggerWithName("ClusterRegressor"),
	}
}

// Train fits one SVR per cluster with at least MinClusterSamples members.
// A single cluster failing to train is logged and skipped; partial success
// is expected with pathological clusters (constant labels and the like).
func (cr *ClusterRegressor) Train(features mat.Matrix, labels []float64, clusters []int) error {
	rows, _ := features.Dims()
	if rows == 0 {
		return errors.NewModelError("ClusterRegressor.Train", "empty data", errors.ErrEmptyData)
	}
	if len(labels) != rows || len(clusters) != rows {
		return errors.NewDimensionError("ClusterRegressor.Train", rows, len(labels), 0)
	}
	if cr.logger == nil {
		cr.logger = log.GetLoggerWithName("ClusterRegressor")
	}

	cr.GlobalMean = nanMean(labels)
	cr.Models = make(map[int]*SVR)

	for _, c := range distinctClusters(clusters) {
		idx := rowsOfCluster(clusters, c)
		if len(idx) < MinClusterSamples {
			continue
		}

		subX, subY := subset(features, labels, idx)
		svr := NewSVR(cr.Params)
		if err := svr.Fit(subX, subY); err != nil {
			cr.logger.Warn("cluster training failed, skipping",
				"cluster", c, "samples", len(idx), "error", err)
			continue
		}
		cr.Models[c] = svr
	}
	return nil
}

// Predict returns one prediction per row of features. Output slots start at
// the global mean and are overwritten only by successful, finite per-cluster
// predictions.
func (cr *ClusterRegressor) Predict(features mat.Matrix, clusters []int) []float64 {
	rows, _ := features.Dims()
	preds := make([]float64, rows)
	for i := range preds {
		preds[i] = cr.GlobalMean
	}
	if len(cr.Models) == 0 || len(clusters) != rows {
		return preds
	}
	if cr.logger == nil {
		cr.logger = log.GetLoggerWithName("ClusterRegressor")
	}

	for _, c := range distinctClusters(clusters) {
		model, ok := cr.Models[c]
		if !ok {
			continue
		}
		idx := rowsOfCluster(clusters, c)
		subX, _ := subset(features, nil, idx)

		clusterPreds, err := model.Predict(subX)
		if err != nil {
			cr.logger.Warn("cluster prediction failed, using global mean",
				"cluster", c, "error", err)
			continue
		}
		for k, row := range idx {
			v := clusterPreds[k]
			if math.IsNaN(v) {
				v = cr.GlobalMean
			}
			preds[row] = v
		}
	}
	return preds
}

func distinctClusters(clusters []int) []int {
	seen := make(map[int]struct{}, len(clusters))
	var out []int
	for _, c := range clusters {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

func rowsOfCluster(clusters []int, c int) []int {
	var idx []int
	for i, v := range clusters {
		if v == c {
			idx = append(idx, i)
		}
	}
	return idx
}

// subset extracts the given rows of features and, when labels is non-nil,
// the matching label values.
func subset(features mat.Matrix, labels []float64, idx []int) (*mat.Dense, []float64) {
	_, cols := features.Dims()
	sub := mat.NewDense(len(idx), cols, nil)
	var subY []float64
	if labels != nil {
		subY = make([]float64, len(idx))
	}
	for k, row := range idx {
		for j := 0; j < cols; j++ {
			sub.Set(k, j, features.At(row, j))
		}
		if labels != nil {
			subY[k] = labels[row]
		}
	}
	return sub, subY
}

func nanMean(v []float64) float64 {
	var sum float64
	var n int
	for _, x := range v {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
