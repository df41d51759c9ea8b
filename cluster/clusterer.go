// Package cluster provides the clustering backends of the refindex data
// pipeline: a full-batch KMeans and a from-scratch Self-Organizing Map.
// Both satisfy Interface so the pipeline and trainer depend only on the
// capability, not on the method.
package cluster

import (
	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/pkg/runctl"
)

// Method names a clustering backend.
type Method string

const (
	// MethodKMeans selects the KMeans backend.
	MethodKMeans Method = "kmeans"
	// MethodSOM selects the Self-Organizing Map backend.
	MethodSOM Method = "som"
)

// Interface is the clustering capability the pipeline depends on. Labels are
// integers in [0, NumClusters()).
type Interface interface {
	// Fit learns the cluster structure of X.
	Fit(X mat.Matrix) error

	// Predict assigns a cluster label to every row of X using the fitted
	// model. It never refits.
	Predict(X mat.Matrix) ([]int, error)

	// FitPredict fits on X and returns the training labels.
	FitPredict(X mat.Matrix) ([]int, error)

	// Labels returns the assignments from the last Fit.
	Labels() []int

	// NumClusters returns the size of the label space.
	NumClusters() int

	// IsFitted reports whether Fit has completed.
	IsFitted() bool
}

// ProgressFitter is the optional capability of backends whose fit is long
// enough to report partial progress and honor cancellation. The SOM
// implements it; the pipeline forwards the hooks when present.
type ProgressFitter interface {
	FitWithProgress(X mat.Matrix, progress runctl.ProgressFunc, cancel *runctl.Flag, reportDir string) error
}
