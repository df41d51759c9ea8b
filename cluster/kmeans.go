package cluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/core/model"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
)

// KMeans implements full-batch Lloyd clustering with k-means++
// initialization and multiple restarts. Learned state is exported so a
// fitted instance survives gob round-trips inside a pipeline artifact.
type KMeans struct {
	State *model.StateManager

	// Hyperparameters.
	K           int
	MaxIter     int
	NInit       int
	Tol         float64
	RandomState int64

	// Learned state.
	Centers   [][]float64
	LabelsFit []int
	Inertia   float64
	NFeatures int

	rng    *rand.Rand
	logger log.Logger
}

// KMeansOption configures a KMeans instance.
type KMeansOption func(*KMeans)

// WithKMeansNClusters sets the number of clusters.
func WithKMeansNClusters(k int) KMeansOption {
	return func(km *KMeans) { km.K = k }
}

// WithKMeansMaxIter sets the maximum Lloyd iterations per restart.
func WithKMeansMaxIter(n int) KMeansOption {
	return func(km *KMeans) { km.MaxIter = n }
}

// WithKMeansNInit sets the number of restarts with fresh initializations.
func WithKMeansNInit(n int) KMeansOption {
	return func(km *KMeans) { km.NInit = n }
}

// WithKMeansTol sets the center-shift convergence tolerance.
func WithKMeansTol(tol float64) KMeansOption {
	return func(km *KMeans) { km.Tol = tol }
}

// WithKMeansRandomState sets the random seed.
func WithKMeansRandomState(seed int64) KMeansOption {
	return func(km *KMeans) { km.RandomState = seed }
}

// NewKMeans creates a KMeans clusterer. Defaults mirror the pipeline's
// historical configuration: 3 clusters, 10 restarts, seed 42.
func NewKMeans(options ...KMeansOption) *KMeans {
	km := &KMeans{
		State:       model.NewStateManager(),
		K:           3,
		MaxIter:     300,
		NInit:       10,
		Tol:         1e-4,
		RandomState: 42,
		logger:      log.GetLoggerWithName("KMeans"),
	}
	for _, opt := range options {
		opt(km)
	}
	km.rng = rand.New(rand.NewPCG(uint64(km.RandomState), uint64(km.RandomState)))
	return km
}

// Fit learns cluster centers from X, keeping the best of NInit restarts by
// within-cluster sum of squares.
func (km *KMeans) Fit(X mat.Matrix) (err error) {
	defer errors.Recover(&err, "KMeans.Fit")

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("KMeans.Fit", "empty data", errors.ErrEmptyData)
	}
	if rows < km.K {
		return errors.Newf("number of samples is less than number of clusters: %d < %d", rows, km.K)
	}
	if km.rng == nil {
		km.rng = rand.New(rand.NewPCG(uint64(km.RandomState), uint64(km.RandomState)))
	}

	bestInertia := math.Inf(1)
	var bestCenters [][]float64
	var bestLabels []int

	for run := 0; run < km.NInit; run++ {
		centers, labels, inertia := km.fitSingleRun(X)
		if inertia < bestInertia {
			bestInertia = inertia
			bestCenters = centers
			bestLabels = labels
		}
	}

	km.Centers = bestCenters
	km.LabelsFit = bestLabels
	km.Inertia = bestInertia
	km.NFeatures = cols
	km.State.SetDimensions(cols, rows)
	km.State.SetFitted()
	return nil
}

func (km *KMeans) fitSingleRun(X mat.Matrix) ([][]float64, []int, float64) {
	rows, cols := X.Dims()
	centers := km.initKMeansPlusPlus(X)
	labels := make([]int, rows)

	for iter := 0; iter < km.MaxIter; iter++ {
		// Assignment step.
		for i := 0; i < rows; i++ {
			labels[i] = nearestCenter(mat.Row(nil, i, X), centers)
		}

		// Update step.
		next := make([][]float64, km.K)
		counts := make([]int, km.K)
		for c := range next {
			next[c] = make([]float64, cols)
		}
		for i := 0; i < rows; i++ {
			c := labels[i]
			counts[c]++
			for j := 0; j < cols; j++ {
				next[c][j] += X.At(i, j)
			}
		}
		shift := 0.0
		for c := 0; c < km.K; c++ {
			if counts[c] == 0 {
				// Empty cluster: reseed from a random sample.
				copy(next[c], mat.Row(nil, km.rng.IntN(rows), X))
			} else {
				for j := 0; j < cols; j++ {
					next[c][j] /= float64(counts[c])
				}
			}
			shift += euclideanDistance(centers[c], next[c])
		}
		centers = next

		if shift < km.Tol {
			break
		}
	}

	for i := 0; i < rows; i++ {
		labels[i] = nearestCenter(mat.Row(nil, i, X), centers)
	}
	return centers, labels, computeInertia(X, centers)
}

// initKMeansPlusPlus seeds centers far apart using squared-distance
// weighted sampling.
func (km *KMeans) initKMeansPlusPlus(X mat.Matrix) [][]float64 {
	rows, _ := X.Dims()
	centers := make([][]float64, 0, km.K)
	centers = append(centers, mat.Row(nil, km.rng.IntN(rows), X))

	dists := make([]float64, rows)
	for len(centers) < km.K {
		total := 0.0
		for i := 0; i < rows; i++ {
			sample := mat.Row(nil, i, X)
			best := math.Inf(1)
			for _, c := range centers {
				if d := euclideanDistance(sample, c); d < best {
					best = d
				}
			}
			dists[i] = best * best
			total += dists[i]
		}

		if total == 0 {
			centers = append(centers, mat.Row(nil, km.rng.IntN(rows), X))
			continue
		}
		target := km.rng.Float64() * total
		cum := 0.0
		chosen := rows - 1
		for i := 0; i < rows; i++ {
			cum += dists[i]
			if cum >= target {
				chosen = i
				break
			}
		}
		centers = append(centers, mat.Row(nil, chosen, X))
	}
	return centers
}

// Predict assigns each row of X to its nearest fitted center.
func (km *KMeans) Predict(X mat.Matrix) ([]int, error) {
	if !km.IsFitted() {
		return nil, errors.NewNotFittedError("KMeans", "Predict")
	}
	rows, cols := X.Dims()
	if cols != km.NFeatures {
		return nil, errors.NewDimensionError("KMeans.Predict", km.NFeatures, cols, 1)
	}

	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		labels[i] = nearestCenter(mat.Row(nil, i, X), km.Centers)
	}
	return labels, nil
}

// FitPredict fits on X and returns the training labels.
func (km *KMeans) FitPredict(X mat.Matrix) ([]int, error) {
	if err := km.Fit(X); err != nil {
		return nil, err
	}
	return km.LabelsFit, nil
}

// Labels returns the assignments from the last Fit.
func (km *KMeans) Labels() []int { return km.LabelsFit }

// NumClusters returns the configured cluster count.
func (km *KMeans) NumClusters() int { return km.K }

// IsFitted reports whether Fit has completed.
func (km *KMeans) IsFitted() bool { return km.State != nil && km.State.IsFitted() }

func nearestCenter(sample []float64, centers [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, center := range centers {
		if d := euclideanDistance(sample, center); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func computeInertia(X mat.Matrix, centers [][]float64) float64 {
	rows, _ := X.Dims()
	inertia := 0.0
	for i := 0; i < rows; i++ {
		sample := mat.Row(nil, i, X)
		d := euclideanDistance(sample, centers[nearestCenter(sample, centers)])
		inertia += d * d
	}
	return inertia
}

func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
