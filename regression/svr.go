// Package regression provides the regression side of the refindex model:
// an epsilon-insensitive support-vector regressor and the per-cluster
// ensemble that composes one SVR per cluster with a global-mean fallback.
package regression

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/core/model"
	"github.com/prismlab/refindex/pkg/errors"
)

// Kernel names an SVR kernel function.
type Kernel string

// Supported kernels.
const (
	KernelRBF    Kernel = "rbf"
	KernelLinear Kernel = "linear"
)

// SVRParams are the caller-supplied SVR hyperparameters. Gamma <= 0 selects
// the 1/n_features default for the RBF kernel.
type SVRParams struct {
	Kernel  Kernel
	C       float64
	Epsilon float64
	Gamma   float64
}

// SVR is an epsilon-insensitive support-vector regressor trained by
// normalized kernel stochastic gradient descent. Classic SMO is replaced by
// an online update in coefficient space: per visited sample the dual
// coefficient moves against the epsilon-insensitive residual, and an
// epoch-level shrink applies the 1/C regularization.
type SVR struct {
	State  *model.StateManager
	Params SVRParams

	// Epochs is the number of passes over the training set.
	Epochs int

	// LearningRate is the normalized step size in (0, 1].
	LearningRate float64

	// RandomState seeds the per-epoch sample order.
	RandomState int64

	// Learned state.
	TrainX    [][]float64
	Coef      []float64
	Intercept float64
	NFeatures int
}

// NewSVR creates an SVR with the given hyperparameters.
func NewSVR(params SVRParams) *SVR {
	return &SVR{
		State:        model.NewStateManager(),
		Params:       params,
		Epochs:       150,
		LearningRate: 0.5,
		RandomState:  42,
	}
}

// Fit trains the regressor on X (n x d) and y (length n).
func (s *SVR) Fit(X mat.Matrix, y []float64) (err error) {
	defer errors.Recover(&err, "SVR.Fit")

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("SVR.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(y) != rows {
		return errors.NewDimensionError("SVR.Fit", rows, len(y), 0)
	}
	if s.Params.C <= 0 {
		return errors.NewValueError("SVR.Fit", "C must be positive")
	}
	if s.Params.Epsilon < 0 {
		return errors.NewValueError("SVR.Fit", "epsilon must be non-negative")
	}

	s.NFeatures = cols
	s.TrainX = make([][]float64, rows)
	for i := 0; i < rows; i++ {
		s.TrainX[i] = mat.Row(nil, i, X)
	}

	// Precompute the kernel matrix; the training sets here are small
	// (per-cluster slices of the dataset).
	K := make([][]float64, rows)
	for i := range K {
		K[i] = make([]float64, rows)
		for j := 0; j <= i; j++ {
			v := s.kernel(s.TrainX[i], s.TrainX[j])
			K[i][j] = v
			K[j][i] = v
		}
	}

	s.Coef = make([]float64, rows)
	s.Intercept = meanOf(y)

	rng := rand.New(rand.NewPCG(uint64(s.RandomState), uint64(s.RandomState)))
	shrink := 1.0 / (1.0 + s.LearningRate/(s.Params.C*float64(s.Epochs)))

	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < s.Epochs; epoch++ {
		rng.Shuffle(rows, func(a, b int) { order[a], order[b] = order[b], order[a] })

		for _, i := range order {
			pred := s.Intercept
			for j := 0; j < rows; j++ {
				if s.Coef[j] != 0 {
					pred += s.Coef[j] * K[j][i]
				}
			}

			residual := pred - y[i]
			if math.Abs(residual) <= s.Params.Epsilon {
				continue
			}
			delta := residual - math.Copysign(s.Params.Epsilon, residual)

			norm := K[i][i]
			if norm < 1e-12 {
				norm = 1e-12
			}
			step := s.LearningRate * delta / norm
			s.Coef[i] -= step
			s.Intercept -= s.LearningRate * delta * 0.01
		}

		for j := range s.Coef {
			s.Coef[j] *= shrink
		}
	}

	s.State.SetDimensions(cols, rows)
	s.State.SetFitted()
	return nil
}

// Predict evaluates the fitted regressor on each row of X.
func (s *SVR) Predict(X mat.Matrix) (_ []float64, err error) {
	defer errors.Recover(&err, "SVR.Predict")
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("SVR", "Predict")
	}
	rows, cols := X.Dims()
	if cols != s.NFeatures {
		return nil, errors.NewDimensionError("SVR.Predict", s.NFeatures, cols, 1)
	}

	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		x := mat.Row(nil, i, X)
		pred := s.Intercept
		for j, coef := range s.Coef {
			if coef != 0 {
				pred += coef * s.kernel(s.TrainX[j], x)
			}
		}
		out[i] = pred
	}
	return out, nil
}

// IsFitted reports whether Fit has completed.
func (s *SVR) IsFitted() bool { return s.State != nil && s.State.IsFitted() }

func (s *SVR) kernel(a, b []float64) float64 {
	switch s.Params.Kernel {
	case KernelLinear:
		var dot float64
		for i := range a {
			dot += a[i] * b[i]
		}
		return dot
	default: // rbf
		var sq float64
		for i := range a {
			d := a[i] - b[i]
			sq += d * d
		}
		return math.Exp(-s.resolvedGamma() * sq)
	}
}

// resolvedGamma returns the RBF width: the configured Gamma when positive,
// otherwise the 1/n_features default.
func (s *SVR) resolvedGamma() float64 {
	if s.Params.Gamma > 0 {
		return s.Params.Gamma
	}
	if s.NFeatures > 0 {
		return 1.0 / float64(s.NFeatures)
	}
	return 1.0
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
