package cluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/prismlab/refindex/core/model"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
)

// DecaySchedule names a decay law for learning rate / neighborhood radius.
type DecaySchedule string

// Supported decay schedules.
const (
	DecayLinear      DecaySchedule = "linear"
	DecayExponential DecaySchedule = "exponential"
	DecayInverse     DecaySchedule = "inverse"
)

// NeighborhoodFunc names a neighborhood weighting function.
type NeighborhoodFunc string

// Supported neighborhood functions.
const (
	NeighborhoodGaussian   NeighborhoodFunc = "gaussian"
	NeighborhoodBubble     NeighborhoodFunc = "bubble"
	NeighborhoodMexicanHat NeighborhoodFunc = "mexican_hat"
)

// History is the SOM training time series, sampled every 10th iteration.
// It is observational only; nothing in training reads it back.
type History struct {
	Iteration         []int
	LearningRate      []float64
	Sigma             []float64
	QuantizationError []float64
	TopographicError  []float64
}

// Frame is a snapshot of the weight grid taken during training when
// PlotTraining is enabled.
type Frame struct {
	Iteration         int
	Weights           [][]float64
	QuantizationError float64
	TopographicError  float64
}

// SOM is a Self-Organizing Map clusterer: a GridSize x GridSize grid of
// neurons trained by competitive, neighborhood-weighted online learning.
// It is a drop-in alternative to KMeans behind the cluster Interface; a
// sample's label is the flattened index of its best-matching unit.
type SOM struct {
	State *model.StateManager

	// Hyperparameters, fixed at construction.
	GridSize          int
	LearningRate      float64
	Sigma             float64
	SigmaDecay        DecaySchedule
	LearningRateDecay DecaySchedule
	Neighborhood      NeighborhoodFunc
	MaxIter           int
	RandomState       int64
	Verbose           bool
	PlotTraining      bool

	// Learned state. Weights[cell] is the D-dimensional weight vector of
	// grid cell (cell/GridSize, cell%GridSize).
	Weights   [][]float64
	NFeatures int
	LabelsFit []int
	Hist      History
	Frames    []Frame

	// Static neighborhood coordinate grid, built once at fit time.
	// Rebuilt lazily after deserialization.
	gridCoords [][2]float64

	rng    *rand.Rand
	logger log.Logger
}

// SOMOption configures a SOM instance.
type SOMOption func(*SOM)

// WithSOMGridSize sets the neuron grid side length (grid is gridSize^2).
func WithSOMGridSize(gridSize int) SOMOption {
	return func(s *SOM) { s.GridSize = gridSize }
}

// WithSOMLearningRate sets the initial learning rate.
func WithSOMLearningRate(lr float64) SOMOption {
	return func(s *SOM) { s.LearningRate = lr }
}

// WithSOMSigma sets the initial neighborhood radius.
func WithSOMSigma(sigma float64) SOMOption {
	return func(s *SOM) { s.Sigma = sigma }
}

// WithSOMSigmaDecay sets the neighborhood radius decay schedule.
func WithSOMSigmaDecay(d DecaySchedule) SOMOption {
	return func(s *SOM) { s.SigmaDecay = d }
}

// WithSOMLearningRateDecay sets the learning rate decay schedule.
func WithSOMLearningRateDecay(d DecaySchedule) SOMOption {
	return func(s *SOM) { s.LearningRateDecay = d }
}

// WithSOMNeighborhood sets the neighborhood weighting function.
func WithSOMNeighborhood(nf NeighborhoodFunc) SOMOption {
	return func(s *SOM) { s.Neighborhood = nf }
}

// WithSOMMaxIter sets the number of online training steps.
func WithSOMMaxIter(n int) SOMOption {
	return func(s *SOM) { s.MaxIter = n }
}

// WithSOMRandomState sets the random seed.
func WithSOMRandomState(seed int64) SOMOption {
	return func(s *SOM) { s.RandomState = seed }
}

// WithSOMVerbose enables per-decile training logs.
func WithSOMVerbose(v bool) SOMOption {
	return func(s *SOM) { s.Verbose = v }
}

// WithSOMPlotTraining enables weight-grid snapshots for the training
// animation in the HTML report.
func WithSOMPlotTraining(v bool) SOMOption {
	return func(s *SOM) { s.PlotTraining = v }
}

// NewSOM creates a SOM clusterer with gaussian neighborhood and exponential
// decay defaults.
func NewSOM(options ...SOMOption) *SOM {
	s := &SOM{
		State:             model.NewStateManager(),
		GridSize:          3,
		LearningRate:      0.5,
		Sigma:             1.0,
		SigmaDecay:        DecayExponential,
		LearningRateDecay: DecayExponential,
		Neighborhood:      NeighborhoodGaussian,
		MaxIter:           1000,
		RandomState:       42,
		logger:            log.GetLoggerWithName("SOM"),
	}
	for _, opt := range options {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(uint64(s.RandomState), uint64(s.RandomState)))
	return s
}

// Fit trains the map on X without progress reporting.
func (s *SOM) Fit(X mat.Matrix) error {
	return s.FitWithProgress(X, nil, nil, "")
}

// FitWithProgress trains the map on X, reporting progress roughly every ten
// iterations and polling the cancellation flag at the same cadence. When
// reportDir is non-empty a diagnostic HTML report is written there after a
// successful fit; report failures are logged, never returned.
//
// An interrupted fit returns ErrInterrupted and leaves the SOM unfitted.
func (s *SOM) FitWithProgress(X mat.Matrix, progress runctl.ProgressFunc, cancel *runctl.Flag, reportDir string) (err error) {
	defer errors.Recover(&err, "SOM.Fit")

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("SOM.Fit", "empty data", errors.ErrEmptyData)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(s.RandomState), uint64(s.RandomState)))
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("SOM")
	}

	s.NFeatures = cols
	s.initializeWeights(X)
	s.buildGrid()
	s.Hist = History{}
	s.Frames = nil

	for iter := 0; iter < s.MaxIter; iter++ {
		if iter%10 == 0 {
			if cancel.IsSet() {
				s.State.Reset()
				return errors.Wrapf(errors.ErrInterrupted, "SOM training stopped at iteration %d", iter)
			}
			progress.Report(iter, s.MaxIter, "SOM training")
		}

		x := mat.Row(nil, s.rng.IntN(rows), X)
		bmu := s.findBMU(x)

		currentSigma := decay(s.Sigma, iter, s.MaxIter, s.SigmaDecay)
		currentLR := decay(s.LearningRate, iter, s.MaxIter, s.LearningRateDecay)

		// Update every cell, weighted by neighborhood strength.
		for cell := range s.Weights {
			h := neighborhoodValue(s.Neighborhood, s.gridDistance(cell, bmu), currentSigma)
			if h == 0 {
				continue
			}
			w := s.Weights[cell]
			for j := range w {
				w[j] += currentLR * h * (x[j] - w[j])
			}
		}

		if iter%10 == 0 {
			qe := s.quantizationError(X)
			te := s.topographicError(X)
			s.Hist.Iteration = append(s.Hist.Iteration, iter)
			s.Hist.LearningRate = append(s.Hist.LearningRate, currentLR)
			s.Hist.Sigma = append(s.Hist.Sigma, currentSigma)
			s.Hist.QuantizationError = append(s.Hist.QuantizationError, qe)
			s.Hist.TopographicError = append(s.Hist.TopographicError, te)

			if s.PlotTraining && iter%50 == 0 {
				s.Frames = append(s.Frames, Frame{
					Iteration:         iter,
					Weights:           copyWeights(s.Weights),
					QuantizationError: qe,
					TopographicError:  te,
				})
			}
			if s.Verbose {
				s.logger.Info("training step",
					"iteration", iter,
					"learning_rate", currentLR,
					"sigma", currentSigma,
					"quantization_error", qe,
					"topographic_error", te)
			}
		}
	}

	progress.Report(s.MaxIter, s.MaxIter, "complete")

	s.State.SetDimensions(cols, rows)
	s.State.SetFitted()

	// Labels are assigned post-hoc from the final weight grid.
	s.LabelsFit, err = s.Predict(X)
	if err != nil {
		return err
	}

	if reportDir != "" {
		if rerr := s.WriteReport(reportDir, X); rerr != nil {
			s.logger.Warn("SOM report generation failed", "error", rerr)
		}
	}
	return nil
}

// initializeWeights seeds the weight grid from random samples, then lays the
// grid along the top-2 principal components around the data mean. If PCA is
// unavailable the random-range fallback applies.
func (s *SOM) initializeWeights(X mat.Matrix) {
	rows, cols := X.Dims()
	cells := s.GridSize * s.GridSize

	// Random-sample seeding: the fallback if the PCA pass silently no-ops.
	s.Weights = make([][]float64, cells)
	perm := s.rng.Perm(rows)
	for cell := 0; cell < cells; cell++ {
		var idx int
		if cells <= rows {
			idx = perm[cell]
		} else {
			idx = s.rng.IntN(rows)
		}
		s.Weights[cell] = mat.Row(nil, idx, X)
	}

	mean, pc1, pc2, ok := principalAxes(X)
	if !ok {
		// Uniform random weights scaled to the feature value range.
		lo, hi := featureRange(X)
		for cell := 0; cell < cells; cell++ {
			w := make([]float64, cols)
			for j := 0; j < cols; j++ {
				w[j] = lo[j] + s.rng.Float64()*(hi[j]-lo[j])
			}
			s.Weights[cell] = w
		}
		return
	}

	half := float64(s.GridSize) / 2
	for i := 0; i < s.GridSize; i++ {
		for j := 0; j < s.GridSize; j++ {
			w := make([]float64, cols)
			for f := 0; f < cols; f++ {
				w[f] = mean[f] +
					(float64(i)-half)*0.1*pc1[f] +
					(float64(j)-half)*0.1*pc2[f]
			}
			s.Weights[i*s.GridSize+j] = w
		}
	}
}

func (s *SOM) buildGrid() {
	s.gridCoords = make([][2]float64, s.GridSize*s.GridSize)
	for i := 0; i < s.GridSize; i++ {
		for j := 0; j < s.GridSize; j++ {
			s.gridCoords[i*s.GridSize+j] = [2]float64{float64(i), float64(j)}
		}
	}
}

// gridDistance is the Euclidean distance between two cells on the neuron
// grid (not in feature space).
func (s *SOM) gridDistance(a, b int) float64 {
	if s.gridCoords == nil {
		s.buildGrid()
	}
	di := s.gridCoords[a][0] - s.gridCoords[b][0]
	dj := s.gridCoords[a][1] - s.gridCoords[b][1]
	return math.Hypot(di, dj)
}

// findBMU returns the flattened index of the cell whose weights are nearest
// to x in Euclidean distance.
func (s *SOM) findBMU(x []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for cell, w := range s.Weights {
		if d := euclideanDistance(x, w); d < bestDist {
			bestDist = d
			best = cell
		}
	}
	return best
}

// findTwoBMUs returns the two closest-matching cells for x.
func (s *SOM) findTwoBMUs(x []float64) (first, second int) {
	first, second = 0, 1
	d1, d2 := math.Inf(1), math.Inf(1)
	for cell, w := range s.Weights {
		d := euclideanDistance(x, w)
		switch {
		case d < d1:
			second, d2 = first, d1
			first, d1 = cell, d
		case d < d2:
			second, d2 = cell, d
		}
	}
	return first, second
}

func (s *SOM) quantizationError(X mat.Matrix) float64 {
	rows, _ := X.Dims()
	if rows == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < rows; i++ {
		x := mat.Row(nil, i, X)
		sum += euclideanDistance(x, s.Weights[s.findBMU(x)])
	}
	return sum / float64(rows)
}

func (s *SOM) topographicError(X mat.Matrix) float64 {
	rows, _ := X.Dims()
	if rows == 0 {
		return 0
	}
	errs := 0
	for i := 0; i < rows; i++ {
		first, second := s.findTwoBMUs(mat.Row(nil, i, X))
		if s.gridDistance(first, second) > 1.5 {
			errs++
		}
	}
	return float64(errs) / float64(rows)
}

// Predict maps each row of X to the flattened index of its best-matching
// unit: bmu_row * GridSize + bmu_col.
func (s *SOM) Predict(X mat.Matrix) ([]int, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("SOM", "Predict")
	}
	rows, cols := X.Dims()
	if cols != s.NFeatures {
		return nil, errors.NewDimensionError("SOM.Predict", s.NFeatures, cols, 1)
	}

	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		labels[i] = s.findBMU(mat.Row(nil, i, X))
	}
	return labels, nil
}

// FitPredict fits on X and returns the training labels.
func (s *SOM) FitPredict(X mat.Matrix) ([]int, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.LabelsFit, nil
}

// Labels returns the assignments from the last Fit.
func (s *SOM) Labels() []int { return s.LabelsFit }

// NumClusters returns the label-space size, GridSize squared.
func (s *SOM) NumClusters() int { return s.GridSize * s.GridSize }

// IsFitted reports whether Fit has completed.
func (s *SOM) IsFitted() bool { return s.State != nil && s.State.IsFitted() }

// UMatrix returns the unified distance matrix: each neuron's mean weight
// distance to its existing up/down/left/right neighbors. Non-finite entries
// are sanitized to 0; a perfectly uniform matrix receives a tiny random
// jitter so downstream heatmaps do not degenerate.
func (s *SOM) UMatrix() ([][]float64, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("SOM", "UMatrix")
	}

	gs := s.GridSize
	u := make([][]float64, gs)
	for i := 0; i < gs; i++ {
		u[i] = make([]float64, gs)
		for j := 0; j < gs; j++ {
			w := s.Weights[i*gs+j]
			var sum float64
			var n int
			if i > 0 {
				sum += euclideanDistance(w, s.Weights[(i-1)*gs+j])
				n++
			}
			if i < gs-1 {
				sum += euclideanDistance(w, s.Weights[(i+1)*gs+j])
				n++
			}
			if j > 0 {
				sum += euclideanDistance(w, s.Weights[i*gs+j-1])
				n++
			}
			if j < gs-1 {
				sum += euclideanDistance(w, s.Weights[i*gs+j+1])
				n++
			}
			if n > 0 {
				u[i][j] = sum / float64(n)
			}
			if math.IsNaN(u[i][j]) || math.IsInf(u[i][j], 0) {
				u[i][j] = 0
			}
		}
	}

	uniform := true
	for i := 0; i < gs && uniform; i++ {
		for j := 0; j < gs; j++ {
			if u[i][j] != u[0][0] {
				uniform = false
				break
			}
		}
	}
	if uniform {
		if s.rng == nil {
			s.rng = rand.New(rand.NewPCG(uint64(s.RandomState), uint64(s.RandomState)))
		}
		for i := 0; i < gs; i++ {
			for j := 0; j < gs; j++ {
				u[i][j] += 1e-10 * s.rng.Float64()
			}
		}
	}
	return u, nil
}

// TrainingHistory returns the recorded training time series.
func (s *SOM) TrainingHistory() History { return s.Hist }

func decay(initial float64, iteration, maxIter int, schedule DecaySchedule) float64 {
	t := float64(iteration)
	m := float64(maxIter)
	switch schedule {
	case DecayLinear:
		return initial * (1 - t/m)
	case DecayExponential:
		return initial * math.Exp(-t/m)
	case DecayInverse:
		return initial / (1 + t/(m/2))
	default:
		return initial
	}
}

func neighborhoodValue(nf NeighborhoodFunc, d, sigma float64) float64 {
	switch nf {
	case NeighborhoodBubble:
		if d <= sigma {
			return 1
		}
		return 0
	case NeighborhoodMexicanHat:
		return (1 - d*d/(sigma*sigma)) * math.Exp(-d*d/(2*sigma*sigma))
	default: // gaussian
		return math.Exp(-d * d / (2 * sigma * sigma))
	}
}

// principalAxes computes the data mean and the top-2 principal component
// directions of X. ok is false when PCA is not applicable (fewer than two
// features or samples, or a failed decomposition).
func principalAxes(X mat.Matrix) (mean, pc1, pc2 []float64, ok bool) {
	rows, cols := X.Dims()
	if rows < 2 || cols < 2 {
		return nil, nil, nil, false
	}

	var pc stat.PC
	if !pc.PrincipalComponents(X, nil) {
		return nil, nil, nil, false
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	mean = make([]float64, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += X.At(i, j)
		}
		mean[j] = sum / float64(rows)
	}

	pc1 = make([]float64, cols)
	pc2 = make([]float64, cols)
	for f := 0; f < cols; f++ {
		pc1[f] = vecs.At(f, 0)
		pc2[f] = vecs.At(f, 1)
	}
	return mean, pc1, pc2, true
}

func featureRange(X mat.Matrix) (lo, hi []float64) {
	rows, cols := X.Dims()
	lo = make([]float64, cols)
	hi = make([]float64, cols)
	for j := 0; j < cols; j++ {
		lo[j] = X.At(0, j)
		hi[j] = X.At(0, j)
		for i := 1; i < rows; i++ {
			v := X.At(i, j)
			if v < lo[j] {
				lo[j] = v
			}
			if v > hi[j] {
				hi[j] = v
			}
		}
	}
	return lo, hi
}

func copyWeights(w [][]float64) [][]float64 {
	out := make([][]float64, len(w))
	for i := range w {
		out[i] = append([]float64(nil), w[i]...)
	}
	return out
}
