package cluster

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/runctl"
)

// twoBlobs returns well-separated point clouds, 10 points each.
func twoBlobs() *mat.Dense {
	data := make([]float64, 0, 40)
	for i := 0; i < 10; i++ {
		data = append(data, 0.0+0.01*float64(i), 0.0+0.02*float64(i))
	}
	for i := 0; i < 10; i++ {
		data = append(data, 10.0+0.01*float64(i), 10.0+0.02*float64(i))
	}
	return mat.NewDense(20, 2, data)
}

func TestSOMFitAssignsLabelsInRange(t *testing.T) {
	som := NewSOM(WithSOMGridSize(3), WithSOMMaxIter(100), WithSOMRandomState(42))
	X := twoBlobs()

	if err := som.Fit(X); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !som.IsFitted() {
		t.Fatal("SOM should report fitted after Fit")
	}

	labels := som.Labels()
	if len(labels) != 20 {
		t.Fatalf("Expected 20 labels, got %d", len(labels))
	}
	for i, l := range labels {
		if l < 0 || l >= som.NumClusters() {
			t.Errorf("Label %d = %d out of range [0, %d)", i, l, som.NumClusters())
		}
	}
}

func TestSOMSeparatesDistantBlobs(t *testing.T) {
	som := NewSOM(WithSOMGridSize(2), WithSOMMaxIter(200), WithSOMRandomState(42))
	X := twoBlobs()

	labels, err := som.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}

	// Points of the same blob must map to the same cell, and the two blobs
	// to different cells.
	for i := 1; i < 10; i++ {
		if labels[i] != labels[0] {
			t.Errorf("First blob split: labels[%d]=%d, labels[0]=%d", i, labels[i], labels[0])
		}
		if labels[10+i] != labels[10] {
			t.Errorf("Second blob split: labels[%d]=%d, labels[10]=%d", 10+i, labels[10+i], labels[10])
		}
	}
	if labels[0] == labels[10] {
		t.Error("Distant blobs mapped to the same cell")
	}
}

func TestSOMFitPredictMatchesPredict(t *testing.T) {
	X := twoBlobs()

	som := NewSOM(WithSOMGridSize(2), WithSOMMaxIter(100), WithSOMRandomState(7))
	fitPredictLabels, err := som.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	predictLabels, err := som.Predict(X)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i := range fitPredictLabels {
		if fitPredictLabels[i] != predictLabels[i] {
			t.Errorf("Label %d differs: FitPredict=%d Predict=%d",
				i, fitPredictLabels[i], predictLabels[i])
		}
	}
}

func TestSOMCancellation(t *testing.T) {
	som := NewSOM(WithSOMGridSize(2), WithSOMMaxIter(500))
	flag := runctl.NewFlag()
	flag.Set()

	err := som.FitWithProgress(twoBlobs(), nil, flag, "")
	if !errors.Is(err, errors.ErrInterrupted) {
		t.Fatalf("Expected ErrInterrupted, got %v", err)
	}
	if som.IsFitted() {
		t.Error("Interrupted SOM must not report fitted")
	}
}

func TestSOMProgressReachesCompletion(t *testing.T) {
	som := NewSOM(WithSOMGridSize(2), WithSOMMaxIter(50))

	var lastCurrent, lastTotal int
	var lastDesc string
	progress := runctl.ProgressFunc(func(current, total int, description string) {
		if current < lastCurrent {
			t.Errorf("Progress went backwards: %d after %d", current, lastCurrent)
		}
		lastCurrent, lastTotal, lastDesc = current, total, description
	})

	if err := som.FitWithProgress(twoBlobs(), progress, nil, ""); err != nil {
		t.Fatalf("FitWithProgress failed: %v", err)
	}
	if lastCurrent != lastTotal {
		t.Errorf("Final progress %d/%d, expected completion", lastCurrent, lastTotal)
	}
	if lastDesc != "complete" {
		t.Errorf("Final description %q, expected complete", lastDesc)
	}
}

func TestSOMPredictBeforeFit(t *testing.T) {
	som := NewSOM()
	if _, err := som.Predict(twoBlobs()); !errors.Is(err, errors.ErrNotFitted) {
		t.Errorf("Expected ErrNotFitted, got %v", err)
	}
}

func TestDecaySchedulesNonIncreasing(t *testing.T) {
	schedules := []DecaySchedule{DecayLinear, DecayExponential, DecayInverse}
	const maxIter = 100

	for _, schedule := range schedules {
		prev := math.Inf(1)
		for iter := 0; iter < maxIter; iter++ {
			v := decay(1.0, iter, maxIter, schedule)
			if v > prev+1e-12 {
				t.Errorf("%s decay increased at iteration %d: %v -> %v", schedule, iter, prev, v)
			}
			if v < 0 {
				t.Errorf("%s decay went negative at iteration %d: %v", schedule, iter, v)
			}
			prev = v
		}
		if first := decay(1.0, 0, maxIter, schedule); math.Abs(first-1.0) > 1e-9 {
			t.Errorf("%s decay at iteration 0 = %v, expected initial value", schedule, first)
		}
	}
}

func TestNeighborhoodFunctions(t *testing.T) {
	const sigma = 1.5

	// Gaussian peaks at zero distance and decreases monotonically.
	if v := neighborhoodValue(NeighborhoodGaussian, 0, sigma); math.Abs(v-1.0) > 1e-12 {
		t.Errorf("Gaussian at d=0 = %v, expected 1", v)
	}
	if neighborhoodValue(NeighborhoodGaussian, 1, sigma) <= neighborhoodValue(NeighborhoodGaussian, 2, sigma) {
		t.Error("Gaussian should decrease with distance")
	}

	// Bubble is an indicator on the radius.
	if v := neighborhoodValue(NeighborhoodBubble, sigma-0.1, sigma); v != 1.0 {
		t.Errorf("Bubble inside radius = %v, expected 1", v)
	}
	if v := neighborhoodValue(NeighborhoodBubble, sigma+0.1, sigma); v != 0.0 {
		t.Errorf("Bubble outside radius = %v, expected 0", v)
	}

	// Mexican hat is positive at the center and negative in the surround.
	if v := neighborhoodValue(NeighborhoodMexicanHat, 0, sigma); v <= 0 {
		t.Errorf("Mexican hat at d=0 = %v, expected positive", v)
	}
	if v := neighborhoodValue(NeighborhoodMexicanHat, 2.5*sigma, sigma); v >= 0 {
		t.Errorf("Mexican hat in surround = %v, expected negative", v)
	}
}

func TestSOMUMatrixDimensions(t *testing.T) {
	som := NewSOM(WithSOMGridSize(3), WithSOMMaxIter(50))
	if err := som.Fit(twoBlobs()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	u, err := som.UMatrix()
	if err != nil {
		t.Fatalf("UMatrix failed: %v", err)
	}
	if len(u) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(u))
	}
	for i, row := range u {
		if len(row) != 3 {
			t.Fatalf("Row %d has %d columns, expected 3", i, len(row))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("U-matrix[%d][%d] = %v, expected finite", i, j, v)
			}
		}
	}
}

func TestSOMHistoryRecorded(t *testing.T) {
	som := NewSOM(WithSOMGridSize(2), WithSOMMaxIter(100))
	if err := som.Fit(twoBlobs()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	h := som.TrainingHistory()
	// Sampled at iterations 0, 10, ..., 90.
	if len(h.Iteration) != 10 {
		t.Fatalf("Expected 10 history points, got %d", len(h.Iteration))
	}
	for i := range h.Iteration {
		if h.QuantizationError[i] < 0 {
			t.Errorf("Quantization error %d negative: %v", i, h.QuantizationError[i])
		}
		te := h.TopographicError[i]
		if te < 0 || te > 1 {
			t.Errorf("Topographic error %d out of [0,1]: %v", i, te)
		}
	}
}

func TestSOMWriteReport(t *testing.T) {
	X := twoBlobs()
	som := NewSOM(WithSOMGridSize(2), WithSOMMaxIter(50), WithSOMRandomState(7))
	if err := som.Fit(X); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	dir := t.TempDir()
	if err := som.WriteReport(dir, X); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ReportFileName))
	if err != nil {
		t.Fatalf("Report file not written: %v", err)
	}
	html := string(data)
	for _, tab := range []string{"U-Matrix", "Weights", "History"} {
		if !strings.Contains(html, tab) {
			t.Errorf("Report is missing the %q tab", tab)
		}
	}
	if !strings.Contains(html, "<svg") {
		t.Error("Report contains no rendered charts")
	}
}

func TestSOMWriteReportBeforeFit(t *testing.T) {
	som := NewSOM(WithSOMGridSize(2))
	if err := som.WriteReport(t.TempDir(), twoBlobs()); !errors.Is(err, errors.ErrNotFitted) {
		t.Errorf("WriteReport before Fit returned %v, expected ErrNotFitted", err)
	}
}
