package cluster

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/pkg/errors"
)

func threeBlobs() *mat.Dense {
	data := make([]float64, 0, 90)
	centers := [][2]float64{{0, 0}, {10, 10}, {-10, 10}}
	for _, c := range centers {
		for i := 0; i < 15; i++ {
			data = append(data, c[0]+0.05*float64(i%5), c[1]+0.05*float64(i%3))
		}
	}
	return mat.NewDense(45, 2, data)
}

func TestKMeansFitGroupsBlobs(t *testing.T) {
	km := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(42))
	X := threeBlobs()

	labels, err := km.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	if len(labels) != 45 {
		t.Fatalf("Expected 45 labels, got %d", len(labels))
	}

	// Each 15-sample blob must land in exactly one cluster, distinct per
	// blob.
	seen := make(map[int]bool)
	for blob := 0; blob < 3; blob++ {
		first := labels[blob*15]
		for i := 1; i < 15; i++ {
			if labels[blob*15+i] != first {
				t.Errorf("Blob %d split across clusters", blob)
				break
			}
		}
		if seen[first] {
			t.Errorf("Blob %d shares cluster %d with another blob", blob, first)
		}
		seen[first] = true
	}
}

func TestKMeansPredictConsistentWithFit(t *testing.T) {
	X := threeBlobs()

	km := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(1))
	if err := km.Fit(X); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	predicted, err := km.Predict(X)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	fitted := km.Labels()
	for i := range fitted {
		if fitted[i] != predicted[i] {
			t.Errorf("Label %d differs: fit=%d predict=%d", i, fitted[i], predicted[i])
		}
	}
}

func TestKMeansDeterministicWithSeed(t *testing.T) {
	X := threeBlobs()

	a := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(42))
	b := NewKMeans(WithKMeansNClusters(3), WithKMeansRandomState(42))
	labelsA, err := a.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	labelsB, err := b.FitPredict(X)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	for i := range labelsA {
		if labelsA[i] != labelsB[i] {
			t.Fatalf("Same seed produced different labels at %d", i)
		}
	}
}

func TestKMeansInertiaNonNegative(t *testing.T) {
	km := NewKMeans(WithKMeansNClusters(2))
	if err := km.Fit(threeBlobs()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if km.Inertia < 0 {
		t.Errorf("Inertia = %v, expected non-negative", km.Inertia)
	}
}

func TestKMeansErrors(t *testing.T) {
	km := NewKMeans(WithKMeansNClusters(3))

	if _, err := km.Predict(threeBlobs()); !errors.Is(err, errors.ErrNotFitted) {
		t.Errorf("Predict before Fit: expected ErrNotFitted, got %v", err)
	}

	// More clusters than samples cannot be satisfied.
	tiny := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	km = NewKMeans(WithKMeansNClusters(5))
	if err := km.Fit(tiny); err == nil {
		t.Error("Fit with k > n should fail")
	}
}
