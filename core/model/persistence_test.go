package model_test

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/core/model"
	"github.com/prismlab/refindex/preprocessing"
)

func TestSaveLoadModel(t *testing.T) {
	scaler := preprocessing.NewStandardScaler()
	X := mat.NewDense(4, 2, []float64{
		1.0, 10.0,
		2.0, 20.0,
		3.0, 30.0,
		4.0, 40.0,
	})
	if err := scaler.Fit(X); err != nil {
		t.Fatalf("Failed to fit scaler: %v", err)
	}
	original, err := scaler.Transform(X)
	if err != nil {
		t.Fatalf("Failed to transform with original scaler: %v", err)
	}

	path := filepath.Join(t.TempDir(), "sub", "scaler.gob")
	if err := model.SaveModel(scaler, path); err != nil {
		t.Fatalf("Failed to save model: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Saved model file missing: %v", err)
	}

	loaded := preprocessing.NewStandardScaler()
	if err := model.LoadModel(loaded, path); err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	if !loaded.IsFitted() {
		t.Fatal("Loaded scaler should be fitted")
	}

	restored, err := loaded.Transform(X)
	if err != nil {
		t.Fatalf("Failed to transform with loaded scaler: %v", err)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(original.At(i, j)-restored.At(i, j)) > 1e-12 {
				t.Errorf("Output [%d][%d] differs after round trip: %v vs %v",
					i, j, original.At(i, j), restored.At(i, j))
			}
		}
	}
}

func TestSaveLoadModelWriterReader(t *testing.T) {
	scaler := preprocessing.NewStandardScaler()
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	if err := scaler.Fit(X); err != nil {
		t.Fatalf("Failed to fit scaler: %v", err)
	}

	var buf bytes.Buffer
	if err := model.SaveModelToWriter(scaler, &buf); err != nil {
		t.Fatalf("Failed to save to writer: %v", err)
	}

	loaded := preprocessing.NewStandardScaler()
	if err := model.LoadModelFromReader(loaded, &buf); err != nil {
		t.Fatalf("Failed to load from reader: %v", err)
	}
	if !loaded.IsFitted() {
		t.Fatal("Loaded scaler should be fitted")
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	loaded := preprocessing.NewStandardScaler()
	if err := model.LoadModel(loaded, filepath.Join(t.TempDir(), "nope.gob")); err == nil {
		t.Error("Loading a missing file should fail")
	}
}

func TestStateManager(t *testing.T) {
	sm := model.NewStateManager()
	if sm.IsFitted() {
		t.Error("New state manager should not be fitted")
	}
	if err := sm.RequireFitted(); err == nil {
		t.Error("RequireFitted should fail before fitting")
	}

	sm.SetDimensions(3, 100)
	sm.SetFitted()
	if !sm.IsFitted() {
		t.Error("State manager should be fitted after SetFitted")
	}
	nFeatures, nSamples := sm.GetDimensions()
	if nFeatures != 3 || nSamples != 100 {
		t.Errorf("Dimensions = (%d, %d), expected (3, 100)", nFeatures, nSamples)
	}

	sm.Reset()
	if sm.IsFitted() {
		t.Error("State manager should not be fitted after Reset")
	}
}
