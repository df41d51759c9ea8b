package errors_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prismlab/refindex/pkg/errors"
)

func TestNotFittedErrorChain(t *testing.T) {
	err := errors.NewNotFittedError("SOM", "Predict")

	if !errors.Is(err, errors.ErrNotFitted) {
		t.Error("NotFittedError should match ErrNotFitted")
	}
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Fatal("errors.As should find NotFittedError")
	}
	if nf.ModelName != "SOM" || nf.Method != "Predict" {
		t.Errorf("unexpected fields: %+v", nf)
	}
	if !strings.Contains(err.Error(), "SOM.Predict") {
		t.Errorf("message should name the call site, got %q", err.Error())
	}
}

func TestModelErrorWrapping(t *testing.T) {
	err := errors.NewModelError("KMeans.Fit", "empty data", errors.ErrEmptyData)

	if !errors.Is(err, errors.ErrEmptyData) {
		t.Error("ModelError should unwrap to its cause")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	var me *errors.ModelError
	if !errors.As(wrapped, &me) {
		t.Error("errors.As should find ModelError through fmt wrapping")
	}
}

func TestDimensionErrorMessage(t *testing.T) {
	err := errors.NewDimensionError("Transform", 3, 5, 1)
	msg := err.Error()
	if !strings.Contains(msg, "columns") || !strings.Contains(msg, "3") || !strings.Contains(msg, "5") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestInterruptedSentinel(t *testing.T) {
	err := errors.Wrapf(errors.ErrInterrupted, "training stopped at iteration %d", 40)
	if !errors.Is(err, errors.ErrInterrupted) {
		t.Error("wrapped interruption should still match the sentinel")
	}
	if errors.Is(err, errors.ErrNotFitted) {
		t.Error("interruption must not match unrelated sentinels")
	}
}

func TestRecover(t *testing.T) {
	fn := func() (err error) {
		defer errors.Recover(&err, "panickyOp")
		panic("index out of range")
	}
	err := fn()
	if err == nil {
		t.Fatal("Recover should convert the panic into an error")
	}
	if !strings.Contains(err.Error(), "panickyOp") {
		t.Errorf("recovered error should name the operation, got %q", err.Error())
	}
}
