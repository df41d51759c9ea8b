package runctl

import "testing"

func TestFlagSetReset(t *testing.T) {
	f := NewFlag()
	if f.IsSet() {
		t.Error("new flag should not be set")
	}
	f.Set()
	if !f.IsSet() {
		t.Error("flag should be set after Set")
	}
	f.Reset()
	if f.IsSet() {
		t.Error("flag should not be set after Reset")
	}
}

func TestFlagNilSafety(t *testing.T) {
	var f *Flag
	f.Set()
	f.Reset()
	if f.IsSet() {
		t.Error("nil flag should never report set")
	}
}

func TestProgressFuncNilSafety(t *testing.T) {
	var p ProgressFunc
	p.Report(1, 10, "should not panic")

	called := false
	p = func(current, total int, description string) {
		called = true
		if current != 3 || total != 10 || description != "step" {
			t.Errorf("unexpected report: %d/%d %q", current, total, description)
		}
	}
	p.Report(3, 10, "step")
	if !called {
		t.Error("progress func was not called")
	}
}
