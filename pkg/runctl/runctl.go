// Package runctl carries the cross-cutting run-control primitives shared by
// the clustering, search, and training code: the cooperative cancellation
// flag and the progress callback contract.
package runctl

import "sync/atomic"

// Flag is the cooperative cancellation flag. The controller sets it once per
// run; workers poll it at phase boundaries with latest-value semantics.
// A nil *Flag is never set.
type Flag struct {
	v atomic.Bool
}

// NewFlag returns an unset flag.
func NewFlag() *Flag {
	return &Flag{}
}

// Set requests cancellation.
func (f *Flag) Set() {
	if f != nil {
		f.v.Store(true)
	}
}

// IsSet reports whether cancellation has been requested.
func (f *Flag) IsSet() bool {
	return f != nil && f.v.Load()
}

// Reset clears the flag for a new run.
func (f *Flag) Reset() {
	if f != nil {
		f.v.Store(false)
	}
}

// ProgressFunc reports partial progress of a long-running phase. It must be
// safe to call frequently and is eventually called with current == total.
// Callers throttle their own UI updates.
type ProgressFunc func(current, total int, description string)

// Report invokes p if non-nil.
func (p ProgressFunc) Report(current, total int, description string) {
	if p != nil {
		p(current, total, description)
	}
}
