package trainer

import "sync"

// ProgressEvent is one observable step of a training run. Percent is in
// [0, 100] and never decreases within a run.
type ProgressEvent struct {
	Percent float64
	Phase   string
	Message string
}

// ProgressSink fans training progress out to a controller. Publishing never
// blocks the worker: when the buffer is full the event is dropped, since a
// newer event supersedes it anyway.
type ProgressSink struct {
	mu     sync.Mutex
	ch     chan ProgressEvent
	last   float64
	closed bool
}

// NewProgressSink creates a sink with the given channel buffer.
func NewProgressSink(buffer int) *ProgressSink {
	if buffer < 1 {
		buffer = 16
	}
	return &ProgressSink{ch: make(chan ProgressEvent, buffer)}
}

// Events is the controller's receive side. It is closed when the run ends.
func (s *ProgressSink) Events() <-chan ProgressEvent {
	return s.ch
}

// publish clamps percent to be monotonically non-decreasing and emits the
// event without blocking. A nil sink is a no-op.
func (s *ProgressSink) publish(percent float64, phase, message string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if percent < s.last {
		percent = s.last
	}
	if percent > 100 {
		percent = 100
	}
	s.last = percent

	select {
	case s.ch <- ProgressEvent{Percent: percent, Phase: phase, Message: message}:
	default:
	}
}

// close ends the event stream. Safe to call once per run.
func (s *ProgressSink) close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
