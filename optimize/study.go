package optimize

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
)

// Trial is one completed evaluation of a Study. Value is the minimized
// cross-validation MAE.
type Trial struct {
	Number int
	Params Params
	Value  float64
}

// TrialCallback fires after every completed trial with the running best.
type TrialCallback func(trial, total int, best float64)

// Study minimizes the cross-validated MAE with a seeded TPE sampler.
// Enqueued parameters are evaluated before any sampled ones, which is how
// hybrid search warm-starts from the Bayesian stage's best.
type Study struct {
	Space     Space
	Objective Scorer
	NTrials   int
	Timeout   time.Duration
	Seed      int64
	Cancel    *runctl.Flag
	Callback  TrialCallback

	// Trials holds every completed trial in execution order.
	Trials []Trial

	queue   []Params
	sampler *tpeSampler
	logger  log.Logger
}

// NewStudy builds a TPE study over the given space and objective. A zero
// timeout disables the wall-clock limit.
func NewStudy(space Space, obj Scorer, nTrials int, timeout time.Duration, seed int64, cancel *runctl.Flag) *Study {
	return &Study{
		Space:     space,
		Objective: obj,
		NTrials:   nTrials,
		Timeout:   timeout,
		Seed:      seed,
		Cancel:    cancel,
		sampler:   newTPESampler(space),
		logger:    log.GetLoggerWithName("Study"),
	}
}

// Enqueue schedules p to be evaluated before any sampled trial, in enqueue
// order.
func (s *Study) Enqueue(p Params) {
	s.queue = append(s.queue, p)
}

// Run executes up to NTrials trials, stopping early on timeout or
// cancellation. It returns the best parameters and value found. On
// cancellation the error satisfies errors.Is(err, errors.ErrInterrupted);
// any other non-nil error is a genuine failure.
func (s *Study) Run() (Params, float64, error) {
	rng := rand.New(rand.NewPCG(uint64(s.Seed), uint64(s.Seed)))
	start := time.Now()

	best := math.Inf(1)
	var bestParams Params

	for t := 0; t < s.NTrials; t++ {
		if s.Cancel.IsSet() {
			return bestParams, best, errors.Wrap(errors.ErrInterrupted, "Study.Run")
		}
		if s.Timeout > 0 && time.Since(start) >= s.Timeout {
			s.logger.Info("study timeout reached", "completed", t, "elapsed", time.Since(start).String())
			break
		}

		var p Params
		if len(s.queue) > 0 {
			p, s.queue = s.queue[0], s.queue[1:]
		} else {
			p = s.sampler.sample(rng, s.Trials)
		}

		value, err := s.Objective.Score(p)
		if err != nil {
			if errors.Is(err, errors.ErrInterrupted) {
				return bestParams, best, err
			}
			return bestParams, best, errors.Wrap(err, "Study.Run: trial failed")
		}

		s.Trials = append(s.Trials, Trial{Number: t + 1, Params: p, Value: value})
		if value < best {
			best = value
			bestParams = p
		}
		s.logger.Info("trial complete", "trial", t+1, "total", s.NTrials,
			"value", value, "best", best)
		if s.Callback != nil {
			s.Callback(t+1, s.NTrials, best)
		}
	}
	return bestParams, best, nil
}
