package optimize

import (
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/report"
)

// HistoryFileName is the optimization report written into each run
// directory.
const HistoryFileName = "optimization_history.html"

// WriteHistory renders the optimization history chart into dir. Study trials
// plot per-trial MAE and the running best; a non-empty Bayesian history is
// overlaid as a second pair of curves, its targets converted back to MAE.
//
// The report is advisory. Callers log a failed write and move on.
func WriteHistory(dir string, trials []Trial, bayes []BayesTrial) error {
	if len(trials) == 0 && len(bayes) == 0 {
		return errors.NewValueError("optimize.WriteHistory", "no trials to plot")
	}

	p := plot.New()
	p.Title.Text = "Optimization history"
	p.X.Label.Text = "trial"
	p.Y.Label.Text = "cross-validation MAE"

	if len(trials) > 0 {
		values, best := trialCurves(trials)
		if err := addCurvePair(p, values, best, "TPE"); err != nil {
			return err
		}
	}
	if len(bayes) > 0 {
		values, best := bayesCurves(bayes)
		if err := addCurvePair(p, values, best, "Bayesian"); err != nil {
			return err
		}
	}

	svg, err := report.RenderSVG(p, 7*vg.Inch, 5*vg.Inch)
	if err != nil {
		return err
	}
	return report.WriteTabbedHTML(filepath.Join(dir, HistoryFileName),
		"Optimization history", []report.Tab{{Name: "History", SVG: svg}})
}

func trialCurves(trials []Trial) (values, best plotter.XYs) {
	running := math.Inf(1)
	for i, tr := range trials {
		v := clampForPlot(tr.Value)
		if v < running {
			running = v
		}
		values = append(values, plotter.XY{X: float64(i + 1), Y: v})
		best = append(best, plotter.XY{X: float64(i + 1), Y: running})
	}
	return values, best
}

func bayesCurves(bayes []BayesTrial) (values, best plotter.XYs) {
	for i, tr := range bayes {
		values = append(values, plotter.XY{X: float64(i + 1), Y: clampForPlot(-tr.Target)})
		best = append(best, plotter.XY{X: float64(i + 1), Y: clampForPlot(-tr.Best)})
	}
	return values, best
}

// clampForPlot keeps penalized trials on the chart without flattening the
// interesting range to nothing.
func clampForPlot(v float64) float64 {
	if math.IsInf(v, 1) || math.IsNaN(v) || v > penaltyTarget {
		return penaltyTarget
	}
	return v
}

func addCurvePair(p *plot.Plot, values, best plotter.XYs, label string) error {
	scatter, err := plotter.NewScatter(values)
	if err != nil {
		return errors.Wrap(err, "trial scatter")
	}
	line, err := plotter.NewLine(best)
	if err != nil {
		return errors.Wrap(err, "running-best line")
	}
	if label == "Bayesian" {
		line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	}
	p.Add(scatter, line)
	p.Legend.Add(label+" trials", scatter)
	p.Legend.Add(label+" best", line)
	return nil
}
