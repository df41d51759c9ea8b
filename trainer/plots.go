package trainer

import (
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/report"
)

// ResultsFileName is the diagnostic plot report in each run directory.
const ResultsFileName = "training_results.html"

// writeResultPlots renders cluster occupancy and test-split prediction
// quality into the run directory. Advisory only.
func writeResultPlots(runDir string, trainClusters []int, testY, preds []float64) error {
	var tabs []report.Tab

	if tab, err := clusterSizesTab(trainClusters); err == nil {
		tabs = append(tabs, tab)
	} else {
		return err
	}
	if tab, err := predictionsTab(testY, preds); err == nil {
		tabs = append(tabs, tab)
	} else {
		return err
	}
	return report.WriteTabbedHTML(filepath.Join(runDir, ResultsFileName),
		"Training results", tabs)
}

func clusterSizesTab(clusters []int) (report.Tab, error) {
	counts := make(map[int]int)
	for _, c := range clusters {
		counts[c]++
	}
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	values := make(plotter.Values, len(ids))
	for i, id := range ids {
		values[i] = float64(counts[id])
	}

	p := plot.New()
	p.Title.Text = "Cluster sizes"
	p.X.Label.Text = "cluster"
	p.Y.Label.Text = "samples"

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "cluster size bars")
	}
	p.Add(bars)

	svg, err := report.RenderSVG(p, 7*vg.Inch, 5*vg.Inch)
	if err != nil {
		return report.Tab{}, err
	}
	return report.Tab{Name: "Clusters", SVG: svg}, nil
}

func predictionsTab(testY, preds []float64) (report.Tab, error) {
	if len(testY) == 0 {
		return report.Tab{}, errors.NewValueError("predictionsTab", "empty test split")
	}
	pts := make(plotter.XYs, len(testY))
	lo, hi := testY[0], testY[0]
	for i := range testY {
		pts[i].X = testY[i]
		pts[i].Y = preds[i]
		if testY[i] < lo {
			lo = testY[i]
		}
		if testY[i] > hi {
			hi = testY[i]
		}
	}

	p := plot.New()
	p.Title.Text = "Test predictions"
	p.X.Label.Text = "actual refractive index"
	p.Y.Label.Text = "predicted refractive index"

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "prediction scatter")
	}
	ident, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "identity line")
	}
	ident.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(scatter, ident)
	p.Legend.Add("predictions", scatter)
	p.Legend.Add("ideal", ident)

	svg, err := report.RenderSVG(p, 7*vg.Inch, 5*vg.Inch)
	if err != nil {
		return report.Tab{}, err
	}
	return report.Tab{Name: "Predictions", SVG: svg}, nil
}
