package cluster

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/report"
)

// ReportFileName is the SOM diagnostic report written into a model
// directory after a SOM-clustered training run.
const ReportFileName = "som_visualization.html"

// maxComponentPlanes bounds the per-feature heatmap tabs in the report.
const maxComponentPlanes = 12

// WriteReport writes the SOM visualization report into dir: U-matrix
// heatmap, weight positions against the (PCA-projected) training data,
// training-history curves, and per-feature component planes. Purely
// diagnostic; the training run never reads it back.
func (s *SOM) WriteReport(dir string, X mat.Matrix) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError("SOM", "WriteReport")
	}

	var tabs []report.Tab

	if tab, err := s.uMatrixTab(); err == nil {
		tabs = append(tabs, tab)
	} else {
		s.logger.Warn("U-matrix chart failed", "error", err)
	}

	if tab, err := s.weightsTab(X); err == nil {
		tabs = append(tabs, tab)
	} else {
		s.logger.Warn("weights chart failed", "error", err)
	}

	if tab, err := s.historyTab(); err == nil {
		tabs = append(tabs, tab)
	} else {
		s.logger.Warn("history chart failed", "error", err)
	}

	planes := s.NFeatures
	if planes > maxComponentPlanes {
		planes = maxComponentPlanes
	}
	for f := 0; f < planes; f++ {
		tab, err := s.componentPlaneTab(f)
		if err != nil {
			s.logger.Warn("component plane chart failed", "feature", f, "error", err)
			continue
		}
		tabs = append(tabs, tab)
	}

	path := filepath.Join(dir, ReportFileName)
	if err := report.WriteTabbedHTML(path, "SOM Training Report", tabs); err != nil {
		return err
	}
	s.logger.Info("SOM visualization report saved", "path", path)
	return nil
}

// heatGrid adapts a row-major value grid to plotter.GridXYZ.
type heatGrid struct {
	z [][]float64
}

func (g heatGrid) Dims() (c, r int)   { return len(g.z[0]), len(g.z) }
func (g heatGrid) Z(c, r int) float64 { return g.z[r][c] }
func (g heatGrid) X(c int) float64    { return float64(c) }
func (g heatGrid) Y(r int) float64    { return float64(r) }

func heatmapPlot(title string, z [][]float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "grid column"
	p.Y.Label.Text = "grid row"

	hm := plotter.NewHeatMap(heatGrid{z: z}, palette.Heat(128, 1))
	p.Add(hm)
	return p, nil
}

func (s *SOM) uMatrixTab() (report.Tab, error) {
	u, err := s.UMatrix()
	if err != nil {
		return report.Tab{}, err
	}
	p, err := heatmapPlot("U-Matrix (unified distance matrix)", u)
	if err != nil {
		return report.Tab{}, err
	}
	svg, err := report.RenderSVG(p, 7*vg.Inch, 6*vg.Inch)
	if err != nil {
		return report.Tab{}, err
	}
	return report.Tab{Name: "U-Matrix", SVG: svg}, nil
}

// weightsTab plots neurons and data points together. High-dimensional data
// is projected onto its top-2 principal components; the neuron weights go
// through the same projection.
func (s *SOM) weightsTab(X mat.Matrix) (report.Tab, error) {
	rows, cols := X.Dims()

	dataXY := make(plotter.XYs, rows)
	neuronXY := make(plotter.XYs, len(s.Weights))

	if cols == 2 {
		for i := 0; i < rows; i++ {
			dataXY[i].X = X.At(i, 0)
			dataXY[i].Y = X.At(i, 1)
		}
		for c, w := range s.Weights {
			neuronXY[c].X = w[0]
			neuronXY[c].Y = w[1]
		}
	} else {
		mean, pc1, pc2, ok := principalAxes(X)
		if !ok {
			return report.Tab{}, errors.NewValueError("SOM.weightsTab", "PCA projection unavailable")
		}
		project := func(v []float64) (x, y float64) {
			for f := 0; f < cols; f++ {
				x += (v[f] - mean[f]) * pc1[f]
				y += (v[f] - mean[f]) * pc2[f]
			}
			return x, y
		}
		for i := 0; i < rows; i++ {
			dataXY[i].X, dataXY[i].Y = project(mat.Row(nil, i, X))
		}
		for c, w := range s.Weights {
			neuronXY[c].X, neuronXY[c].Y = project(w)
		}
	}

	p := plot.New()
	p.Title.Text = "Weight positions"
	if cols == 2 {
		p.X.Label.Text = "feature 0"
		p.Y.Label.Text = "feature 1"
	} else {
		p.X.Label.Text = "PC1"
		p.Y.Label.Text = "PC2"
	}

	dataScatter, err := plotter.NewScatter(dataXY)
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "data scatter")
	}
	neuronScatter, err := plotter.NewScatter(neuronXY)
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "neuron scatter")
	}
	neuronScatter.GlyphStyle.Shape = draw.CrossGlyph{}
	neuronScatter.GlyphStyle.Radius = vg.Points(4)

	// Grid edges between adjacent neurons.
	gs := s.GridSize
	for i := 0; i < gs; i++ {
		for j := 0; j < gs; j++ {
			from := i*gs + j
			if i < gs-1 {
				addEdge(p, neuronXY, from, (i+1)*gs+j)
			}
			if j < gs-1 {
				addEdge(p, neuronXY, from, i*gs+j+1)
			}
		}
	}

	p.Add(dataScatter, neuronScatter)
	p.Legend.Add("data", dataScatter)
	p.Legend.Add("neurons", neuronScatter)

	svg, err := report.RenderSVG(p, 7*vg.Inch, 6*vg.Inch)
	if err != nil {
		return report.Tab{}, err
	}
	return report.Tab{Name: "Weights", SVG: svg}, nil
}

func addEdge(p *plot.Plot, pts plotter.XYs, a, b int) {
	line, err := plotter.NewLine(plotter.XYs{pts[a], pts[b]})
	if err != nil {
		return
	}
	p.Add(line)
}

func (s *SOM) historyTab() (report.Tab, error) {
	h := s.Hist
	if len(h.Iteration) == 0 {
		return report.Tab{}, errors.NewValueError("SOM.historyTab", "empty training history")
	}

	qe := make(plotter.XYs, len(h.Iteration))
	te := make(plotter.XYs, len(h.Iteration))
	for i, iter := range h.Iteration {
		qe[i].X = float64(iter)
		qe[i].Y = h.QuantizationError[i]
		te[i].X = float64(iter)
		te[i].Y = h.TopographicError[i]
	}

	p := plot.New()
	p.Title.Text = "Training history"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "error"

	qeLine, err := plotter.NewLine(qe)
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "quantization error line")
	}
	teLine, err := plotter.NewLine(te)
	if err != nil {
		return report.Tab{}, errors.Wrap(err, "topographic error line")
	}
	teLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(qeLine, teLine)
	p.Legend.Add("quantization error", qeLine)
	p.Legend.Add("topographic error", teLine)

	svg, err := report.RenderSVG(p, 7*vg.Inch, 5*vg.Inch)
	if err != nil {
		return report.Tab{}, err
	}
	return report.Tab{Name: "History", SVG: svg}, nil
}

func (s *SOM) componentPlaneTab(feature int) (report.Tab, error) {
	gs := s.GridSize
	z := make([][]float64, gs)
	for i := 0; i < gs; i++ {
		z[i] = make([]float64, gs)
		for j := 0; j < gs; j++ {
			z[i][j] = s.Weights[i*gs+j][feature]
		}
	}
	p, err := heatmapPlot(fmt.Sprintf("Component plane - feature %d", feature), z)
	if err != nil {
		return report.Tab{}, err
	}
	svg, err := report.RenderSVG(p, 6*vg.Inch, 5*vg.Inch)
	if err != nil {
		return report.Tab{}, err
	}
	return report.Tab{Name: fmt.Sprintf("Component %d", feature), SVG: svg}, nil
}
