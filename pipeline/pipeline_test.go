package pipeline_test

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/core/model"
	"github.com/prismlab/refindex/pipeline"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/runctl"
)

func blobData() *mat.Dense {
	data := make([]float64, 0, 60)
	centers := [][2]float64{{0, 0}, {8, 8}, {-8, 8}}
	for _, c := range centers {
		for i := 0; i < 10; i++ {
			data = append(data, c[0]+0.1*float64(i%4), c[1]+0.1*float64(i%3))
		}
	}
	return mat.NewDense(30, 2, data)
}

func TestPipelineTrainingMode(t *testing.T) {
	p := pipeline.NewDataPipeline(cluster.MethodKMeans,
		pipeline.WithClusterer(cluster.NewKMeans(cluster.WithKMeansNClusters(3))))

	X := blobData()
	scaled, labels, err := p.Process(X, true)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !p.IsFitted() {
		t.Fatal("Pipeline should report fitted after training")
	}

	rows, cols := scaled.Dims()
	if rows != 30 || cols != 2 {
		t.Fatalf("Scaled output %dx%d, expected 30x2", rows, cols)
	}
	if len(labels) != 30 {
		t.Fatalf("Expected 30 labels, got %d", len(labels))
	}
	for i, l := range labels {
		if l < 0 || l >= p.NumClusters() {
			t.Errorf("Label %d = %d out of range", i, l)
		}
	}
}

func TestPipelineInferenceBeforeTraining(t *testing.T) {
	p := pipeline.NewDataPipeline(cluster.MethodKMeans)
	if _, _, err := p.Process(blobData(), false); !errors.Is(err, errors.ErrNotFitted) {
		t.Errorf("Expected ErrNotFitted, got %v", err)
	}
}

func TestPipelineInferenceDoesNotRefit(t *testing.T) {
	p := pipeline.NewDataPipeline(cluster.MethodKMeans,
		pipeline.WithClusterer(cluster.NewKMeans(cluster.WithKMeansNClusters(3))))

	X := blobData()
	_, trainLabels, err := p.Process(X, true)
	if err != nil {
		t.Fatalf("Training process failed: %v", err)
	}

	// Re-processing the same rows in inference mode must reproduce the
	// training assignments exactly.
	_, inferLabels, err := p.Process(X, false)
	if err != nil {
		t.Fatalf("Inference process failed: %v", err)
	}
	for i := range trainLabels {
		if trainLabels[i] != inferLabels[i] {
			t.Errorf("Label %d changed between training and inference: %d vs %d",
				i, trainLabels[i], inferLabels[i])
		}
	}
}

func TestPipelineSanitizesNaN(t *testing.T) {
	// Third feature carries a NaN; the clean blob features keep the
	// clustering well posed.
	blobs := blobData()
	rows, _ := blobs.Dims()
	X := mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		X.Set(i, 0, blobs.At(i, 0))
		X.Set(i, 1, blobs.At(i, 1))
		X.Set(i, 2, float64(i))
	}
	X.Set(0, 2, math.NaN())

	p := pipeline.NewDataPipeline(cluster.MethodKMeans,
		pipeline.WithClusterer(cluster.NewKMeans(cluster.WithKMeansNClusters(2))))
	scaled, labels, err := p.Process(X, true)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(labels) != rows {
		t.Fatalf("Got %d labels, expected %d", len(labels), rows)
	}

	sr, sc := scaled.Dims()
	for i := 0; i < sr; i++ {
		for j := 0; j < sc; j++ {
			v := scaled.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("Scaled output [%d][%d] not finite: %v", i, j, v)
			}
		}
	}
	// A NaN poisons the fitted statistics of its column, so the whole
	// scaled column collapses to the replacement value.
	for i := 0; i < sr; i++ {
		if scaled.At(i, 2) != 0 {
			t.Fatalf("Scaled column 2 row %d = %v, expected 0", i, scaled.At(i, 2))
		}
	}
	// Clean columns are standardized, not zeroed.
	var nonZero bool
	for i := 0; i < sr; i++ {
		if scaled.At(i, 0) != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatal("Clean column was zeroed by sanitation")
	}
}

func TestPipelineProgressMilestones(t *testing.T) {
	p := pipeline.NewDataPipeline(cluster.MethodKMeans,
		pipeline.WithClusterer(cluster.NewKMeans(cluster.WithKMeansNClusters(2))))

	var descriptions []string
	progress := runctl.ProgressFunc(func(current, total int, description string) {
		descriptions = append(descriptions, description)
	})

	if _, _, err := p.Process(blobData(), true, pipeline.WithProgress(progress)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := map[string]bool{"standardization complete": false, "clustering complete": false}
	for _, d := range descriptions {
		if _, ok := want[d]; ok {
			want[d] = true
		}
	}
	for milestone, seen := range want {
		if !seen {
			t.Errorf("Milestone %q was not reported", milestone)
		}
	}
}

func TestPipelineCancelledSOM(t *testing.T) {
	p := pipeline.NewDataPipeline(cluster.MethodSOM,
		pipeline.WithClusterer(cluster.NewSOM(cluster.WithSOMGridSize(2), cluster.WithSOMMaxIter(200))))

	flag := runctl.NewFlag()
	flag.Set()
	_, _, err := p.Process(blobData(), true, pipeline.WithCancel(flag))
	if !errors.Is(err, errors.ErrInterrupted) {
		t.Fatalf("Expected ErrInterrupted, got %v", err)
	}
}

func TestPipelineGobRoundTrip(t *testing.T) {
	p := pipeline.NewDataPipeline(cluster.MethodKMeans,
		pipeline.WithClusterer(cluster.NewKMeans(cluster.WithKMeansNClusters(3))))

	X := blobData()
	if _, _, err := p.Process(X, true); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "pipeline.gob")
	if err := model.SaveModel(p, path); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	loaded := &pipeline.DataPipeline{}
	if err := model.LoadModel(loaded, path); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if !loaded.IsFitted() {
		t.Fatal("Loaded pipeline should be fitted")
	}

	_, origLabels, err := p.Process(X, false)
	if err != nil {
		t.Fatalf("Original inference failed: %v", err)
	}
	_, loadedLabels, err := loaded.Process(X, false)
	if err != nil {
		t.Fatalf("Loaded inference failed: %v", err)
	}
	for i := range origLabels {
		if origLabels[i] != loadedLabels[i] {
			t.Errorf("Label %d differs after round trip: %d vs %d", i, origLabels[i], loadedLabels[i])
		}
	}
}

func TestPipelineNormalizeLegacyKMeans(t *testing.T) {
	km := cluster.NewKMeans(cluster.WithKMeansNClusters(2))
	if err := km.Fit(blobData()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	p := &pipeline.DataPipeline{LegacyKMeans: km}
	if !p.Normalize() {
		t.Fatal("Normalize should report a migration")
	}
	if p.Clusterer == nil || p.Method != cluster.MethodKMeans {
		t.Errorf("Legacy clusterer not migrated: clusterer=%v method=%q", p.Clusterer, p.Method)
	}
	if p.LegacyKMeans != nil {
		t.Error("Legacy field should be cleared after migration")
	}
}

func TestPipelineNormalizeMissingClusterer(t *testing.T) {
	p := &pipeline.DataPipeline{}
	if !p.Normalize() {
		t.Fatal("Normalize should report a migration")
	}
	if p.Clusterer == nil {
		t.Fatal("Normalize should install a default clusterer")
	}
	if p.Clusterer.IsFitted() {
		t.Error("Installed default must be unfitted")
	}
}
