package trainer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prismlab/refindex/core/model"
	"github.com/prismlab/refindex/optimize"
	"github.com/prismlab/refindex/pipeline"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/regression"
)

// Artifact file layout inside a run directory.
const (
	ModelsSubdir  = "models"
	ModelFileName = "pretrained_model.gob"
)

// ArtifactVersion is the current on-disk format version.
const ArtifactVersion = 2

// Artifact is the serialized training result. Every field must survive a
// save/load round trip.
type Artifact struct {
	Version            int
	Pipeline           *pipeline.DataPipeline
	Regressor          *regression.ClusterRegressor
	BestParams         optimize.Params
	TrainingTime       time.Duration
	ClusteringMethod   string
	OptimizationMethod string
}

// ModelPath returns the artifact file path inside runDir.
func ModelPath(runDir string) string {
	return filepath.Join(runDir, ModelsSubdir, ModelFileName)
}

// SaveArtifact writes a to the artifact path under runDir.
func SaveArtifact(runDir string, a *Artifact) error {
	a.Version = ArtifactVersion
	if err := model.SaveModel(a, ModelPath(runDir)); err != nil {
		return errors.Wrap(err, "SaveArtifact")
	}
	return nil
}

// LoadArtifact reads an artifact and upgrades older layouts in place.
func LoadArtifact(path string) (*Artifact, error) {
	var a Artifact
	if err := model.LoadModel(&a, path); err != nil {
		return nil, errors.Wrap(err, "LoadArtifact")
	}
	if a.Pipeline == nil || a.Regressor == nil {
		return nil, errors.NewValueError("LoadArtifact", "artifact is missing pipeline or regressor")
	}
	if a.Pipeline.Normalize() || a.Version < ArtifactVersion {
		a.Version = ArtifactVersion
		if a.ClusteringMethod == "" {
			a.ClusteringMethod = string(a.Pipeline.Method)
		}
	}
	return &a, nil
}

// mirrorDir copies the finished run directory tree to dst. It is a plain
// recursive file copy; the run directory never contains symlinks.
func mirrorDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
