package pipeline

import (
	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/pkg/log"
)

// Normalize upgrades a pipeline decoded from an older artifact to the
// current layout. Old artifacts stored the clusterer in a KMeans-only field;
// even older ones carried no clusterer at all.
//
// It returns true when any migration was applied, so callers can log and
// re-save the artifact in the current format.
func (p *DataPipeline) Normalize() bool {
	if p.logger == nil {
		p.logger = log.GetLoggerWithName("DataPipeline")
	}

	migrated := false
	if p.Clusterer == nil && p.LegacyKMeans != nil {
		p.Clusterer = p.LegacyKMeans
		p.LegacyKMeans = nil
		p.Method = cluster.MethodKMeans
		p.logger.Info("migrated legacy artifact clusterer", "method", "kmeans")
		migrated = true
	}
	if p.Clusterer == nil {
		// Nothing recoverable. Predictions would fail anyway, so install
		// an unfitted default and let callers hit ErrNotFitted cleanly.
		p.Clusterer = cluster.NewKMeans()
		p.Method = cluster.MethodKMeans
		p.logger.Warn("artifact had no clusterer, installed unfitted default")
		migrated = true
	}
	if p.Method == "" {
		switch p.Clusterer.(type) {
		case *cluster.SOM:
			p.Method = cluster.MethodSOM
		default:
			p.Method = cluster.MethodKMeans
		}
		migrated = true
	}
	return migrated
}
