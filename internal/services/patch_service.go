// Package services provides internal service implementations for the patch graph.
package services

import (
	"context"

	"github.com/ortelius/patchgraph/events/modules/patches"
	"github.com/ortelius/patchgraph/internal/ingest"
	"github.com/ortelius/patchgraph/model"
	"go.uber.org/zap"
)

// PatchServiceWrapper implements patches.PatchService on top of the upsert engine
// so Kafka-driven ingestion behaves exactly like the REST and batch paths.
type PatchServiceWrapper struct {
	Inserter ingest.Inserter
	Logger   *zap.Logger
}

var _ patches.PatchService = (*PatchServiceWrapper)(nil)

// IngestPatch inserts one enriched record.
func (w *PatchServiceWrapper) IngestPatch(ctx context.Context, rec model.EnrichedRecord) (*model.PatchInsertResult, error) {
	w.Logger.Debug("Worker: processing enriched patch",
		zap.String("vendor", rec.Vendor),
		zap.String("product", rec.Product),
		zap.String("fixed_version", rec.FixedVersion))

	result, err := w.Inserter.InsertPatch(ctx, rec)
	if err != nil {
		return nil, err
	}

	w.Logger.Info("Worker: ingested patch",
		zap.String("patch_id", result.PatchID),
		zap.String("product", result.Product.ID),
		zap.Bool("product_created", result.Product.Created),
		zap.Int("vulnerabilities", len(result.Vulnerabilities)))
	return result, nil
}
