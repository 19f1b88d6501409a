package services

import (
	"context"
	"testing"

	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/internal/ingest"
	"github.com/ortelius/patchgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPatchServiceWrapper_IngestPatch(t *testing.T) {
	store := database.NewMemoryStore()
	names := database.DefaultCollectionNames()
	require.NoError(t, database.EnsureSchema(context.Background(), store, names, zap.NewNop()))

	service := &PatchServiceWrapper{
		Inserter: ingest.NewEngine(store, names, zap.NewNop()),
		Logger:   zap.NewNop(),
	}

	result, err := service.IngestPatch(context.Background(), model.EnrichedRecord{
		Vendor:               "npm",
		Product:              "express",
		VulnerabilitiesFixed: []string{"CVE-2023-1001"},
	})
	require.NoError(t, err)
	assert.Equal(t, "products/npm_express", result.Product.ID)

	_, err = service.IngestPatch(context.Background(), model.EnrichedRecord{Vendor: "npm"})
	assert.ErrorIs(t, err, database.ErrInvalidRecord)
	assert.Equal(t, 1, store.Count(names.Patches))
}
