package database

import (
	"context"
	"errors"
	"testing"

	"github.com/ortelius/patchgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "patches", KindDocument))
	require.NoError(t, store.CreateCollection(ctx, "edges", KindEdge))
	return store
}

func TestMemoryStore_InsertAssignsKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	k1, err := store.InsertDocument(ctx, "patches", "", map[string]any{"vendor": "npm"})
	require.NoError(t, err)
	k2, err := store.InsertDocument(ctx, "patches", "", map[string]any{"vendor": "npm"})
	require.NoError(t, err)

	assert.NotEmpty(t, k1)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, 2, store.Count("patches"))
}

func TestMemoryStore_DuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertDocument(ctx, "patches", "p1", map[string]any{})
	require.NoError(t, err)

	_, err = store.InsertDocument(ctx, "patches", "p1", map[string]any{})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 1, store.Count("patches"))
}

func TestMemoryStore_KeyFromDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key, err := store.InsertDocument(ctx, "patches", "", model.NewProductDocument("npm_express", "npm", "express"))
	require.NoError(t, err)
	assert.Equal(t, "npm_express", key)

	var doc model.ProductDocument
	require.NoError(t, store.ReadDocument(ctx, "patches", "npm_express", &doc))
	assert.Equal(t, "express", doc.Product)
	assert.NotNil(t, doc.Metadata)
}

func TestMemoryStore_ReadMissing(t *testing.T) {
	store := newTestStore(t)
	var out map[string]any

	err := store.ReadDocument(context.Background(), "patches", "nope", &out)
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.ReadDocument(context.Background(), "missing", "nope", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InsertEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	edge := model.EdgeDocument{From: "patches/1", To: "products/npm_express", Relation: model.RelationBelongsTo}
	key, err := store.InsertEdge(ctx, "edges", edge)
	require.NoError(t, err)

	var got model.EdgeDocument
	require.NoError(t, store.ReadDocument(ctx, "edges", key, &got))
	assert.Equal(t, edge.From, got.From)
	assert.Equal(t, edge.To, got.To)
	assert.Equal(t, model.RelationBelongsTo, got.Relation)

	_, err = store.InsertEdge(ctx, "patches", edge)
	assert.Error(t, err, "document collection must reject edges")
}

func TestMemoryStore_FailOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	store.FailOn("InsertDocument:patches", boom)
	_, err := store.InsertDocument(ctx, "patches", "", map[string]any{})
	assert.ErrorIs(t, err, boom)

	store.FailOn("InsertDocument:patches", nil)
	_, err = store.InsertDocument(ctx, "patches", "", map[string]any{})
	assert.NoError(t, err)

	assert.Equal(t, []string{
		"CreateCollection:patches",
		"CreateCollection:edges",
		"InsertDocument:patches",
		"InsertDocument:patches",
	}, store.Calls())
}

func TestMemoryStore_StaleExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertDocument(ctx, "patches", "p1", map[string]any{})
	require.NoError(t, err)

	store.SetStaleExists("patches", true)
	exists, err := store.DocumentExists(ctx, "patches", "p1")
	require.NoError(t, err)
	assert.False(t, exists)

	store.SetStaleExists("patches", false)
	exists, err = store.DocumentExists(ctx, "patches", "p1")
	require.NoError(t, err)
	assert.True(t, exists)
}
