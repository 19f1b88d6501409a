package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CollectionSpec names one collection of the graph schema.
type CollectionSpec struct {
	Name string
	Kind CollectionKind
}

// Schema returns the four collections of the patch graph in creation order.
func (n CollectionNames) Schema() []CollectionSpec {
	return []CollectionSpec{
		{Name: n.Patches, Kind: KindDocument},
		{Name: n.Vulnerabilities, Kind: KindDocument},
		{Name: n.Products, Kind: KindDocument},
		{Name: n.Edges, Kind: KindEdge},
	}
}

// Indexes returns the persistent indexes that back the common traversals.
func (n CollectionNames) Indexes() []IndexSpec {
	return []IndexSpec{
		{Collection: n.Edges, Name: "edges_from", Fields: []string{"_from"}},
		{Collection: n.Edges, Name: "edges_to", Fields: []string{"_to"}},
		{Collection: n.Edges, Name: "edges_relation", Fields: []string{"relation"}},
		{Collection: n.Patches, Name: "patches_vendor_product", Fields: []string{"vendor", "product"}},
		{Collection: n.Patches, Name: "patches_ingested_at", Fields: []string{"ingested_at"}},
		{Collection: n.Vulnerabilities, Name: "vulnerabilities_id", Fields: []string{"vulnerability"}},
	}
}

// Validate rejects empty or repeated collection names.
func (n CollectionNames) Validate() error {
	seen := make(map[string]bool)
	for _, spec := range n.Schema() {
		if spec.Name == "" {
			return fmt.Errorf("collection names must not be empty")
		}
		if seen[spec.Name] {
			return fmt.Errorf("collection name %q used twice", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// EnsureSchema creates any missing collection of the graph and, when the
// store supports it, the secondary indexes. It is safe to call on every
// startup and concurrently from several processes: a create that loses the
// race to another creator is treated as success. Any other failure is
// returned as ErrSchemaBootstrapFailed.
func EnsureSchema(ctx context.Context, store GraphStore, names CollectionNames, logger *zap.Logger) error {
	if err := names.Validate(); err != nil {
		return WrapError(ErrCodeSchemaBootstrapFailed, "invalid collection names", err)
	}

	for _, spec := range names.Schema() {
		exists, err := store.CollectionExists(ctx, spec.Name)
		if err != nil {
			return WrapError(ErrCodeSchemaBootstrapFailed, "failed to check collection", err).
				WithContext("collection", spec.Name)
		}

		if exists {
			if err := checkKind(ctx, store, spec); err != nil {
				return err
			}
			logger.Debug("Collection already exists", zap.String("collection", spec.Name))
			continue
		}

		if err := store.CreateCollection(ctx, spec.Name, spec.Kind); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				if err := checkKind(ctx, store, spec); err != nil {
					return err
				}
				logger.Debug("Collection created concurrently", zap.String("collection", spec.Name))
				continue
			}
			return WrapError(ErrCodeSchemaBootstrapFailed, "failed to create collection", err).
				WithContext("collection", spec.Name).
				WithContext("kind", string(spec.Kind))
		}
		logger.Info("Created collection", zap.String("collection", spec.Name), zap.String("kind", string(spec.Kind)))
	}

	indexer, ok := store.(Indexer)
	if !ok {
		return nil
	}

	for _, idx := range names.Indexes() {
		if err := indexer.EnsureIndex(ctx, idx); err != nil {
			return WrapError(ErrCodeSchemaBootstrapFailed, "failed to ensure index", err).
				WithContext("index", idx.Name)
		}
	}

	return nil
}

// checkKind fails when an existing collection is of the wrong kind, e.g. a
// document collection where edges are expected. Stores that cannot report the
// kind are trusted.
func checkKind(ctx context.Context, store GraphStore, spec CollectionSpec) error {
	inspector, ok := store.(KindInspector)
	if !ok {
		return nil
	}
	kind, err := inspector.CollectionKind(ctx, spec.Name)
	if errors.Is(err, errKindUnknown) {
		return nil
	}
	if err != nil {
		return WrapError(ErrCodeSchemaBootstrapFailed, "failed to inspect collection", err).
			WithContext("collection", spec.Name)
	}
	if kind != spec.Kind {
		return NewError(ErrCodeSchemaBootstrapFailed, fmt.Sprintf("collection %s is a %s collection, want %s", spec.Name, kind, spec.Kind)).
			WithContext("collection", spec.Name).
			WithContext("kind", string(kind))
	}
	return nil
}
