package database

import (
	"context"
	"errors"

	"github.com/ortelius/patchgraph/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names used by TracedStore.
const (
	SpanCollectionExists = "patchgraph.store.collection_exists"
	SpanCreateCollection = "patchgraph.store.create_collection"
	SpanDocumentExists   = "patchgraph.store.document_exists"
	SpanInsertDocument   = "patchgraph.store.insert_document"
	SpanInsertEdge       = "patchgraph.store.insert_edge"
	SpanReadDocument     = "patchgraph.store.read_document"
	SpanEnsureIndex      = "patchgraph.store.ensure_index"
	SpanCollectionKind   = "patchgraph.store.collection_kind"
)

// TracedStore wraps a GraphStore and records one span per call.
// A duplicate key is recorded as an event rather than a span error since the
// upsert engine absorbs it.
type TracedStore struct {
	inner  GraphStore
	tracer trace.Tracer
}

// NewTracedStore wraps inner with tracing.
func NewTracedStore(inner GraphStore, tracer trace.Tracer) *TracedStore {
	return &TracedStore{inner: inner, tracer: tracer}
}

func (s *TracedStore) end(span trace.Span, err error) {
	defer span.End()
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrNotFound):
		span.AddEvent(err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// CollectionExists implements GraphStore.
func (s *TracedStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, SpanCollectionExists,
		trace.WithAttributes(attribute.String("patchgraph.collection", name)))
	exists, err := s.inner.CollectionExists(ctx, name)
	span.SetAttributes(attribute.Bool("patchgraph.exists", exists))
	s.end(span, err)
	return exists, err
}

// CreateCollection implements GraphStore.
func (s *TracedStore) CreateCollection(ctx context.Context, name string, kind CollectionKind) error {
	ctx, span := s.tracer.Start(ctx, SpanCreateCollection,
		trace.WithAttributes(
			attribute.String("patchgraph.collection", name),
			attribute.String("patchgraph.collection_kind", string(kind)),
		))
	err := s.inner.CreateCollection(ctx, name, kind)
	s.end(span, err)
	return err
}

// DocumentExists implements GraphStore.
func (s *TracedStore) DocumentExists(ctx context.Context, collection, key string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, SpanDocumentExists,
		trace.WithAttributes(
			attribute.String("patchgraph.collection", collection),
			attribute.String("patchgraph.key", key),
		))
	exists, err := s.inner.DocumentExists(ctx, collection, key)
	span.SetAttributes(attribute.Bool("patchgraph.exists", exists))
	s.end(span, err)
	return exists, err
}

// InsertDocument implements GraphStore.
func (s *TracedStore) InsertDocument(ctx context.Context, collection, key string, fields any) (string, error) {
	ctx, span := s.tracer.Start(ctx, SpanInsertDocument,
		trace.WithAttributes(
			attribute.String("patchgraph.collection", collection),
			attribute.String("patchgraph.key", key),
		))
	assigned, err := s.inner.InsertDocument(ctx, collection, key, fields)
	span.SetAttributes(attribute.String("patchgraph.assigned_key", assigned))
	s.end(span, err)
	return assigned, err
}

// InsertEdge implements GraphStore.
func (s *TracedStore) InsertEdge(ctx context.Context, collection string, edge model.EdgeDocument) (string, error) {
	ctx, span := s.tracer.Start(ctx, SpanInsertEdge,
		trace.WithAttributes(
			attribute.String("patchgraph.collection", collection),
			attribute.String("patchgraph.edge.from", edge.From),
			attribute.String("patchgraph.edge.to", edge.To),
			attribute.String("patchgraph.edge.relation", string(edge.Relation)),
		))
	assigned, err := s.inner.InsertEdge(ctx, collection, edge)
	s.end(span, err)
	return assigned, err
}

// ReadDocument implements GraphStore.
func (s *TracedStore) ReadDocument(ctx context.Context, collection, key string, out any) error {
	ctx, span := s.tracer.Start(ctx, SpanReadDocument,
		trace.WithAttributes(
			attribute.String("patchgraph.collection", collection),
			attribute.String("patchgraph.key", key),
		))
	err := s.inner.ReadDocument(ctx, collection, key, out)
	s.end(span, err)
	return err
}

// EnsureIndex implements Indexer; it is a no-op when the inner store has no indexes.
func (s *TracedStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	indexer, ok := s.inner.(Indexer)
	if !ok {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, SpanEnsureIndex,
		trace.WithAttributes(
			attribute.String("patchgraph.collection", spec.Collection),
			attribute.String("patchgraph.index", spec.Name),
		))
	err := indexer.EnsureIndex(ctx, spec)
	s.end(span, err)
	return err
}

// CollectionKind implements KindInspector. It returns errKindUnknown when the
// inner store cannot report kinds.
func (s *TracedStore) CollectionKind(ctx context.Context, name string) (CollectionKind, error) {
	inspector, ok := s.inner.(KindInspector)
	if !ok {
		return "", errKindUnknown
	}
	ctx, span := s.tracer.Start(ctx, SpanCollectionKind,
		trace.WithAttributes(attribute.String("patchgraph.collection", name)))
	kind, err := inspector.CollectionKind(ctx, name)
	s.end(span, err)
	return kind, err
}

var (
	_ GraphStore    = (*TracedStore)(nil)
	_ Indexer       = (*TracedStore)(nil)
	_ KindInspector = (*TracedStore)(nil)
)
