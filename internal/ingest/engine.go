// Package ingest turns enriched patch records into graph nodes and edges.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/model"
	"github.com/ortelius/patchgraph/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Ingestion steps reported in StoreWriteFailed errors.
const (
	StepInsertPatch          = "insert_patch"
	StepResolveProduct       = "resolve_product"
	StepLinkProduct          = "link_product"
	StepResolveVulnerability = "resolve_vulnerability"
	StepLinkVulnerability    = "link_vulnerability"
)

// Engine performs the get-or-create upsert of one enriched record.
// It holds no per-record state and is safe for concurrent use.
type Engine struct {
	store  database.GraphStore
	names  database.CollectionNames
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer records a span per inserted record.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine writing to store. The schema must already exist.
func NewEngine(store database.GraphStore, names database.CollectionNames, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		names:  names,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("patchgraph.ingest"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// identities are the keys computed for a record before anything is written.
type identities struct {
	patchKey   string
	productKey string
	vulnKeys   []string
}

func resolveIdentities(rec model.EnrichedRecord) (*identities, error) {
	if !rec.HasIdentity() {
		return nil, database.WrapError(database.ErrCodeInvalidRecord, "invalid record",
			fmt.Errorf("vendor and product are required (vendor=%q, product=%q)", rec.Vendor, rec.Product))
	}
	if !rec.CrashLikelihood.Valid() {
		return nil, database.WrapError(database.ErrCodeInvalidRecord, "invalid record",
			fmt.Errorf("unknown crash_likelihood %q", rec.CrashLikelihood))
	}

	ids := &identities{}

	var err error
	if ids.productKey, err = util.ProductKey(rec.Vendor, rec.Product); err != nil {
		return nil, err
	}

	ids.vulnKeys = make([]string, 0, len(rec.VulnerabilitiesFixed))
	for _, vuln := range rec.VulnerabilitiesFixed {
		key, err := util.VulnerabilityKey(vuln)
		if err != nil {
			return nil, err
		}
		ids.vulnKeys = append(ids.vulnKeys, key)
	}

	if rec.IdempotencyKey != "" {
		if err := util.ValidateKey(rec.IdempotencyKey); err != nil {
			return nil, err
		}
		ids.patchKey = rec.IdempotencyKey
	}

	return ids, nil
}

// InsertPatch writes a new Patch node for rec, resolves or creates its
// Product and Vulnerability nodes, and links them with belongs_to and fixes
// edges.
//
// Validation and identity errors (ErrInvalidRecord, ErrMalformedIdentity) are
// returned before any write. Persistence failures are returned as
// ErrStoreWriteFailed carrying the failed step; earlier writes of the record
// are not rolled back.
func (e *Engine) InsertPatch(ctx context.Context, rec model.EnrichedRecord) (*model.PatchInsertResult, error) {
	ctx, span := e.tracer.Start(ctx, "patchgraph.ingest.insert_patch",
		trace.WithAttributes(
			attribute.String("patchgraph.vendor", rec.Vendor),
			attribute.String("patchgraph.product", rec.Product),
			attribute.Int("patchgraph.vulnerabilities", len(rec.VulnerabilitiesFixed)),
		))
	defer span.End()

	result, err := e.insertPatch(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("patchgraph.patch_key", result.PatchKey))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (e *Engine) insertPatch(ctx context.Context, rec model.EnrichedRecord) (*model.PatchInsertResult, error) {
	ids, err := resolveIdentities(rec)
	if err != nil {
		return nil, err
	}
	idempotent := ids.patchKey != ""

	// 1. Patch node, always new unless the caller supplied an idempotency key
	patch := model.NewPatchDocument(rec)
	patch.Purl = util.BuildPURL(rec.Vendor, rec.Product, rec.FixedVersion)
	fixed := util.ParseFixedVersion(rec.Vendor, rec.FixedVersion)
	patch.FixedVersionMajor = fixed.Major
	patch.FixedVersionMinor = fixed.Minor
	patch.FixedVersionPatch = fixed.Patch
	patch.FixedVersionPrerelease = fixed.Prerelease
	patch.FixedVersionValid = fixed.Valid
	patch.IngestedAt = e.now().UTC()

	result := &model.PatchInsertResult{}

	patchKey, err := e.store.InsertDocument(ctx, e.names.Patches, ids.patchKey, patch)
	switch {
	case err == nil:
	case idempotent && errors.Is(err, database.ErrDuplicateKey):
		patchKey = ids.patchKey
		result.PatchReused = true
		e.logger.Info("Patch already recorded under idempotency key, resuming links",
			zap.String("patch_key", patchKey))
	default:
		return nil, database.StepError(StepInsertPatch, err).
			WithContext("collection", e.names.Patches)
	}

	patchID := database.DocumentID(e.names.Patches, patchKey)
	result.PatchKey = patchKey
	result.PatchID = patchID

	// 2. Product node and belongs_to edge
	productDoc := model.NewProductDocument(ids.productKey, rec.Vendor, rec.Product)
	created, err := e.getOrCreate(ctx, e.names.Products, ids.productKey, productDoc)
	if err != nil {
		return nil, database.StepError(StepResolveProduct, err).
			WithContext("patch_id", patchID).
			WithContext("product_key", ids.productKey)
	}
	result.Product = model.LinkedNode{
		Key:     ids.productKey,
		ID:      database.DocumentID(e.names.Products, ids.productKey),
		Created: created,
	}

	edge, err := e.link(ctx, patchKey, result.Product.ID, model.RelationBelongsTo, 0, idempotent)
	if err != nil {
		return nil, database.StepError(StepLinkProduct, err).
			WithContext("patch_id", patchID).
			WithContext("to", result.Product.ID)
	}
	result.Edges = append(result.Edges, edge)

	// 3. Vulnerability nodes and fixes edges, one per listed identifier
	result.Vulnerabilities = make([]model.LinkedNode, 0, len(ids.vulnKeys))
	for i, vulnKey := range ids.vulnKeys {
		identifier := strings.TrimSpace(rec.VulnerabilitiesFixed[i])
		vulnDoc := model.NewVulnerabilityDocument(vulnKey, identifier)
		created, err := e.getOrCreate(ctx, e.names.Vulnerabilities, vulnKey, vulnDoc)
		if err != nil {
			return nil, database.StepError(StepResolveVulnerability, err).
				WithContext("patch_id", patchID).
				WithContext("vulnerability_key", vulnKey)
		}
		node := model.LinkedNode{
			Key:        vulnKey,
			ID:         database.DocumentID(e.names.Vulnerabilities, vulnKey),
			Identifier: identifier,
			Created:    created,
		}
		result.Vulnerabilities = append(result.Vulnerabilities, node)

		edge, err := e.link(ctx, patchKey, node.ID, model.RelationFixes, i, idempotent)
		if err != nil {
			return nil, database.StepError(StepLinkVulnerability, err).
				WithContext("patch_id", patchID).
				WithContext("to", node.ID)
		}
		result.Edges = append(result.Edges, edge)
	}

	e.logger.Debug("Inserted patch",
		zap.String("patch_id", patchID),
		zap.String("product", result.Product.ID),
		zap.Int("vulnerabilities", len(result.Vulnerabilities)))

	return result, nil
}

// getOrCreate reuses the document at key or inserts doc under it. A
// duplicate-key failure means a concurrent writer created it first; the
// document is then confirmed and reused. Reports whether this call created it.
func (e *Engine) getOrCreate(ctx context.Context, collection, key string, doc any) (bool, error) {
	exists, err := e.store.DocumentExists(ctx, collection, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if _, err := e.store.InsertDocument(ctx, collection, key, doc); err != nil {
		if !errors.Is(err, database.ErrDuplicateKey) {
			return false, err
		}

		exists, err := e.store.DocumentExists(ctx, collection, key)
		if err != nil {
			return false, err
		}
		if !exists {
			e.logger.Warn("Duplicate key reported but document not visible",
				zap.String("collection", collection), zap.String("key", key))
		}
		e.logger.Debug("Concurrent create absorbed",
			zap.String("collection", collection), zap.String("key", key))
		return false, nil
	}

	return true, nil
}

// link inserts one edge from the patch to target. For idempotent inserts the
// edge key is derived from the patch key, relation, position and target, and
// an existing edge with that key is reused.
func (e *Engine) link(ctx context.Context, patchKey, target string, rel model.Relation, index int, idempotent bool) (model.EdgeRef, error) {
	edge := model.EdgeDocument{
		From:     database.DocumentID(e.names.Patches, patchKey),
		To:       target,
		Relation: rel,
	}
	if idempotent {
		edge.Key = util.EdgeKey(patchKey, string(rel), strconv.Itoa(index), target)
	}

	key, err := e.store.InsertEdge(ctx, e.names.Edges, edge)
	if err != nil {
		if !idempotent || !errors.Is(err, database.ErrDuplicateKey) {
			return model.EdgeRef{}, err
		}
		key = edge.Key
	}

	return model.EdgeRef{Key: key, From: edge.From, To: edge.To, Relation: rel}, nil
}
