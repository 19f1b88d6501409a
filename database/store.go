// Package database - Handles all interaction with the graph store backing the patch knowledge graph
package database

import (
	"context"
	"errors"

	"github.com/ortelius/patchgraph/model"
)

// CollectionKind distinguishes node collections from edge collections.
type CollectionKind string

// Collection kinds
const (
	KindDocument CollectionKind = "document"
	KindEdge     CollectionKind = "edge"
)

// GraphStore is the narrow surface the schema bootstrap and upsert engine use
// to talk to the persistence backend. Implementations must be safe for
// concurrent use.
//
// InsertDocument and InsertEdge assign a key when key/edge.Key is empty. When
// an explicit key already exists they fail with ErrDuplicateKey.
// ReadDocument fails with ErrNotFound when the key is absent.
type GraphStore interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, kind CollectionKind) error
	DocumentExists(ctx context.Context, collection, key string) (bool, error)
	InsertDocument(ctx context.Context, collection, key string, fields any) (string, error)
	InsertEdge(ctx context.Context, collection string, edge model.EdgeDocument) (string, error)
	ReadDocument(ctx context.Context, collection, key string, out any) error
}

// IndexSpec describes a persistent index ensured during schema bootstrap.
type IndexSpec struct {
	Collection string
	Name       string
	Fields     []string
	Unique     bool
	Sparse     bool
}

// Indexer is implemented by stores that support secondary indexes.
type Indexer interface {
	EnsureIndex(ctx context.Context, spec IndexSpec) error
}

// KindInspector is implemented by stores that can report whether an existing
// collection holds documents or edges.
type KindInspector interface {
	CollectionKind(ctx context.Context, name string) (CollectionKind, error)
}

// errKindUnknown is returned by wrappers whose inner store is not a KindInspector.
var errKindUnknown = errors.New("collection kind not reported by store")

// CollectionNames holds the configured names of the four graph collections.
type CollectionNames struct {
	Patches         string `yaml:"patches"`
	Products        string `yaml:"products"`
	Vulnerabilities string `yaml:"vulnerabilities"`
	Edges           string `yaml:"edges"`
}

// DefaultCollectionNames returns the standard collection layout.
func DefaultCollectionNames() CollectionNames {
	return CollectionNames{
		Patches:         "patches",
		Products:        "products",
		Vulnerabilities: "vulnerabilities",
		Edges:           "edges",
	}
}

// DocumentID returns the collection-qualified reference for a key.
func DocumentID(collection, key string) string {
	return collection + "/" + key
}
