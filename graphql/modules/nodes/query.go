// Package nodes defines the GraphQL queries for patch graph nodes.
package nodes

import (
	"context"
	"errors"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/model"
	"github.com/ortelius/patchgraph/util"
)

// GetQueryFields returns the node lookups to be mounted in the root schema.
// Lookups take the natural identifiers and normalize them the same way
// ingestion does, so "CVE-2023-1001" finds the node keyed cve_2023-1001.
func GetQueryFields(store database.GraphStore, names database.CollectionNames) graphql.Fields {
	return graphql.Fields{
		"product": &graphql.Field{
			Type: ProductType,
			Args: graphql.FieldConfigArgument{
				"vendor":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"product": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				key, err := util.ProductKey(p.Args["vendor"].(string), p.Args["product"].(string))
				if err != nil {
					return nil, err
				}
				var doc model.ProductDocument
				return lookup(p.Context, store, names.Products, key, &doc)
			},
		},
		"vulnerability": &graphql.Field{
			Type: VulnerabilityType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				key, err := util.VulnerabilityKey(p.Args["id"].(string))
				if err != nil {
					return nil, err
				}
				var doc model.VulnerabilityDocument
				return lookup(p.Context, store, names.Vulnerabilities, key, &doc)
			},
		},
		"patch": &graphql.Field{
			Type: PatchType,
			Args: graphql.FieldConfigArgument{
				"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				key := p.Args["key"].(string)
				if err := util.ValidateKey(key); err != nil {
					return nil, err
				}
				var doc model.PatchDocument
				return lookup(p.Context, store, names.Patches, key, &doc)
			},
		},
	}
}

// lookup reads key into out. A missing document resolves to null.
func lookup[T any](ctx context.Context, store database.GraphStore, collection, key string, out *T) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.ReadDocument(ctx, collection, key, out); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
