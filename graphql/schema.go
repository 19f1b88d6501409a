// Package graphql assembles the read-only GraphQL schema over the patch graph.
package graphql

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/graphql/modules/nodes"
)

// CreateSchema builds the root Query type from the node modules.
func CreateSchema(store database.GraphStore, names database.CollectionNames) (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: nodes.GetQueryFields(store, names),
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
