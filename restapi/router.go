// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/patchgraph/internal/ingest"
	"github.com/ortelius/patchgraph/restapi/modules/patches"
	"go.uber.org/zap"
)

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
func SetupRoutes(app *fiber.App, inserter ingest.Inserter, schema graphql.Schema, logger *zap.Logger) {
	api := app.Group("/api/v1")

	api.Post("/graphql", GraphQLHandler(schema, logger))

	api.Post("/patches", patches.PostPatch(inserter, logger))
}
