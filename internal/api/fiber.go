// Package api wires the HTTP surface of the patch graph service.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/ortelius/patchgraph/config"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/graphql"
	"github.com/ortelius/patchgraph/internal/ingest"
	"github.com/ortelius/patchgraph/restapi"
	"go.uber.org/zap"
)

// NewFiberApp creates and configures a Fiber app with REST and GraphQL routes
func NewFiberApp(cfg config.ServerConfig, names database.CollectionNames, store database.GraphStore, inserter ingest.Inserter, log *zap.Logger) (*fiber.App, error) {
	schema, err := graphql.CreateSchema(store, names)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:     "patchgraph API v1.0",
		BodyLimit:   cfg.BodyLimit,
		ReadTimeout: 60 * time.Second,
	})

	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowMethods: "GET, POST, HEAD, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("graphql_op", "-")
		return c.Next()
	})
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} - ${latency} ${method} ${path} ${locals:graphql_op}\n",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	restapi.SetupRoutes(app, inserter, schema, log)

	return app, nil
}
