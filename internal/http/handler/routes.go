package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"ravendoc/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Fiber serves HEAD from every GET route; GetDocument answers it without a body.
func RegisterRoutes(app *fiber.App, db *sql.DB, docSvc service.DocumentService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	// /docs must be registered before /docs/* so that the bare path lists.
	app.Get("/docs", ListDocuments(docSvc))
	app.Post("/docs", PostDocument(docSvc))
	app.Get("/docs/*", GetDocument(docSvc))
	app.Put("/docs/*", PutDocument(docSvc))
	app.Delete("/docs/*", DeleteDocument(docSvc))

	admin := app.Group("/admin")
	admin.Post("/export", ExportDocuments(docSvc))
	admin.Post("/import", ImportDocuments(docSvc))
	admin.Get("/exports", ListExports(docSvc))
}
