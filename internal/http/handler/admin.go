package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"ravendoc/internal/service"
)

type exportResponse struct {
	ObjectKey   string `json:"object_key"`
	Count       int    `json:"count"`
	LastEtag    string `json:"last_etag,omitempty"`
	DownloadURL string `json:"download_url"`
}

type importRequest struct {
	ObjectKey string `json:"object_key"`
}

type importResponse struct {
	ObjectKey string `json:"object_key"`
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
}

type exportObject struct {
	ObjectKey    string    `json:"object_key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ExportDocuments dumps every document into object storage.
//
// @Summary  Export all documents
// @Tags     admin
// @Produce  json
// @Success  201  {object}  exportResponse
// @Failure  500  {object}  errorPayload
// @Router   /admin/export [post]
func ExportDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := svc.Export(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		out := exportResponse{ObjectKey: res.ObjectKey, Count: res.Count, DownloadURL: res.DownloadURL}
		if res.LastEtag != nil {
			out.LastEtag = res.LastEtag.String()
		}
		return c.Status(fiber.StatusCreated).JSON(out)
	}
}

// ImportDocuments loads a dump written by ExportDocuments.
//
// @Summary  Import a dump
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    request  body      importRequest  true  "dump to import"
// @Success  200      {object}  importResponse
// @Failure  400      {object}  errorPayload
// @Failure  422      {object}  errorPayload
// @Router   /admin/import [post]
func ImportDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req importRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		res, err := svc.Import(c.UserContext(), req.ObjectKey)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(importResponse{ObjectKey: res.ObjectKey, Imported: res.Imported, Skipped: res.Skipped})
	}
}

// ListExports lists the dumps held in object storage.
//
// @Summary  List dumps
// @Tags     admin
// @Produce  json
// @Success  200  {object}  map[string][]exportObject
// @Router   /admin/exports [get]
func ListExports(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		objects, err := svc.ListExports(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		out := make([]exportObject, 0, len(objects))
		for _, o := range objects {
			out = append(out, exportObject{ObjectKey: o.Key, Size: o.Size, LastModified: o.LastModified})
		}
		return c.JSON(fiber.Map{"data": out})
	}
}
