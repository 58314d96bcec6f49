package handler

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ravendoc/internal/datefmt"
	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
	"ravendoc/internal/model"
	"ravendoc/internal/service"
)

const generatedKeyPrefix = "docs/"

var errEmptyBody = errors.New("request body is empty")

type listResponse struct {
	Data  []*jsonobj.Object `json:"data"`
	Total int               `json:"total"`
}

type putResponse struct {
	Key  string `json:"Key"`
	ETag string `json:"ETag"`
}

// ListDocuments returns document envelopes in etag order.
//
// @Summary  List documents
// @Tags     documents
// @Produce  json
// @Param    limit   query     int  false  "page size"  default(10)
// @Param    offset  query     int  false  "rows to skip"  default(0)
// @Success  200     {object}  listResponse
// @Failure  400     {object}  errorPayload
// @Router   /docs [get]
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}

		out := listResponse{Data: make([]*jsonobj.Object, 0, len(res.Items)), Total: res.Total}
		for _, doc := range res.Items {
			env, err := doc.ToJSON()
			if err != nil {
				return writeServiceError(c, err)
			}
			out.Data = append(out.Data, env)
		}
		return c.JSON(out)
	}
}

// GetDocument returns the envelope of one document. HEAD requests get the headers only.
//
// @Summary  Get a document
// @Tags     documents
// @Produce  json
// @Param    key            path    string  true   "document key, may contain slashes"
// @Param    If-None-Match  header  string  false  "etag the client already has"
// @Success  200  {object}  map[string]any
// @Success  304
// @Failure  404  {object}  errorPayload
// @Router   /docs/{key} [get]
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := documentKey(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_KEY", "invalid document key")
		}

		doc, err := svc.Get(c.UserContext(), key)
		if err != nil {
			return writeServiceError(c, err)
		}
		setDocumentHeaders(c, doc)

		if cached, err := etagHeader(c, fiber.HeaderIfNoneMatch); err == nil && cached != nil &&
			doc.Etag() != nil && *cached == *doc.Etag() {
			return c.SendStatus(fiber.StatusNotModified)
		}
		if c.Method() == fiber.MethodHead {
			return c.SendStatus(fiber.StatusOK)
		}

		env, err := doc.ToJSON()
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(env)
	}
}

// PutDocument stores the request body under the key in the path.
//
// @Summary  Put a document
// @Tags     documents
// @Accept   json
// @Produce  json
// @Param    key       path    string  true   "document key, may contain slashes"
// @Param    If-Match  header  string  false  "expected current etag"
// @Param    document  body    object  true   "document body with optional @metadata"
// @Success  201  {object}  putResponse
// @Failure  400  {object}  errorPayload
// @Failure  409  {object}  errorPayload
// @Router   /docs/{key} [put]
func PutDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := documentKey(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_KEY", "invalid document key")
		}
		return storeDocument(c, svc, key)
	}
}

// PostDocument stores the request body under a generated docs/<uuid> key.
//
// @Summary  Create a document with a generated key
// @Tags     documents
// @Accept   json
// @Produce  json
// @Param    document  body  object  true  "document body with optional @metadata"
// @Success  201  {object}  putResponse
// @Failure  400  {object}  errorPayload
// @Router   /docs [post]
func PostDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return storeDocument(c, svc, generatedKeyPrefix+uuid.NewString())
	}
}

// DeleteDocument removes a document, conditionally when If-Match is sent.
//
// @Summary  Delete a document
// @Tags     documents
// @Param    key       path    string  true   "document key, may contain slashes"
// @Param    If-Match  header  string  false  "expected current etag"
// @Success  204
// @Failure  404  {object}  errorPayload
// @Failure  409  {object}  errorPayload
// @Router   /docs/{key} [delete]
func DeleteDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := documentKey(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_KEY", "invalid document key")
		}
		expected, err := etagHeader(c, fiber.HeaderIfMatch)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ETAG", "invalid If-Match etag")
		}
		if err := svc.Delete(c.UserContext(), key, expected); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func storeDocument(c *fiber.Ctx, svc service.DocumentService, key string) error {
	expected, err := etagHeader(c, fiber.HeaderIfMatch)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "INVALID_ETAG", "invalid If-Match etag")
	}
	body, metadata, err := readDocumentBody(c.Body())
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be a JSON object")
	}

	doc, err := svc.Put(c.UserContext(), key, body, metadata, expected)
	if err != nil {
		return writeServiceError(c, err)
	}
	setDocumentHeaders(c, doc)
	return c.Status(fiber.StatusCreated).JSON(putResponse{Key: doc.Key(), ETag: doc.Etag().String()})
}

// readDocumentBody splits a request body into the document and its optional @metadata object.
func readDocumentBody(raw []byte) (*jsonobj.Object, *jsonobj.Object, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil, errEmptyBody
	}
	body, err := jsonobj.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	v, ok := body.Get(model.MetadataKey)
	if !ok || v == nil {
		return body, nil, nil
	}
	metadata, ok := v.(*jsonobj.Object)
	if !ok {
		return nil, nil, jsonobj.ErrNotObject
	}
	return body, metadata, nil
}

// documentKey reads the wildcard remainder of the path, so keys may contain slashes.
func documentKey(c *fiber.Ctx) (string, bool) {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// etagHeader parses If-Match / If-None-Match; quotes and the weak prefix are accepted. A missing header is nil.
func etagHeader(c *fiber.Ctx, name string) (*etag.Etag, error) {
	v := strings.TrimSpace(c.Get(name))
	if v == "" {
		return nil, nil
	}
	v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
	tag, err := etag.Parse(v)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func setDocumentHeaders(c *fiber.Ctx, doc *model.Document) {
	if tag := doc.Etag(); tag != nil {
		c.Set(fiber.HeaderETag, tag.String())
	}
	if modified := doc.LastModified(); modified != nil {
		c.Set(fiber.HeaderLastModified, datefmt.HTTP(*modified))
	}
}
