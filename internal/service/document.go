package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ravendoc/internal/config"
	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
	"ravendoc/internal/model"
	"ravendoc/internal/repository"
	"ravendoc/internal/storage"
)

var (
	ErrKeyRequired       = errors.New("key is required")
	ErrObjectKeyRequired = errors.New("object key is required")
	ErrNotFound          = errors.New("document not found")
	ErrConflict          = errors.New("etag does not match the stored document")
	ErrInvalidDump       = errors.New("invalid export dump")
)

// reservedMetadata are the metadata keys the store derives itself; client values are dropped.
var reservedMetadata = []string{
	model.EtagKey,
	model.IDKey,
	model.LastModifiedKey,
	model.RavenLastModifiedKey,
	model.NonAuthoritativeInfoKey,
	model.TempIndexScoreKey,
}

var tracer = otel.Tracer("ravendoc/internal/service")

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []*model.Document
	Total int
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Put stores body and metadata under key with a fresh etag. A non-nil expected etag makes the
	// write conditional on the currently stored one.
	Put(ctx context.Context, key string, body, metadata *jsonobj.Object, expected *etag.Etag) (*model.Document, error)

	// Get returns a single document by its key.
	Get(ctx context.Context, key string) (*model.Document, error)

	// List returns documents in etag order using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*DocumentListResult, error)

	// Delete removes a document, optionally only when its etag still matches expected.
	Delete(ctx context.Context, key string, expected *etag.Etag) error

	// Export streams every document into a dump object in storage.
	Export(ctx context.Context) (*ExportResult, error)

	// Import loads a dump written by Export, storing each document with a fresh etag.
	Import(ctx context.Context, objectKey string) (*ImportResult, error)

	// ListExports returns the dumps currently held in storage.
	ListExports(ctx context.Context) ([]storage.ObjectInfo, error)
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store storage.Storage
	repo  repository.DocumentRepository
	etags *etag.Generator
	cfg   config.ExportConfig
	now   func() time.Time
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, etags *etag.Generator, cfg config.ExportConfig) DocumentService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultExportPrefix
	}
	return &documentService{store: store, repo: repo, etags: etags, cfg: cfg, now: time.Now}
}

func (s *documentService) Put(ctx context.Context, key string, body, metadata *jsonobj.Object, expected *etag.Etag) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Put", trace.WithAttributes(attribute.String("document.key", key)))
	defer span.End()

	if key == "" {
		return nil, fail(span, ErrKeyRequired)
	}

	stored := jsonobj.New()
	if body != nil {
		stored = body.Clone()
		if _, err := stored.Remove(model.MetadataKey); err != nil {
			return nil, fail(span, err)
		}
	}
	md, err := cleanMetadata(metadata, key)
	if err != nil {
		return nil, fail(span, err)
	}

	tag := s.etags.Next()
	modified := s.now().UTC()
	nonAuthoritative := false
	doc := model.NewDocument(stored, md, key, &nonAuthoritative, &tag, &modified)

	if err := s.repo.Put(ctx, doc, expected); err != nil {
		if errors.Is(err, repository.ErrEtagMismatch) {
			return nil, fail(span, fmt.Errorf("%w: %s", ErrConflict, key))
		}
		return nil, fail(span, fmt.Errorf("store document: %w", err))
	}
	span.SetAttributes(attribute.String("document.etag", tag.String()))
	return doc, nil
}

// cleanMetadata copies metadata into a case-insensitive object, drops derived keys and records the key under @id.
func cleanMetadata(metadata *jsonobj.Object, key string) (*jsonobj.Object, error) {
	out := jsonobj.NewCaseInsensitive()
	if metadata != nil {
		var err error
		metadata.Clone().Range(func(k string, v any) bool {
			err = out.Set(k, v)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, k := range reservedMetadata {
		if _, err := out.Remove(k); err != nil {
			return nil, err
		}
	}
	if err := out.Set(model.IDKey, key); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int) (*DocumentListResult, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.List")
	defer span.End()

	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fail(span, err)
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a document by key.
func (s *documentService) Get(ctx context.Context, key string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Get", trace.WithAttributes(attribute.String("document.key", key)))
	defer span.End()

	if key == "" {
		return nil, fail(span, ErrKeyRequired)
	}
	doc, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fail(span, err)
	}
	return doc, nil
}

// Delete removes a document by key.
func (s *documentService) Delete(ctx context.Context, key string, expected *etag.Etag) error {
	ctx, span := tracer.Start(ctx, "DocumentService.Delete", trace.WithAttributes(attribute.String("document.key", key)))
	defer span.End()

	if key == "" {
		return fail(span, ErrKeyRequired)
	}
	if _, err := s.repo.FindByKey(ctx, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fail(span, err)
	}
	if err := s.repo.Delete(ctx, key, expected); err != nil {
		if errors.Is(err, repository.ErrEtagMismatch) {
			return fail(span, fmt.Errorf("%w: %s", ErrConflict, key))
		}
		return fail(span, err)
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
