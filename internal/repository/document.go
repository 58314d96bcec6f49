package repository

import (
	"context"
	"errors"

	"ravendoc/internal/etag"
	"ravendoc/internal/model"
)

// ErrEtagMismatch is returned when a conditional write finds a different stored etag, or no row at all.
var ErrEtagMismatch = errors.New("etag mismatch")

// DocumentRepository defines data access for documents using SQL queries only.
// No business logic here; strictly persistence operations.
type DocumentRepository interface {
	// Put stores the document under its key. With a nil expected etag the row is upserted,
	// otherwise it is only updated when the stored etag equals expected.
	Put(ctx context.Context, doc *model.Document, expected *etag.Etag) error

	// FindByKey returns a document by its key, or sql.ErrNoRows.
	FindByKey(ctx context.Context, key string) (*model.Document, error)

	// List returns a page of documents ordered by etag and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[*model.Document], error)

	// ListAfter returns up to limit documents whose etag sorts after the given one, ordered by etag.
	// A nil after starts from the beginning.
	ListAfter(ctx context.Context, after *etag.Etag, limit int) ([]*model.Document, error)

	// Delete removes a document by key. Without an expected etag a missing row is not an error.
	Delete(ctx context.Context, key string, expected *etag.Etag) error

	// LastEtag returns the highest stored etag, or nil when the table is empty.
	LastEtag(ctx context.Context) (*etag.Etag, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
