package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
	"ravendoc/internal/model"
	"ravendoc/internal/repository"
)

var errIncomplete = errors.New("document needs a key, an etag and a last-modified time to be stored")

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// Put upserts the document, or updates it only when the stored etag matches expected.
func (r *DocumentPostgres) Put(ctx context.Context, doc *model.Document, expected *etag.Etag) error {
	if doc.Key() == "" || doc.Etag() == nil || doc.LastModified() == nil {
		return errIncomplete
	}
	body, err := doc.Body().MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	metadata := []byte("{}")
	if doc.HasMetadata() {
		if metadata, err = doc.EnsureMetadata().MarshalJSON(); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	tag := doc.Etag().String()
	modified := doc.LastModified().UTC()

	if expected == nil {
		const q = `
			INSERT INTO documents (key, etag, body, metadata, last_modified)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (key) DO UPDATE
			SET etag = EXCLUDED.etag,
			    body = EXCLUDED.body,
			    metadata = EXCLUDED.metadata,
			    last_modified = EXCLUDED.last_modified
		`
		_, err := r.db.ExecContext(ctx, q, doc.Key(), tag, string(body), string(metadata), modified)
		return err
	}

	const q = `
		UPDATE documents
		SET etag = $2, body = $3, metadata = $4, last_modified = $5
		WHERE key = $1 AND etag = $6
	`
	res, err := r.db.ExecContext(ctx, q, doc.Key(), tag, string(body), string(metadata), modified, expected.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrEtagMismatch
	}
	return nil
}

// FindByKey fetches a single document by its key.
func (r *DocumentPostgres) FindByKey(ctx context.Context, key string) (*model.Document, error) {
	const q = `
		SELECT key, etag, body, metadata, last_modified
		FROM documents
		WHERE key = $1
	`
	return scanDocument(r.db.QueryRowContext(ctx, q, key))
}

// List returns documents using LIMIT/OFFSET pagination in etag order and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[*model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT key, etag, body, metadata, last_modified
		FROM documents
		ORDER BY etag COLLATE "C" ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[*model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// ListAfter returns up to limit documents with an etag greater than after, in etag order.
func (r *DocumentPostgres) ListAfter(ctx context.Context, after *etag.Etag, limit int) ([]*model.Document, error) {
	const q = `
		SELECT key, etag, body, metadata, last_modified
		FROM documents
		WHERE etag COLLATE "C" > $1
		ORDER BY etag COLLATE "C" ASC
		LIMIT $2
	`
	from := ""
	if after != nil {
		from = after.String()
	}
	rows, err := r.db.QueryContext(ctx, q, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.Document, 0, limit)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// Delete removes a document by key. With an expected etag, a miss is reported as repository.ErrEtagMismatch.
func (r *DocumentPostgres) Delete(ctx context.Context, key string, expected *etag.Etag) error {
	if expected == nil {
		const q = `DELETE FROM documents WHERE key = $1`
		_, err := r.db.ExecContext(ctx, q, key)
		return err
	}

	const q = `DELETE FROM documents WHERE key = $1 AND etag = $2`
	res, err := r.db.ExecContext(ctx, q, key, expected.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrEtagMismatch
	}
	return nil
}

// LastEtag returns the highest etag in the table, or nil when there are no documents.
func (r *DocumentPostgres) LastEtag(ctx context.Context) (*etag.Etag, error) {
	const q = `SELECT etag FROM documents ORDER BY etag COLLATE "C" DESC LIMIT 1`
	var raw string
	if err := r.db.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	tag, err := etag.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("stored etag %q: %w", raw, err)
	}
	return &tag, nil
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		key, rawTag    string
		body, metadata []byte
		modified       time.Time
	)
	if err := row.Scan(&key, &rawTag, &body, &metadata, &modified); err != nil {
		return nil, err
	}

	tag, err := etag.Parse(rawTag)
	if err != nil {
		return nil, fmt.Errorf("document %s: stored etag: %w", key, err)
	}
	bodyObj, err := jsonobj.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("document %s: stored body: %w", key, err)
	}
	metaObj, err := jsonobj.ParseCaseInsensitive(metadata)
	if err != nil {
		return nil, fmt.Errorf("document %s: stored metadata: %w", key, err)
	}

	modified = modified.UTC()
	nonAuthoritative := false
	return model.NewDocument(bodyObj, metaObj, key, &nonAuthoritative, &tag, &modified), nil
}
