package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
	"ravendoc/internal/model"
	"ravendoc/internal/repository"
)

var columns = []string{"key", "etag", "body", "metadata", "last_modified"}

func newDoc(t *testing.T, key string, tag etag.Etag) *model.Document {
	t.Helper()
	body := jsonobj.New()
	require.NoError(t, body.Set("Name", "Oren"))
	metadata := jsonobj.NewCaseInsensitive()
	require.NoError(t, metadata.Set("Raven-Entity-Name", "Users"))
	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.NewDocument(body, metadata, key, nil, &tag, &modified)
}

func TestDocumentPostgres_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	tag := etag.New(1, 5)

	t.Run("upsert", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO documents (.+) ON CONFLICT \\(key\\) DO UPDATE").
			WithArgs("users/1", tag.String(), `{"Name":"Oren"}`, `{"Raven-Entity-Name":"Users"}`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Put(ctx, newDoc(t, "users/1", tag), nil)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conditional update matches", func(t *testing.T) {
		expected := etag.New(1, 4)
		mock.ExpectExec("UPDATE documents SET (.+) WHERE key = \\$1 AND etag = \\$6").
			WithArgs("users/1", tag.String(), `{"Name":"Oren"}`, `{"Raven-Entity-Name":"Users"}`, sqlmock.AnyArg(), expected.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Put(ctx, newDoc(t, "users/1", tag), &expected)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conditional update mismatch", func(t *testing.T) {
		expected := etag.New(1, 3)
		mock.ExpectExec("UPDATE documents").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Put(ctx, newDoc(t, "users/1", tag), &expected)

		assert.ErrorIs(t, err, repository.ErrEtagMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing metadata is stored as empty object", func(t *testing.T) {
		doc := newDoc(t, "users/2", tag)
		doc.SetMetadata(nil)
		mock.ExpectExec("INSERT INTO documents").
			WithArgs("users/2", tag.String(), `{"Name":"Oren"}`, `{}`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Put(ctx, doc, nil))
		assert.False(t, doc.HasMetadata())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("incomplete document", func(t *testing.T) {
		doc := newDoc(t, "users/3", tag)
		doc.SetEtag(nil)

		err := repo.Put(ctx, doc, nil)

		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentPostgres_FindByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	tag := etag.New(1, 7)
	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("WIB", 7*60*60))

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(columns).
			AddRow("users/1", tag.String(), []byte(`{"Name":"Oren","Age":30}`), []byte(`{"Raven-Entity-Name":"Users"}`), modified)

		mock.ExpectQuery("SELECT (.+) FROM documents WHERE key = ?").
			WithArgs("users/1").
			WillReturnRows(rows)

		doc, err := repo.FindByKey(ctx, "users/1")

		require.NoError(t, err)
		assert.Equal(t, "users/1", doc.Key())
		assert.Equal(t, tag, *doc.Etag())
		assert.Equal(t, time.UTC, doc.LastModified().Location())
		assert.True(t, modified.Equal(*doc.LastModified()))
		assert.False(t, *doc.NonAuthoritative())

		age, ok := doc.Body().Get("Age")
		assert.True(t, ok)
		assert.Equal(t, int64(30), age)

		entity, ok := doc.EnsureMetadata().GetString("raven-entity-name")
		assert.True(t, ok)
		assert.Equal(t, "Users", entity)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE key = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		doc, err := repo.FindByKey(ctx, "missing")

		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.Nil(t, doc)
	})

	t.Run("corrupt etag", func(t *testing.T) {
		rows := sqlmock.NewRows(columns).
			AddRow("users/1", "nope", []byte(`{}`), []byte(`{}`), modified)
		mock.ExpectQuery("SELECT (.+) FROM documents").WillReturnRows(rows)

		_, err := repo.FindByKey(ctx, "users/1")

		assert.ErrorIs(t, err, etag.ErrInvalid)
	})
}

func TestDocumentPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		rows := sqlmock.NewRows(columns).
			AddRow("users/1", etag.New(1, 1).String(), []byte(`{}`), []byte(`{}`), now).
			AddRow("users/2", etag.New(1, 2).String(), []byte(`{"a":1}`), []byte(`{}`), now)

		mock.ExpectQuery("SELECT (.+) FROM documents ORDER BY etag").
			WithArgs(10, 0).
			WillReturnRows(rows)

		res, err := repo.List(ctx, repository.PageQuery{Limit: 10, Offset: 0})

		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		require.Len(t, res.Items, 2)
		assert.Equal(t, "users/1", res.Items[0].Key())
		assert.Equal(t, "users/2", res.Items[1].Key())
	})

	t.Run("count failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WillReturnError(errors.New("boom"))

		res, err := repo.List(ctx, repository.PageQuery{Limit: 10})

		assert.Error(t, err)
		assert.Nil(t, res)
	})
}

func TestDocumentPostgres_ListAfter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()
	const query = `SELECT (.+) FROM documents WHERE etag COLLATE "C" > \$1 ORDER BY etag COLLATE "C" ASC LIMIT \$2`

	t.Run("resumes after the given etag", func(t *testing.T) {
		after := etag.New(1, 2)
		rows := sqlmock.NewRows(columns).
			AddRow("users/3", etag.New(1, 3).String(), []byte(`{}`), []byte(`{}`), now).
			AddRow("users/1", etag.New(1, 9).String(), []byte(`{}`), []byte(`{}`), now)
		mock.ExpectQuery(query).WithArgs(after.String(), 2).WillReturnRows(rows)

		docs, err := repo.ListAfter(ctx, &after, 2)

		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "users/3", docs[0].Key())
		assert.Equal(t, etag.New(1, 9), *docs[1].Etag())
	})

	t.Run("nil etag starts from the beginning", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("", 5).WillReturnRows(sqlmock.NewRows(columns))

		docs, err := repo.ListAfter(ctx, nil, 5)

		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("query failure", func(t *testing.T) {
		mock.ExpectQuery(query).WillReturnError(errors.New("boom"))

		docs, err := repo.ListAfter(ctx, nil, 5)

		assert.EqualError(t, err, "boom")
		assert.Nil(t, docs)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	t.Run("unconditional", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM documents WHERE key = ?").
			WithArgs("users/1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, repo.Delete(ctx, "users/1", nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conditional mismatch", func(t *testing.T) {
		expected := etag.New(1, 9)
		mock.ExpectExec("DELETE FROM documents WHERE key = \\$1 AND etag = \\$2").
			WithArgs("users/1", expected.String()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Delete(ctx, "users/1", &expected)

		assert.ErrorIs(t, err, repository.ErrEtagMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conditional match", func(t *testing.T) {
		expected := etag.New(1, 9)
		mock.ExpectExec("DELETE FROM documents WHERE key = \\$1 AND etag = \\$2").
			WithArgs("users/1", expected.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Delete(ctx, "users/1", &expected))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentPostgres_LastEtag(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	t.Run("empty table", func(t *testing.T) {
		mock.ExpectQuery("SELECT etag FROM documents ORDER BY etag (.+) DESC LIMIT 1").
			WillReturnError(sql.ErrNoRows)

		tag, err := repo.LastEtag(ctx)

		assert.NoError(t, err)
		assert.Nil(t, tag)
	})

	t.Run("highest etag", func(t *testing.T) {
		mock.ExpectQuery("SELECT etag FROM documents").
			WillReturnRows(sqlmock.NewRows([]string{"etag"}).AddRow(etag.New(3, 42).String()))

		tag, err := repo.LastEtag(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(3), tag.Restarts())
		assert.Equal(t, int64(42), tag.Changes())
	})
}
