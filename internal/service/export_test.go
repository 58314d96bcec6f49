package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ravendoc/internal/config"
	"ravendoc/internal/etag"
	"ravendoc/internal/jsonobj"
	"ravendoc/internal/model"
	"ravendoc/internal/repository"
	repoMocks "ravendoc/internal/repository/mocks"
	"ravendoc/internal/storage"
	storeMocks "ravendoc/internal/storage/mocks"
)

// memRepo keeps documents sorted by etag and runs afterPage once the first page is served.
type memRepo struct {
	repository.DocumentRepository
	docs      []*model.Document
	afterPage func(r *memRepo)
}

func (r *memRepo) ListAfter(_ context.Context, after *etag.Etag, limit int) ([]*model.Document, error) {
	sort.Slice(r.docs, func(i, j int) bool { return r.docs[i].Etag().Compare(*r.docs[j].Etag()) < 0 })
	out := make([]*model.Document, 0, limit)
	for _, d := range r.docs {
		if after != nil && d.Etag().Compare(*after) <= 0 {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, d)
	}
	if r.afterPage != nil {
		hook := r.afterPage
		r.afterPage = nil
		defer hook(r)
	}
	return out, nil
}

func TestDocumentService_Export(t *testing.T) {
	ctx := context.Background()
	cfg := config.ExportConfig{Prefix: "dumps", BatchSize: 2}
	isDumpKey := mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "dumps/20240301T100000Z-") && strings.HasSuffix(key, ".json")
	})
	dumpOpts := storage.PutObjectOptions{Size: -1, ContentType: "application/json"}

	t.Run("happy path pages through the repository", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mStore, mRepo, cfg)

		second := etag.New(1, 7)
		mRepo.On("ListAfter", mock.Anything, (*etag.Etag)(nil), 2).
			Return([]*model.Document{storedDoc(t, "a", 1), storedDoc(t, "b", 7)}, nil)
		mRepo.On("ListAfter", mock.Anything, &second, 2).
			Return([]*model.Document{storedDoc(t, "c", 8)}, nil)

		var dump bytes.Buffer
		mStore.On("Put", mock.Anything, isDumpKey, mock.Anything, dumpOpts).
			Run(func(args mock.Arguments) {
				_, _ = io.Copy(&dump, args.Get(2).(io.Reader))
			}).
			Return(storage.ObjectInfo{}, nil)
		mStore.On("PresignGet", mock.Anything, isDumpKey, downloadExpiry).Return("https://minio.local/dump", nil)

		res, err := svc.Export(ctx)

		require.NoError(t, err)
		assert.Equal(t, 3, res.Count)
		assert.Equal(t, etag.New(1, 8), *res.LastEtag)
		assert.Equal(t, "https://minio.local/dump", res.DownloadURL)
		assert.True(t, strings.HasPrefix(res.ObjectKey, "dumps/"))

		parsed, err := jsonobj.Parse(dump.Bytes())
		require.NoError(t, err)
		raw, ok := parsed.Get("Docs")
		require.True(t, ok)
		docs := raw.([]any)
		require.Len(t, docs, 3)

		first, err := model.ParseDocument(docs[0].(*jsonobj.Object))
		require.NoError(t, err)
		assert.Equal(t, "a", first.Key())
		assert.Equal(t, etag.New(1, 1), *first.Etag())

		mStore.AssertExpectations(t)
		mRepo.AssertExpectations(t)
	})

	t.Run("empty store writes an empty dump", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mStore, mRepo, cfg)

		mRepo.On("ListAfter", mock.Anything, (*etag.Etag)(nil), 2).Return([]*model.Document{}, nil)
		var dump bytes.Buffer
		mStore.On("Put", mock.Anything, isDumpKey, mock.Anything, dumpOpts).
			Run(func(args mock.Arguments) {
				_, _ = io.Copy(&dump, args.Get(2).(io.Reader))
			}).
			Return(storage.ObjectInfo{}, nil)
		mStore.On("PresignGet", mock.Anything, isDumpKey, downloadExpiry).Return("u", nil)

		res, err := svc.Export(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, res.Count)
		assert.Nil(t, res.LastEtag)
		assert.JSONEq(t, `{"Docs":[]}`, dump.String())
	})

	t.Run("storage error", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mStore, mRepo, cfg)

		mRepo.On("ListAfter", mock.Anything, mock.Anything, 2).Return([]*model.Document{}, nil).Maybe()
		mStore.On("Put", mock.Anything, isDumpKey, mock.Anything, dumpOpts).
			Return(storage.ObjectInfo{}, errors.New("storage fail"))

		res, err := svc.Export(ctx)

		assert.Nil(t, res)
		assert.ErrorContains(t, err, "upload dump: storage fail")
		mStore.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("repository error rolls back the dump", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mStore, mRepo, cfg)

		mRepo.On("ListAfter", mock.Anything, mock.Anything, 2).Return(nil, errors.New("db fail"))
		mStore.On("Put", mock.Anything, isDumpKey, mock.Anything, dumpOpts).
			Run(func(args mock.Arguments) {
				_, _ = io.Copy(io.Discard, args.Get(2).(io.Reader))
			}).
			Return(storage.ObjectInfo{}, nil)
		mStore.On("Delete", mock.Anything, isDumpKey).Return(nil)

		_, err := svc.Export(ctx)

		assert.ErrorContains(t, err, "write dump")
		assert.ErrorContains(t, err, "db fail")
		mStore.AssertExpectations(t)
	})
}

func TestDocumentService_ExportSurvivesConcurrentWrites(t *testing.T) {
	mStore := new(storeMocks.MockStorage)
	repo := &memRepo{
		docs: []*model.Document{
			storedDoc(t, "a", 1), storedDoc(t, "b", 2), storedDoc(t, "c", 3), storedDoc(t, "d", 4),
		},
		afterPage: func(r *memRepo) {
			// "a" is rewritten between pages and moves to the end of the etag order.
			r.docs[0] = storedDoc(t, "a", 99)
		},
	}
	svc := NewDocumentService(mStore, repo, etag.NewGenerator(2), config.ExportConfig{Prefix: "dumps", BatchSize: 2}).(*documentService)
	svc.now = func() time.Time { return fixedNow }

	var dump bytes.Buffer
	mStore.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = io.Copy(&dump, args.Get(2).(io.Reader))
		}).
		Return(storage.ObjectInfo{}, nil)
	mStore.On("PresignGet", mock.Anything, mock.Anything, downloadExpiry).Return("u", nil)

	res, err := svc.Export(context.Background())
	require.NoError(t, err)

	parsed, err := jsonobj.Parse(dump.Bytes())
	require.NoError(t, err)
	raw, _ := parsed.Get("Docs")
	var keys []string
	for _, entry := range raw.([]any) {
		doc, err := model.ParseDocument(entry.(*jsonobj.Object))
		require.NoError(t, err)
		keys = append(keys, doc.Key())
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "a"}, keys)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, etag.New(1, 99), *res.LastEtag)
}

func TestDocumentService_Import(t *testing.T) {
	ctx := context.Background()
	dump := `{"Docs":[
		{"Name":"Oren","@metadata":{"@id":"users/1","@etag":"00000000-0000-0001-0000-000000000009","Raven-Entity-Name":"Users","Raven-Last-Modified":"2024-03-01T10:00:00.0000000Z"}},
		{"Name":"Ayende","@metadata":{"Raven-Entity-Name":"Users"}},
		{"Title":"Post","@metadata":{"@id":"posts/1"}}
	]}`

	t.Run("happy path", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mStore, mRepo, config.ExportConfig{})

		mStore.On("Get", mock.Anything, "exports/x.json").
			Return(io.NopCloser(strings.NewReader(dump)), storage.ObjectInfo{Key: "exports/x.json"}, nil)

		var stored []*model.Document
		mRepo.On("Put", mock.Anything, mock.Anything, (*etag.Etag)(nil)).
			Run(func(args mock.Arguments) {
				stored = append(stored, args.Get(1).(*model.Document))
			}).
			Return(nil)

		res, err := svc.Import(ctx, "exports/x.json")

		require.NoError(t, err)
		assert.Equal(t, 2, res.Imported)
		assert.Equal(t, 1, res.Skipped)

		require.Len(t, stored, 2)
		assert.Equal(t, "users/1", stored[0].Key())
		assert.Equal(t, etag.New(1, 1), *stored[0].Etag(), "imported documents get fresh etags")
		entity, _ := stored[0].EnsureMetadata().GetString("Raven-Entity-Name")
		assert.Equal(t, "Users", entity)
		_, ok := stored[0].EnsureMetadata().Get(model.RavenLastModifiedKey)
		assert.False(t, ok)
		assert.Equal(t, "posts/1", stored[1].Key())
	})

	t.Run("validation - empty object key", func(t *testing.T) {
		svc := newTestService(new(storeMocks.MockStorage), new(repoMocks.MockDocumentRepository), config.ExportConfig{})

		_, err := svc.Import(ctx, "")

		assert.ErrorIs(t, err, ErrObjectKeyRequired)
	})

	t.Run("storage error", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		svc := newTestService(mStore, new(repoMocks.MockDocumentRepository), config.ExportConfig{})
		mStore.On("Get", mock.Anything, "missing.json").Return(nil, storage.ObjectInfo{}, errors.New("no such key"))

		_, err := svc.Import(ctx, "missing.json")

		assert.ErrorContains(t, err, "download dump: no such key")
	})

	invalid := []struct {
		name string
		body string
	}{
		{"not json", `{"Docs":[`},
		{"missing docs", `{"Items":[]}`},
		{"docs not an array", `{"Docs":{}}`},
		{"entry not an object", `{"Docs":[1]}`},
		{"bad etag", `{"Docs":[{"@metadata":{"@id":"a","@etag":"zzz"}}]}`},
	}
	for _, tt := range invalid {
		t.Run("invalid dump - "+tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockDocumentRepository)
			svc := newTestService(mStore, mRepo, config.ExportConfig{})
			mStore.On("Get", mock.Anything, "d.json").
				Return(io.NopCloser(strings.NewReader(tt.body)), storage.ObjectInfo{}, nil)

			_, err := svc.Import(ctx, "d.json")

			assert.ErrorIs(t, err, ErrInvalidDump)
			mRepo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDocumentService_ListExports(t *testing.T) {
	ctx := context.Background()
	mStore := new(storeMocks.MockStorage)
	svc := newTestService(mStore, nil, config.ExportConfig{Prefix: "dumps"})

	mStore.On("List", mock.Anything, "dumps/").
		Return([]storage.ObjectInfo{{Key: "dumps/1.json", Size: 42}}, nil).Once()
	mStore.On("List", mock.Anything, "dumps/").Return(nil, errors.New("denied")).Once()

	objects, err := svc.ListExports(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "dumps/1.json", objects[0].Key)

	_, err = svc.ListExports(ctx)
	assert.ErrorContains(t, err, "list dumps: denied")
}
