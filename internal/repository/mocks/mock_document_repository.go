package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ravendoc/internal/etag"
	"ravendoc/internal/model"
	"ravendoc/internal/repository"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Put(ctx context.Context, doc *model.Document, expected *etag.Etag) error {
	args := m.Called(ctx, doc, expected)
	return args.Error(0)
}

func (m *MockDocumentRepository) FindByKey(ctx context.Context, key string) (*model.Document, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[*model.Document], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[*model.Document]), args.Error(1)
}

func (m *MockDocumentRepository) ListAfter(ctx context.Context, after *etag.Etag, limit int) ([]*model.Document, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, key string, expected *etag.Etag) error {
	args := m.Called(ctx, key, expected)
	return args.Error(0)
}

func (m *MockDocumentRepository) LastEtag(ctx context.Context) (*etag.Etag, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*etag.Etag), args.Error(1)
}

var _ repository.DocumentRepository = (*MockDocumentRepository)(nil)
