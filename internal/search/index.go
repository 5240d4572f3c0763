package search

import (
	"context"
	"errors"
)

var ErrIndexUnavailable = errors.New("search_index_unavailable")

// Index is the movie search index.
type Index interface {
	IndexDocument(ctx context.Context, doc Document) error
	// UpdateDocument merges doc into the stored document, creating it when
	// missing.
	UpdateDocument(ctx context.Context, doc Document) error
	UpdateRatingFields(ctx context.Context, movieID string, fields RatingFields) error
	BulkIndex(ctx context.Context, docs []Document) (int, error)
	DocumentExists(ctx context.Context, movieID string) (bool, error)
	Healthy(ctx context.Context) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	// CreateIndex creates the index with its mapping. An existing index is
	// left untouched.
	CreateIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
}

type Stats struct {
	Name     string `json:"name"`
	DocCount int64  `json:"doc_count"`
}

// nopIndex is used when search is disabled.
type nopIndex struct{}

func (nopIndex) IndexDocument(context.Context, Document) error { return nil }
func (nopIndex) UpdateDocument(context.Context, Document) error { return nil }
func (nopIndex) UpdateRatingFields(context.Context, string, RatingFields) error {
	return nil
}
func (nopIndex) BulkIndex(_ context.Context, docs []Document) (int, error) { return len(docs), nil }
func (nopIndex) DocumentExists(context.Context, string) (bool, error)        { return false, nil }
func (nopIndex) Healthy(context.Context) (bool, error)                       { return false, ErrIndexUnavailable }
func (nopIndex) Stats(context.Context) (Stats, error)                        { return Stats{}, ErrIndexUnavailable }
func (nopIndex) CreateIndex(context.Context) error                           { return nil }
func (nopIndex) DeleteIndex(context.Context) error                           { return nil }
