package search

import (
	"context"
	"errors"
	"sync"

	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
)

type fakeIndex struct {
	mu           sync.Mutex
	failures     int
	err          error
	ratingCalls  []string
	ratingFields map[string]RatingFields
	indexed      []Document
	updated      []Document
	bulkCalls    int
	bulkDocs     int
	healthy      bool
	created      bool
	docCount     int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{healthy: true, ratingFields: map[string]RatingFields{}}
}

// failNext makes the next n writes fail.
func (f *fakeIndex) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.err = errors.New("index unreachable")
}

func (f *fakeIndex) failLocked() error {
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return f.err
	}
	return nil
}

func (f *fakeIndex) IndexDocument(_ context.Context, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked(); err != nil {
		return err
	}
	f.indexed = append(f.indexed, doc)
	return nil
}

func (f *fakeIndex) UpdateDocument(_ context.Context, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked(); err != nil {
		return err
	}
	f.updated = append(f.updated, doc)
	return nil
}

func (f *fakeIndex) UpdateRatingFields(_ context.Context, movieID string, fields RatingFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingCalls = append(f.ratingCalls, movieID)
	if err := f.failLocked(); err != nil {
		return err
	}
	f.ratingFields[movieID] = fields
	return nil
}

func (f *fakeIndex) BulkIndex(_ context.Context, docs []Document) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	if err := f.failLocked(); err != nil {
		return 0, err
	}
	f.bulkDocs += len(docs)
	return len(docs), nil
}

func (f *fakeIndex) DocumentExists(context.Context, string) (bool, error) { return false, nil }

func (f *fakeIndex) Healthy(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy, nil
}

func (f *fakeIndex) Stats(context.Context) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Name: "movies", DocCount: f.docCount}, nil
}

func (f *fakeIndex) CreateIndex(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
	return nil
}

func (f *fakeIndex) DeleteIndex(context.Context) error { return nil }

func (f *fakeIndex) ratingCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ratingCalls)
}

// fakeMovies serves movies keyed by decimal id.
type fakeMovies struct {
	mu     sync.Mutex
	movies map[string]moviedomain.Detail
	order  []string
}

func newFakeMovies(details ...moviedomain.Detail) *fakeMovies {
	f := &fakeMovies{movies: map[string]moviedomain.Detail{}}
	for _, d := range details {
		f.movies[d.Movie.Key()] = d
		f.order = append(f.order, d.Movie.Key())
	}
	return f
}

func (f *fakeMovies) RatingSnapshot(_ context.Context, movieID string) (*moviedomain.RatingSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.movies[movieID]
	if !ok {
		return nil, moviedomain.ErrNotFound
	}
	return &moviedomain.RatingSnapshot{
		MovieID:       movieID,
		AverageRating: d.Movie.AverageRating,
		TotalRatings:  d.Movie.TotalRatings,
		Statistics:    d.Statistics,
	}, nil
}

func (f *fakeMovies) Detail(_ context.Context, movieID string) (*moviedomain.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.movies[movieID]
	if !ok {
		return nil, moviedomain.ErrNotFound
	}
	return &d, nil
}

func (f *fakeMovies) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.order)), nil
}

func (f *fakeMovies) Page(_ context.Context, offset, limit int) ([]moviedomain.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []moviedomain.Detail
	for i := offset; i < len(f.order) && len(out) < limit; i++ {
		out = append(out, f.movies[f.order[i]])
	}
	return out, nil
}

func movie(id int64, title string) moviedomain.Detail {
	m := moviedomain.Movie{ID: id, Slug: title, Title: title, Type: moviedomain.ContentTypeMovie, AverageRating: 4, TotalRatings: 2}
	m.SetCast([]moviedomain.CastMember{{Name: "Amy Adams", Role: "Louise"}}, []string{"sci-fi"})
	return moviedomain.Detail{
		Movie: m,
		Statistics: &ratingdomain.MovieStatistics{
			MovieID:       m.Key(),
			AverageRating: 4,
			TotalRatings:  2,
			FourStarCount: 2,
			TrendingScore: 31.5,
		},
	}
}
