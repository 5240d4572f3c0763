// Package ratingtest wires rating storage for tests.
package ratingtest

import (
	"context"
	"sync"
	"testing"

	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/internal/rating/repository"
	"github.com/marquee/catalog/pkg/db/dbtest"
	"gorm.io/gorm"
)

// OpenDB migrates ratings, statistics and movies, including the partial
// unique indexes that make inserts duplicate-skipping.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := dbtest.Open(t, &domain.Rating{}, &domain.MovieStatistics{}, &moviedomain.Movie{})
	dbtest.Exec(t, db,
		`CREATE UNIQUE INDEX ux_ratings_movie_user ON ratings (movie_id, user_id) WHERE user_id IS NOT NULL`,
		`CREATE UNIQUE INDEX ux_ratings_movie_session ON ratings (movie_id, session_id) WHERE session_id IS NOT NULL`,
	)
	return db
}

// Store wraps a real store and lets tests inject failures.
type Store struct {
	domain.Store

	mu          sync.Mutex
	InsertErr   error
	FindErr     error
	UpsertErr   error
	SummaryErr  error
	InsertCalls int
}

func NewStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := OpenDB(t)
	return &Store{Store: repository.Provide(db)}, db
}

func (s *Store) SetInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertErr = err
}

func (s *Store) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InsertCalls
}

func (s *Store) InsertRatings(ctx context.Context, ratings []domain.Rating) (int64, error) {
	s.mu.Lock()
	s.InsertCalls++
	err := s.InsertErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.Store.InsertRatings(ctx, ratings)
}

func (s *Store) FindDuplicate(ctx context.Context, movieID string, viewer domain.Viewer) (*domain.Rating, error) {
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	return s.Store.FindDuplicate(ctx, movieID, viewer)
}

func (s *Store) UpsertStatistics(ctx context.Context, stats domain.MovieStatistics) error {
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	return s.Store.UpsertStatistics(ctx, stats)
}

func (s *Store) UpdateMovieSummary(ctx context.Context, movieID string, average float64, total int64) error {
	if s.SummaryErr != nil {
		return s.SummaryErr
	}
	return s.Store.UpdateMovieSummary(ctx, movieID, average, total)
}
