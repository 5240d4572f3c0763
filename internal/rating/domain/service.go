package domain

import (
	"context"
	"errors"
	"time"

	"github.com/marquee/catalog/pkg/db/pagination"
)

var (
	ErrInvalidRating   = errors.New("invalid_rating")
	ErrMissingViewer   = errors.New("missing_viewer_identity")
	ErrInvalidMovie    = errors.New("invalid_movie")
	ErrDuplicateRating = errors.New("duplicate_rating")
	ErrRatingNotCached = errors.New("rating_not_cached")
	ErrMovieNotFound   = errors.New("movie_not_found")
)

// IsValidationError reports whether err is a rejected submission that must
// not be retried.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRating) ||
		errors.Is(err, ErrMissingViewer) ||
		errors.Is(err, ErrInvalidMovie)
}

// Store is the durable side of the pipeline.
type Store interface {
	// InsertRatings inserts rows, skipping any that already exist, and
	// returns how many were new.
	InsertRatings(ctx context.Context, ratings []Rating) (int64, error)
	// FindDuplicate returns a rating for movieID by the same viewer, or nil.
	FindDuplicate(ctx context.Context, movieID string, viewer Viewer) (*Rating, error)
	UpsertStatistics(ctx context.Context, stats MovieStatistics) error
	// UpdateMovieSummary returns ErrMovieNotFound when no catalog row matches.
	UpdateMovieSummary(ctx context.Context, movieID string, average float64, total int64) error
	CountByMovie(ctx context.Context, movieID string) (int64, error)
	ListByMovie(ctx context.Context, movieID string, page pagination.Pagination) ([]*Rating, *pagination.PageInfo, error)
	// GetStatistics returns nil when the movie was never synchronized.
	GetStatistics(ctx context.Context, movieID string) (*MovieStatistics, error)
}

type SubmitRequest struct {
	MovieID   string `json:"movieId"`
	Rating    any    `json:"rating"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
}

// SubmitResponse carries the accepted rating and cache-derived statistics
// that may lag durable storage.
type SubmitResponse struct {
	ID            string    `json:"id"`
	MovieID       string    `json:"movieId"`
	Rating        int       `json:"rating"`
	CreatedAt     time.Time `json:"createdAt"`
	AverageRating float64   `json:"averageRating"`
	TotalRatings  int64     `json:"totalRatings"`
}

type ListRatingsRequest struct {
	MovieID string `json:"movieId"`
	pagination.Pagination
}

type ListRatingsResponse struct {
	pagination.PageInfo
	Total   int64     `json:"total"`
	Ratings []*Rating `json:"ratings"`
}

type Service interface {
	Submit(context.Context, SubmitRequest) (*SubmitResponse, error)
	List(context.Context, ListRatingsRequest) (ListRatingsResponse, error)
}
