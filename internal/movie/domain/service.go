package domain

import (
	"context"
	"errors"
	"time"

	"github.com/marquee/catalog/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Statistics(ctx context.Context, id string) (*StatisticsResponse, error)
}

// Reader serves the search index synchronizer.
type Reader interface {
	RatingSnapshot(ctx context.Context, movieID string) (*RatingSnapshot, error)
	Detail(ctx context.Context, movieID string) (*Detail, error)
	Count(ctx context.Context) (int64, error)
	Page(ctx context.Context, offset, limit int) ([]Detail, error)
}

type CreateRequest struct {
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	Type        ContentType    `json:"type"`
	ReleaseDate *time.Time     `json:"release_date"`
	CoverImage  *string        `json:"cover_image"`
	Cast        []CastMember   `json:"cast"`
	Genres      []string       `json:"genres"`
	Metadata    map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	ID          string       `json:"-"`
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	Type        *ContentType `json:"type"`
	ReleaseDate *time.Time   `json:"release_date"`
	CoverImage  *string      `json:"cover_image"`
	Cast        []CastMember `json:"cast"`
	Genres      []string     `json:"genres"`
}

type ListRequest struct {
	Type ContentType `form:"type"`
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Movies []Response `json:"movies"`
}

type Response struct {
	ID            string       `json:"id"`
	Slug          string       `json:"slug"`
	Title         string       `json:"title"`
	Description   *string      `json:"description,omitempty"`
	Type          ContentType  `json:"type"`
	ReleaseDate   *time.Time   `json:"release_date,omitempty"`
	CoverImage    *string      `json:"cover_image,omitempty"`
	Cast          []CastMember `json:"cast"`
	Genres        []string     `json:"genres"`
	AverageRating float64      `json:"average_rating"`
	TotalRatings  int64        `json:"total_ratings"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type Distribution struct {
	One   int64 `json:"1"`
	Two   int64 `json:"2"`
	Three int64 `json:"3"`
	Four  int64 `json:"4"`
	Five  int64 `json:"5"`
}

type StatisticsResponse struct {
	MovieID            string       `json:"movie_id"`
	AverageRating      float64      `json:"average_rating"`
	TotalRatings       int64        `json:"total_ratings"`
	Distribution       Distribution `json:"distribution"`
	RecentRatingsCount int64        `json:"recent_ratings_count"`
	TrendingScore      float64      `json:"trending_score"`
	LastCalculatedAt   *time.Time   `json:"last_calculated_at,omitempty"`
}

var (
	ErrInvalidID    = errors.New("invalid_id")
	ErrInvalidTitle = errors.New("invalid_title")
	ErrInvalidType  = errors.New("invalid_content_type")
	ErrNotFound     = errors.New("not_found")
)
