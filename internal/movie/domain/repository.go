package domain

import (
	"context"

	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"gorm.io/gorm"
)

type ListFilter struct {
	Type    ContentType
	AfterID int64
	Limit   int
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, movie *Movie) error
	Update(ctx context.Context, db *gorm.DB, movie *Movie) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Movie, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Movie, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
	// Page returns movies ordered by id for bulk export.
	Page(ctx context.Context, db *gorm.DB, offset, limit int) ([]Movie, error)
	FindStatistics(ctx context.Context, db *gorm.DB, movieIDs ...string) (map[string]*ratingdomain.MovieStatistics, error)
}
