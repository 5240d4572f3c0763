package repository

import (
	"context"
	"errors"

	"github.com/marquee/catalog/internal/movie/domain"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, movie *domain.Movie) error {
	if movie == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(movie).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, movie *domain.Movie) error {
	if movie == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE movies
		 SET title = ?, description = ?, type = ?, release_date = ?, cover_image = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		movie.Title,
		movie.Description,
		movie.Type,
		movie.ReleaseDate,
		movie.CoverImage,
		movie.Metadata,
		movie.UpdatedAt,
		movie.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Movie, error) {
	var m domain.Movie
	err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Movie, error) {
	var items []*domain.Movie
	stmt := db.WithContext(ctx).Model(&domain.Movie{})
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.AfterID > 0 {
		stmt = option.WithWhere("id > ?", filter.AfterID).Apply(stmt)
	}
	stmt = option.WithOrder("id", false).Apply(stmt)
	stmt = option.WithLimit(filter.Limit).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Movie{}).Count(&count).Error
	return count, err
}

func (r *repo) Page(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Movie, error) {
	var items []domain.Movie
	err := db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) FindStatistics(ctx context.Context, db *gorm.DB, movieIDs ...string) (map[string]*ratingdomain.MovieStatistics, error) {
	out := make(map[string]*ratingdomain.MovieStatistics, len(movieIDs))
	if len(movieIDs) == 0 {
		return out, nil
	}
	var rows []ratingdomain.MovieStatistics
	if err := db.WithContext(ctx).Where("movie_id IN ?", movieIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].MovieID] = &rows[i]
	}
	return out, nil
}
