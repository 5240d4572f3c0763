package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/pkg/db/option"
	"github.com/marquee/catalog/pkg/db/pagination"
	"github.com/marquee/catalog/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 100

type store struct {
	db      *gorm.DB
	ratings repository.Repository[domain.Rating]
	stats   repository.Repository[domain.MovieStatistics]
}

func Provide(db *gorm.DB) domain.Store {
	return &store{
		db:      db,
		ratings: repository.ProvideStore[domain.Rating](db),
		stats:   repository.ProvideStore[domain.MovieStatistics](db),
	}
}

// InsertRatings relies on the primary key and the per-viewer unique indexes:
// conflicting rows are skipped rather than failing the batch.
func (s *store) InsertRatings(ctx context.Context, ratings []domain.Rating) (int64, error) {
	if len(ratings) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&ratings, insertBatchSize)
	return res.RowsAffected, res.Error
}

func (s *store) FindDuplicate(ctx context.Context, movieID string, viewer domain.Viewer) (*domain.Rating, error) {
	if !viewer.Matchable() {
		return nil, nil
	}

	stmt := s.db.WithContext(ctx).Where("movie_id = ?", strings.TrimSpace(movieID))
	switch {
	case viewer.UserID != "" && viewer.SessionID != "":
		stmt = stmt.Where("(user_id = ? OR session_id = ?)", viewer.UserID, viewer.SessionID)
	case viewer.UserID != "":
		stmt = stmt.Where("user_id = ?", viewer.UserID)
	default:
		stmt = stmt.Where("session_id = ?", viewer.SessionID)
	}

	var r domain.Rating
	if err := stmt.Order("created_at ASC").Take(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *store) UpsertStatistics(ctx context.Context, stats domain.MovieStatistics) error {
	if strings.TrimSpace(stats.MovieID) == "" {
		return domain.ErrInvalidMovie
	}
	now := time.Now().UTC()
	if stats.LastCalculatedAt.IsZero() {
		stats.LastCalculatedAt = now
	}
	stats.CreatedAt = now
	stats.UpdatedAt = now

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "movie_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"average_rating",
				"total_ratings",
				"rating_1_count",
				"rating_2_count",
				"rating_3_count",
				"rating_4_count",
				"rating_5_count",
				"recent_ratings_count",
				"trending_score",
				"last_calculated_at",
				"updated_at",
			}),
		}).
		Create(&stats).Error
}

func (s *store) UpdateMovieSummary(ctx context.Context, movieID string, average float64, total int64) error {
	id, err := snowflake.ParseString(strings.TrimSpace(movieID))
	if err != nil {
		return domain.ErrMovieNotFound
	}
	res := s.db.WithContext(ctx).
		Model(&moviedomain.Movie{}).
		Where("id = ?", id.Int64()).
		Updates(map[string]any{
			"average_rating": average,
			"total_ratings":  total,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMovieNotFound
	}
	return nil
}

func (s *store) CountByMovie(ctx context.Context, movieID string) (int64, error) {
	return s.ratings.Count(ctx, &domain.Rating{MovieID: strings.TrimSpace(movieID)})
}

// ListByMovie pages newest first. Rating ids sort by creation time.
func (s *store) ListByMovie(ctx context.Context, movieID string, page pagination.Pagination) ([]*domain.Rating, *pagination.PageInfo, error) {
	size := page.Size()
	opts := []option.QueryOption{
		option.WithOrder("id", true),
		option.WithLimit(size + 1),
	}
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, option.WithWhere("id < ?", cursor.ID))
	}

	rows, err := s.ratings.Find(ctx, &domain.Rating{MovieID: strings.TrimSpace(movieID)}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return pagination.Trim(rows, size, func(r *domain.Rating) pagination.Cursor {
		return pagination.Cursor{ID: r.ID, CreatedAt: r.CreatedAt.Format(time.RFC3339Nano)}
	})
}

func (s *store) GetStatistics(ctx context.Context, movieID string) (*domain.MovieStatistics, error) {
	return s.stats.FindOne(ctx, &domain.MovieStatistics{MovieID: strings.TrimSpace(movieID)})
}
