package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/movie/domain"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/pkg/db"
	"github.com/marquee/catalog/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	statisticsTTL      = 30 * time.Second
	statisticsCapacity = 4096
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Publisher events.Publisher `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	genID     *snowflake.Node
	publisher events.Publisher
	stats     cache.Cache[string, domain.StatisticsResponse]
}

func New(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("movie.service"),
		repo:      p.Repo,
		genID:     p.GenID,
		publisher: p.Publisher,
		stats:     cache.NewTTLCache[string, domain.StatisticsResponse](statisticsCapacity),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	contentType := req.Type
	if contentType == "" {
		contentType = domain.ContentTypeMovie
	}
	if !contentType.Valid() {
		return nil, domain.ErrInvalidType
	}

	now := time.Now().UTC()
	id := s.genID.Generate().Int64()
	m := &domain.Movie{
		ID:          id,
		Slug:        makeSlug(title, id),
		Title:       title,
		Description: trimmedPtr(req.Description),
		Type:        contentType,
		ReleaseDate: req.ReleaseDate,
		CoverImage:  trimmedPtr(req.CoverImage),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Metadata != nil {
		m.Metadata = datatypes.JSONMap(req.Metadata)
	}
	m.SetCast(req.Cast, req.Genres)

	err := s.repo.Create(ctx, s.db, m)
	if err != nil && db.IsDuplicateKeyErr(err) {
		m.Slug = m.Slug + "-" + strconv.FormatInt(id, 36)
		err = s.repo.Create(ctx, s.db, m)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.MovieCreated{MovieID: m.Key(), At: now})
	resp := toResponse(m)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, domain.ErrInvalidTitle
		}
		item.Title = title
	}
	if req.Description != nil {
		item.Description = trimmedPtr(req.Description)
	}
	if req.Type != nil {
		if !req.Type.Valid() {
			return nil, domain.ErrInvalidType
		}
		item.Type = *req.Type
	}
	if req.ReleaseDate != nil {
		item.ReleaseDate = req.ReleaseDate
	}
	if req.CoverImage != nil {
		item.CoverImage = trimmedPtr(req.CoverImage)
	}
	item.SetCast(req.Cast, req.Genres)

	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}

	s.publish(ctx, events.MovieUpdated{MovieID: item.Key(), At: item.UpdatedAt})
	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	m, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(m)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Type != "" && !req.Type.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidType
	}

	size := req.Size()
	filter := domain.ListFilter{Type: req.Type, Limit: size + 1}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidID
		}
		after, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidID
		}
		filter.AfterID = after
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page, info, err := pagination.Trim(items, size, func(m *domain.Movie) pagination.Cursor {
		return pagination.Cursor{ID: m.Key(), CreatedAt: m.CreatedAt.Format(time.RFC3339)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{PageInfo: *info, Movies: make([]domain.Response, 0, len(page))}
	for _, m := range page {
		resp.Movies = append(resp.Movies, toResponse(m))
	}
	return resp, nil
}

// Statistics serves the durable aggregate for a movie, cached briefly in
// process.
func (s *Service) Statistics(ctx context.Context, id string) (*domain.StatisticsResponse, error) {
	key := strings.TrimSpace(id)
	if cached, ok := s.stats.Get(key); ok {
		return &cached, nil
	}

	m, err := s.find(ctx, key)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.FindStatistics(ctx, s.db, m.Key())
	if err != nil {
		return nil, err
	}

	resp := toStatistics(m, rows[m.Key()])
	s.stats.Set(key, resp, statisticsTTL)
	return &resp, nil
}

func (s *Service) RatingSnapshot(ctx context.Context, movieID string) (*domain.RatingSnapshot, error) {
	m, err := s.find(ctx, movieID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.FindStatistics(ctx, s.db, m.Key())
	if err != nil {
		return nil, err
	}
	return &domain.RatingSnapshot{
		MovieID:       m.Key(),
		AverageRating: m.AverageRating,
		TotalRatings:  m.TotalRatings,
		Statistics:    rows[m.Key()],
	}, nil
}

func (s *Service) Detail(ctx context.Context, movieID string) (*domain.Detail, error) {
	m, err := s.find(ctx, movieID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.FindStatistics(ctx, s.db, m.Key())
	if err != nil {
		return nil, err
	}
	return &domain.Detail{Movie: *m, Statistics: rows[m.Key()]}, nil
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, s.db)
}

func (s *Service) Page(ctx context.Context, offset, limit int) ([]domain.Detail, error) {
	movies, err := s.repo.Page(ctx, s.db, offset, limit)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(movies))
	for _, m := range movies {
		keys = append(keys, m.Key())
	}
	rows, err := s.repo.FindStatistics(ctx, s.db, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Detail, 0, len(movies))
	for _, m := range movies {
		out = append(out, domain.Detail{Movie: m, Statistics: rows[m.Key()]})
	}
	return out, nil
}

func (s *Service) find(ctx context.Context, id string) (*domain.Movie, error) {
	movieID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	m, err := s.repo.FindByID(ctx, s.db, movieID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn("publish movie event failed",
			zap.String("topic", string(evt.Topic())),
			zap.String("movie_id", evt.MovieKey()),
			zap.Error(err),
		)
	}
}

func parseID(raw string) (int64, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id.Int64(), nil
}

func makeSlug(title string, id int64) string {
	if s := slug.Make(title); s != "" {
		return s
	}
	return strconv.FormatInt(id, 36)
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func toResponse(m *domain.Movie) domain.Response {
	cast := m.Cast()
	if cast == nil {
		cast = []domain.CastMember{}
	}
	genres := m.Genres()
	if genres == nil {
		genres = []string{}
	}
	return domain.Response{
		ID:            m.Key(),
		Slug:          m.Slug,
		Title:         m.Title,
		Description:   m.Description,
		Type:          m.Type,
		ReleaseDate:   m.ReleaseDate,
		CoverImage:    m.CoverImage,
		Cast:          cast,
		Genres:        genres,
		AverageRating: m.AverageRating,
		TotalRatings:  m.TotalRatings,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toStatistics(m *domain.Movie, stats *ratingdomain.MovieStatistics) domain.StatisticsResponse {
	resp := domain.StatisticsResponse{
		MovieID:       m.Key(),
		AverageRating: m.AverageRating,
		TotalRatings:  m.TotalRatings,
	}
	if stats == nil {
		return resp
	}
	calculated := stats.LastCalculatedAt
	resp.AverageRating = stats.AverageRating
	resp.TotalRatings = stats.TotalRatings
	resp.RecentRatingsCount = stats.RecentRatingsCount
	resp.TrendingScore = stats.TrendingScore
	resp.LastCalculatedAt = &calculated
	resp.Distribution = domain.Distribution{
		One:   stats.OneStarCount,
		Two:   stats.TwoStarCount,
		Three: stats.ThreeStarCount,
		Four:  stats.FourStarCount,
		Five:  stats.FiveStarCount,
	}
	return resp
}
