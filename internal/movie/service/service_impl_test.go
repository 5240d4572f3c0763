package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/movie/repository"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/pkg/db/dbtest"
	"github.com/marquee/catalog/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type publisherStub struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *publisherStub) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *publisherStub) topics() []events.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Topic, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic())
	}
	return out
}

func setupMovieService(t *testing.T) (*Service, *gorm.DB, *publisherStub) {
	t.Helper()
	db := dbtest.Open(t, &domain.Movie{}, &ratingdomain.MovieStatistics{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	pub := &publisherStub{}
	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Publisher: pub,
	})
	return svc, db, pub
}

func TestCreateMovie(t *testing.T) {
	svc, _, pub := setupMovieService(t)
	ctx := context.Background()

	resp, err := svc.Create(ctx, domain.CreateRequest{
		Title:  "  The Third Man ",
		Cast:   []domain.CastMember{{Name: "Orson Welles", Role: "Harry Lime"}},
		Genres: []string{"noir"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The Third Man", resp.Title)
	assert.Equal(t, "the-third-man", resp.Slug)
	assert.Equal(t, domain.ContentTypeMovie, resp.Type)
	assert.Equal(t, []domain.CastMember{{Name: "Orson Welles", Role: "Harry Lime"}}, resp.Cast)

	got, err := svc.Get(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"noir"}, got.Genres)
	assert.Equal(t, []events.Topic{events.TopicMovieCreated}, pub.topics())
}

func TestCreateMovieSlugCollision(t *testing.T) {
	svc, _, _ := setupMovieService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateRequest{Title: "Heat"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, domain.CreateRequest{Title: "Heat"})
	require.NoError(t, err)

	assert.Equal(t, "heat", first.Slug)
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Contains(t, second.Slug, "heat-")
}

func TestCreateMovieValidation(t *testing.T) {
	svc, _, _ := setupMovieService(t)

	_, err := svc.Create(context.Background(), domain.CreateRequest{Title: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)

	_, err = svc.Create(context.Background(), domain.CreateRequest{Title: "x", Type: "podcast"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}

func TestUpdateMoviePublishesEvent(t *testing.T) {
	svc, _, pub := setupMovieService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{Title: "Alien"})
	require.NoError(t, err)

	title := "Aliens"
	tv := domain.ContentTypeTVShow
	updated, err := svc.Update(ctx, domain.UpdateRequest{ID: created.ID, Title: &title, Type: &tv})
	require.NoError(t, err)
	assert.Equal(t, "Aliens", updated.Title)
	assert.Equal(t, domain.ContentTypeTVShow, updated.Type)
	assert.Equal(t, "alien", updated.Slug)

	assert.Equal(t, []events.Topic{events.TopicMovieCreated, events.TopicMovieUpdated}, pub.topics())

	_, err = svc.Update(ctx, domain.UpdateRequest{ID: "999"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestListMoviesPaginates(t *testing.T) {
	svc, _, _ := setupMovieService(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		_, err := svc.Create(ctx, domain.CreateRequest{Title: title})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Movies, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Movies, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "C", second.Movies[0].Title)
}

func TestStatisticsReadThroughCache(t *testing.T) {
	svc, db, _ := setupMovieService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{Title: "Vertigo"})
	require.NoError(t, err)

	empty, err := svc.Statistics(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalRatings)
	assert.Nil(t, empty.LastCalculatedAt)

	now := time.Now().UTC()
	require.NoError(t, db.Create(&ratingdomain.MovieStatistics{
		MovieID:          created.ID,
		AverageRating:    4.5,
		TotalRatings:     2,
		FourStarCount:    1,
		FiveStarCount:    1,
		LastCalculatedAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}).Error)

	cached, err := svc.Statistics(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, cached.TotalRatings, "served from the in-process cache")

	svc.stats.Delete(created.ID)
	fresh, err := svc.Statistics(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.TotalRatings)
	assert.Equal(t, int64(1), fresh.Distribution.Five)

	snapshot, err := svc.RatingSnapshot(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, snapshot.Statistics)
	assert.Equal(t, 4.5, snapshot.Statistics.AverageRating)
}

func TestPageIncludesStatistics(t *testing.T) {
	svc, db, _ := setupMovieService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, domain.CreateRequest{Title: "A"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateRequest{Title: "B"})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Create(&ratingdomain.MovieStatistics{MovieID: a.ID, TotalRatings: 3, LastCalculatedAt: now, CreatedAt: now, UpdatedAt: now}).Error)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	page, err := svc.Page(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, page[0].Statistics)
	assert.Equal(t, int64(3), page[0].Statistics.TotalRatings)
	assert.Nil(t, page[1].Statistics)
}
