// Package events carries catalog domain events between in-process
// producers and consumers.
package events

import (
	"strings"
	"time"
)

type Topic string

const (
	TopicMovieCreated    Topic = "movie.created"
	TopicMovieUpdated    Topic = "movie.updated"
	TopicRatingRecorded  Topic = "rating.recorded"
	TopicRatingUpdated   Topic = "rating.updated"
	TopicAggregateSynced Topic = "rating.aggregate_synced"
)

// Event is a message published on the bus. MovieKey identifies the movie the
// event is about.
type Event interface {
	Topic() Topic
	MovieKey() string
}

type MovieCreated struct {
	MovieID string    `json:"movie_id"`
	At      time.Time `json:"at"`
}

func (MovieCreated) Topic() Topic       { return TopicMovieCreated }
func (e MovieCreated) MovieKey() string { return strings.TrimSpace(e.MovieID) }

type MovieUpdated struct {
	MovieID string    `json:"movie_id"`
	At      time.Time `json:"at"`
}

func (MovieUpdated) Topic() Topic       { return TopicMovieUpdated }
func (e MovieUpdated) MovieKey() string { return strings.TrimSpace(e.MovieID) }

// RatingRecorded is emitted once a rating has been accepted into the cache.
type RatingRecorded struct {
	RatingID string    `json:"rating_id"`
	MovieID  string    `json:"movie_id"`
	Rating   int       `json:"rating"`
	At       time.Time `json:"at"`
}

func (RatingRecorded) Topic() Topic       { return TopicRatingRecorded }
func (e RatingRecorded) MovieKey() string { return strings.TrimSpace(e.MovieID) }

// RatingUpdated is an explicit request to refresh a movie's rating fields
// downstream, without a new rating.
type RatingUpdated struct {
	MovieID string    `json:"movie_id"`
	At      time.Time `json:"at"`
}

func (RatingUpdated) Topic() Topic       { return TopicRatingUpdated }
func (e RatingUpdated) MovieKey() string { return strings.TrimSpace(e.MovieID) }

// AggregateSynced is emitted after durable statistics for a movie were
// recalculated.
type AggregateSynced struct {
	MovieID       string    `json:"movie_id"`
	AverageRating float64   `json:"average_rating"`
	TotalRatings  int64     `json:"total_ratings"`
	TrendingScore float64   `json:"trending_score"`
	At            time.Time `json:"at"`
}

func (AggregateSynced) Topic() Topic       { return TopicAggregateSynced }
func (e AggregateSynced) MovieKey() string { return strings.TrimSpace(e.MovieID) }
