package search

import (
	"time"

	moviedomain "github.com/marquee/catalog/internal/movie/domain"
)

// Document is the indexed form of a movie.
type Document struct {
	ID                 string       `json:"id"`
	Slug               string       `json:"slug"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Type               string       `json:"type"`
	ReleaseDate        *time.Time   `json:"release_date,omitempty"`
	CoverImage         string       `json:"cover_image,omitempty"`
	Genres             []string     `json:"genres"`
	Cast               []string     `json:"cast"`
	AverageRating      float64      `json:"average_rating"`
	TotalRatings       int64        `json:"total_ratings"`
	TrendingScore      float64      `json:"trending_score"`
	RecentRatingsCount int64        `json:"recent_ratings_count"`
	Distribution       Distribution `json:"rating_distribution"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

type Distribution struct {
	One   int64 `json:"1"`
	Two   int64 `json:"2"`
	Three int64 `json:"3"`
	Four  int64 `json:"4"`
	Five  int64 `json:"5"`
}

// RatingFields is the partial update pushed after aggregates change.
type RatingFields struct {
	AverageRating      float64      `json:"average_rating"`
	TotalRatings       int64        `json:"total_ratings"`
	TrendingScore      float64      `json:"trending_score"`
	RecentRatingsCount int64        `json:"recent_ratings_count"`
	Distribution       Distribution `json:"rating_distribution"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func BuildDocument(d moviedomain.Detail) Document {
	m := d.Movie
	doc := Document{
		ID:            m.Key(),
		Slug:          m.Slug,
		Title:         m.Title,
		Type:          string(m.Type),
		ReleaseDate:   m.ReleaseDate,
		Genres:        m.Genres(),
		AverageRating: m.AverageRating,
		TotalRatings:  m.TotalRatings,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.Description != nil {
		doc.Description = *m.Description
	}
	if m.CoverImage != nil {
		doc.CoverImage = *m.CoverImage
	}
	if doc.Genres == nil {
		doc.Genres = []string{}
	}
	doc.Cast = make([]string, 0)
	for _, c := range m.Cast() {
		doc.Cast = append(doc.Cast, c.Name)
	}

	if s := d.Statistics; s != nil {
		doc.TrendingScore = s.TrendingScore
		doc.RecentRatingsCount = s.RecentRatingsCount
		doc.Distribution = Distribution{
			One:   s.OneStarCount,
			Two:   s.TwoStarCount,
			Three: s.ThreeStarCount,
			Four:  s.FourStarCount,
			Five:  s.FiveStarCount,
		}
	}
	return doc
}

// BuildRatingFields prefers the statistics row and falls back to the
// movie summary columns.
func BuildRatingFields(s moviedomain.RatingSnapshot, now time.Time) RatingFields {
	fields := RatingFields{
		AverageRating: s.AverageRating,
		TotalRatings:  s.TotalRatings,
		UpdatedAt:     now,
	}
	if st := s.Statistics; st != nil {
		fields.AverageRating = st.AverageRating
		fields.TotalRatings = st.TotalRatings
		fields.TrendingScore = st.TrendingScore
		fields.RecentRatingsCount = st.RecentRatingsCount
		fields.Distribution = Distribution{
			One:   st.OneStarCount,
			Two:   st.TwoStarCount,
			Three: st.ThreeStarCount,
			Four:  st.FourStarCount,
			Five:  st.FiveStarCount,
		}
	}
	return fields
}
