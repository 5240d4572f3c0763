// Package domain contains the catalog models that ratings attach to.
package domain

import (
	"encoding/json"
	"strconv"
	"time"

	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"gorm.io/datatypes"
)

type ContentType string

const (
	ContentTypeMovie  ContentType = "movie"
	ContentTypeTVShow ContentType = "tv_show"
)

func (t ContentType) Valid() bool {
	return t == ContentTypeMovie || t == ContentTypeTVShow
}

type CastMember struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Movie is a catalog entry. AverageRating and TotalRatings are a summary
// refreshed by the aggregate synchronizer.
type Movie struct {
	ID            int64             `json:"id" gorm:"primaryKey"`
	Slug          string            `json:"slug" gorm:"type:varchar(255);not null;uniqueIndex"`
	Title         string            `json:"title" gorm:"type:text;not null"`
	Description   *string           `json:"description,omitempty" gorm:"type:text"`
	Type          ContentType       `json:"type" gorm:"type:varchar(16);not null;default:'movie'"`
	ReleaseDate   *time.Time        `json:"release_date,omitempty"`
	CoverImage    *string           `json:"cover_image,omitempty" gorm:"type:text"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	AverageRating float64           `json:"average_rating" gorm:"not null;default:0"`
	TotalRatings  int64             `json:"total_ratings" gorm:"not null;default:0"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Movie) TableName() string { return "movies" }

// Key is the identifier ratings and the search index use for the movie.
func (m Movie) Key() string {
	return strconv.FormatInt(m.ID, 10)
}

const (
	metadataCast   = "cast"
	metadataGenres = "genres"
)

// Cast reads the cast list stored in Metadata.
func (m Movie) Cast() []CastMember {
	var out []CastMember
	decodeMetadata(m.Metadata, metadataCast, &out)
	return out
}

func (m Movie) Genres() []string {
	var out []string
	decodeMetadata(m.Metadata, metadataGenres, &out)
	return out
}

// SetCast stores cast and genres into Metadata, keeping other keys.
func (m *Movie) SetCast(cast []CastMember, genres []string) {
	if m.Metadata == nil {
		m.Metadata = datatypes.JSONMap{}
	}
	if cast != nil {
		list := make([]any, 0, len(cast))
		for _, c := range cast {
			list = append(list, map[string]any{"name": c.Name, "role": c.Role})
		}
		m.Metadata[metadataCast] = list
	}
	if genres != nil {
		list := make([]any, 0, len(genres))
		for _, g := range genres {
			list = append(list, g)
		}
		m.Metadata[metadataGenres] = list
	}
}

func decodeMetadata(meta datatypes.JSONMap, key string, dst any) {
	raw, ok := meta[key]
	if !ok || raw == nil {
		return
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, dst)
}

// RatingSnapshot is the authoritative rating summary pushed to the search
// index.
type RatingSnapshot struct {
	MovieID       string
	AverageRating float64
	TotalRatings  int64
	Statistics    *ratingdomain.MovieStatistics
}

// Detail is a movie with its statistics row, if one exists.
type Detail struct {
	Movie      Movie
	Statistics *ratingdomain.MovieStatistics
}
