// Package domain contains the rating value types, cache key layout and the
// persistence models for ratings and per-movie statistics.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	MinValue = 1
	MaxValue = 5
)

// Value is a star rating between MinValue and MaxValue inclusive.
type Value int

func NewValue(v int) (Value, error) {
	if v < MinValue || v > MaxValue {
		return 0, fmt.Errorf("%w: %d is outside %d-%d", ErrInvalidRating, v, MinValue, MaxValue)
	}
	return Value(v), nil
}

// ParseValue accepts integers, integral floats and numeric strings.
func ParseValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		return NewValue(int(v))
	case int:
		return NewValue(v)
	case int32:
		return NewValue(int(v))
	case int64:
		return NewValue(int(v))
	case float64:
		return parseFloat(v)
	case float32:
		return parseFloat(float64(v))
	case json.Number:
		return ParseValue(v.String())
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return NewValue(n)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidRating, v)
		}
		return parseFloat(f)
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidRating)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidRating, raw)
	}
}

func parseFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidRating, f)
	}
	if f < MinValue || f > MaxValue {
		return 0, fmt.Errorf("%w: %v is outside %d-%d", ErrInvalidRating, f, MinValue, MaxValue)
	}
	return Value(int(f)), nil
}

func (v Value) Int() int { return int(v) }

// Viewer identifies who submitted a rating. At least one field is set.
type Viewer struct {
	SessionID string
	UserID    string
	IPAddress string
}

func NewViewer(sessionID, userID, ipAddress string) (Viewer, error) {
	v := Viewer{
		SessionID: strings.TrimSpace(sessionID),
		UserID:    strings.TrimSpace(userID),
		IPAddress: strings.TrimSpace(ipAddress),
	}
	if v.SessionID == "" && v.UserID == "" && v.IPAddress == "" {
		return Viewer{}, ErrMissingViewer
	}
	return v, nil
}

// Same reports whether both identities belong to one viewer. The IP address
// is never used to match.
func (v Viewer) Same(other Viewer) bool {
	if v.UserID != "" && v.UserID == other.UserID {
		return true
	}
	return v.SessionID != "" && v.SessionID == other.SessionID
}

// DedupKeys are the identity parts of the duplicate marker keys, one per
// matchable id. An IP-only viewer has none.
func (v Viewer) DedupKeys() []string {
	keys := make([]string, 0, 2)
	if v.SessionID != "" {
		keys = append(keys, v.SessionID)
	}
	if v.UserID != "" && v.UserID != v.SessionID {
		keys = append(keys, v.UserID)
	}
	return keys
}

// Matchable reports whether the viewer can be looked up in durable storage.
func (v Viewer) Matchable() bool {
	return v.SessionID != "" || v.UserID != ""
}

// Rating is a single vote. Rows are only ever inserted.
type Rating struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	MovieID   string    `gorm:"type:varchar(64);not null;index" json:"movieId"`
	Value     int       `gorm:"column:rating;not null" json:"rating"`
	SessionID *string   `gorm:"type:varchar(255)" json:"sessionId,omitempty"`
	UserID    *string   `gorm:"type:varchar(255)" json:"userId,omitempty"`
	IPAddress *string   `gorm:"type:varchar(64)" json:"-"`
	UserAgent *string   `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

func (Rating) TableName() string { return "ratings" }

// Viewer rebuilds the identity the rating was submitted with.
func (r Rating) Viewer() Viewer {
	return Viewer{
		SessionID: deref(r.SessionID),
		UserID:    deref(r.UserID),
		IPAddress: deref(r.IPAddress),
	}
}

// MovieStatistics is the durable aggregate snapshot for one movie.
type MovieStatistics struct {
	MovieID            string    `gorm:"primaryKey;type:varchar(64)" json:"movieId"`
	AverageRating      float64   `gorm:"not null;default:0" json:"averageRating"`
	TotalRatings       int64     `gorm:"not null;default:0" json:"totalRatings"`
	OneStarCount       int64     `gorm:"column:rating_1_count;not null;default:0" json:"oneStarCount"`
	TwoStarCount       int64     `gorm:"column:rating_2_count;not null;default:0" json:"twoStarCount"`
	ThreeStarCount     int64     `gorm:"column:rating_3_count;not null;default:0" json:"threeStarCount"`
	FourStarCount      int64     `gorm:"column:rating_4_count;not null;default:0" json:"fourStarCount"`
	FiveStarCount      int64     `gorm:"column:rating_5_count;not null;default:0" json:"fiveStarCount"`
	RecentRatingsCount int64     `gorm:"not null;default:0" json:"recentRatingsCount"`
	TrendingScore      float64   `gorm:"not null;default:0" json:"trendingScore"`
	LastCalculatedAt   time.Time `gorm:"not null" json:"lastCalculatedAt"`
	CreatedAt          time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"not null" json:"updatedAt"`
}

func (MovieStatistics) TableName() string { return "movie_statistics" }

// SetBucket stores the count for star value n. Other values are ignored.
func (s *MovieStatistics) SetBucket(n int, count int64) {
	switch n {
	case 1:
		s.OneStarCount = count
	case 2:
		s.TwoStarCount = count
	case 3:
		s.ThreeStarCount = count
	case 4:
		s.FourStarCount = count
	case 5:
		s.FiveStarCount = count
	}
}

// PendingEntry is the snapshot pushed onto the pending queue. Timestamp is
// in unix milliseconds.
type PendingEntry struct {
	ID        string `json:"id"`
	MovieID   string `json:"movieId"`
	Rating    int    `json:"rating"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewPendingEntry(r Rating) PendingEntry {
	return PendingEntry{
		ID:        r.ID,
		MovieID:   r.MovieID,
		Rating:    r.Value,
		SessionID: deref(r.SessionID),
		UserID:    deref(r.UserID),
		IPAddress: deref(r.IPAddress),
		UserAgent: deref(r.UserAgent),
		Timestamp: r.CreatedAt.UnixMilli(),
	}
}

func (e PendingEntry) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Fields is the cache hash representation of the rating.
func (e PendingEntry) Fields() map[string]string {
	return map[string]string{
		FieldID:        e.ID,
		FieldMovieID:   e.MovieID,
		FieldRating:    strconv.Itoa(e.Rating),
		FieldSessionID: e.SessionID,
		FieldUserID:    e.UserID,
		FieldIPAddress: e.IPAddress,
		FieldUserAgent: e.UserAgent,
		FieldTimestamp: strconv.FormatInt(e.Timestamp, 10),
	}
}

// OptionalString maps a blank value to nil.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
