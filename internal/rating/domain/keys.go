package domain

import (
	"strconv"
	"strings"
)

const (
	PendingQueueKey = "pending:ratings"
	ActiveMoviesKey = "active_movies"

	DuplicateMarker = "exists"
	PersistedFlag   = "1"
)

// Rating hash fields.
const (
	FieldID        = "id"
	FieldMovieID   = "movieId"
	FieldRating    = "rating"
	FieldSessionID = "sessionId"
	FieldUserID    = "userId"
	FieldIPAddress = "ipAddress"
	FieldUserAgent = "userAgent"
	FieldTimestamp = "timestamp"
	FieldPersisted = "persisted"
)

func RatingKey(ratingID string) string {
	return "rating:" + ratingID
}

// DuplicateKeys returns one marker key per viewer id, session first.
func DuplicateKeys(movieID string, viewer Viewer) []string {
	ids := viewer.DedupKeys()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, "dup:"+strings.TrimSpace(movieID)+":"+id)
	}
	return keys
}

func SumKey(movieID string) string {
	return movieKey(movieID, "rating_sum")
}

func CountKey(movieID string) string {
	return movieKey(movieID, "rating_count")
}

// BucketKey counts ratings with star value n.
func BucketKey(movieID string, n int) string {
	return movieKey(movieID, "rating_"+strconv.Itoa(n))
}

func RecentKey(movieID string) string {
	return movieKey(movieID, "recent_count")
}

func movieKey(movieID, suffix string) string {
	return "movie:" + strings.TrimSpace(movieID) + ":" + suffix
}
