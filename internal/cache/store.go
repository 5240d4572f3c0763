package cache

import (
	"context"
	"time"
)

// Store is the fast, shared key-value store in front of durable storage.
// Every method fails softly: errors are logged and counted, and the caller
// sees a miss, a zero value or a no-op.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	// GetJSON decodes the value at key into dst. A value that does not parse
	// is reported as a miss.
	GetJSON(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key, value string, ttl time.Duration)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	Exists(ctx context.Context, key string) bool
	// SetNX sets key only when it is absent and reports whether it did.
	// ok is false when the store could not answer.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (set, ok bool)
	Incr(ctx context.Context, key string, by int64) int64
	IncrFloat(ctx context.Context, key string, by float64) float64

	HGet(ctx context.Context, key, field string) (string, bool)
	HSet(ctx context.Context, key string, fields map[string]string)
	HGetAll(ctx context.Context, key string) map[string]string

	LPush(ctx context.Context, key string, values ...string)
	LRange(ctx context.Context, key string, start, stop int64) []string
	LRem(ctx context.Context, key string, count int64, value string)
	LLen(ctx context.Context, key string) int64

	Pipeline() Pipeline
}

// Pipeline queues writes that are submitted together. Execution does not
// roll back: each queued operation reports its own outcome.
type Pipeline interface {
	HSet(key string, fields map[string]string) Pipeline
	SetEx(key, value string, ttl time.Duration) Pipeline
	LPush(key string, values ...string) Pipeline
	IncrFloat(key string, by float64) Pipeline
	Incr(key string, by int64) Pipeline
	Expire(key string, ttl time.Duration) Pipeline
	LRem(key string, count int64, value string) Pipeline
	Del(keys ...string) Pipeline
	Len() int
	Exec(ctx context.Context) []Result
}

// Result is the outcome of one queued pipeline operation.
type Result struct {
	Op  string
	Key string
	Err error
	// N is the integer reply, such as the number of elements LREM removed.
	N int64
}

// Failed returns the results that reported an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
