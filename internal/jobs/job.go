// Package jobs defines the delayed, retried background work the rating
// pipeline hands off, and the worker that dispatches it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TypePersistRating  = "rating:persist"
	TypeSyncStats      = "rating:stats"
	TypeSyncStatsBatch = "rating:stats:batch"
)

const (
	PriorityLow      = -1
	PriorityDefault  = 0
	PriorityCritical = 5
)

var (
	ErrInvalidJobType = errors.New("invalid_job_type")
	ErrInvalidPayload = errors.New("invalid_job_payload")

	// ErrPermanent marks a failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent_job_failure")
)

// Job is one unit of background work. MaxAttempts counts the first run.
type Job struct {
	Type        string
	Payload     []byte
	Delay       time.Duration
	MaxAttempts int
	Priority    int
}

// Queue accepts jobs for delayed, at-least-once execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

type PersistRatingPayload struct {
	RatingID string `json:"ratingId"`
}

type SyncStatsPayload struct {
	MovieID string `json:"movieId"`
	Rating  int    `json:"rating,omitempty"`
}

type SyncStatsBatchPayload struct {
	MovieIDs []string `json:"movieIds"`
}

// NewJob encodes payload as JSON.
func NewJob(jobType string, payload any) (Job, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return Job{}, ErrInvalidJobType
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", jobType, err)
	}
	return Job{Type: jobType, Payload: raw, MaxAttempts: 1}, nil
}

// Decode unmarshals a job payload. Malformed payloads are permanent failures.
func Decode(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	return nil
}

// Permanent wraps err so the queue stops retrying it.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
