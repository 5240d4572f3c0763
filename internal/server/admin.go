package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const bulkSyncTimeout = 30 * time.Minute

type syncMovieRatingResponse struct {
	MovieID        string `json:"movie_id"`
	StatsSynced    bool   `json:"stats_synced"`
	IndexScheduled bool   `json:"index_scheduled"`
}

// SyncMovieRating recomputes the durable aggregate from the cache counters
// and schedules a debounced index update. Pass stats=false to only touch
// the index.
func (s *Server) SyncMovieRating(c *gin.Context) {
	movieID := strings.TrimSpace(c.Param("id"))
	if movieID == "" {
		AbortWithError(c, newValidationError("id", "invalid_id", "movie id is required"))
		return
	}
	withStats, err := parseOptionalBool(c.Query("stats"))
	if err != nil {
		AbortWithError(c, newValidationError("stats", "invalid_stats", "invalid stats"))
		return
	}

	resp := syncMovieRatingResponse{MovieID: movieID}
	if boolOr(withStats, true) && s.synchronizer != nil {
		synced, err := s.synchronizer.SyncMovie(c.Request.Context(), movieID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.StatsSynced = synced
	}
	if s.propagator != nil {
		s.propagator.ScheduleRatingUpdate(movieID)
		resp.IndexScheduled = true
	}

	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}

// BulkSync reindexes the whole catalog. It runs in the background unless
// wait=true.
func (s *Server) BulkSync(c *gin.Context) {
	if s.syncer == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	batchSize, err := parseOptionalInt(c.Query("batch_size"))
	if err != nil {
		AbortWithError(c, newValidationError("batch_size", "invalid_batch_size", "invalid batch size"))
		return
	}
	wait, err := parseOptionalBool(c.Query("wait"))
	if err != nil {
		AbortWithError(c, newValidationError("wait", "invalid_wait", "invalid wait"))
		return
	}

	if boolOr(wait, false) {
		result, err := s.syncer.BulkSync(c.Request.Context(), batchSize)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bulkSyncTimeout)
		defer cancel()
		if _, err := s.syncer.BulkSync(ctx, batchSize); err != nil {
			s.log.Warn("background bulk sync failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"status": "started"}})
}

// DrainRatings runs one pending-queue drain cycle immediately.
func (s *Server) DrainRatings(c *gin.Context) {
	if s.writer == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	result, err := s.writer.Drain(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
