package rating

import (
	"context"

	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/rating/stats"
	"github.com/marquee/catalog/internal/rating/writer"
)

// RegisterJobs routes persist jobs to the writer and stats jobs to the
// synchronizer.
func RegisterJobs(worker *jobs.Worker, w *writer.Writer, s *stats.Synchronizer) {
	worker.Register(jobs.TypePersistRating, func(ctx context.Context, payload []byte) error {
		var p jobs.PersistRatingPayload
		if err := jobs.Decode(payload, &p); err != nil {
			return err
		}
		return w.Replay(ctx, p.RatingID)
	})

	worker.Register(jobs.TypeSyncStats, func(ctx context.Context, payload []byte) error {
		var p jobs.SyncStatsPayload
		if err := jobs.Decode(payload, &p); err != nil {
			return err
		}
		_, err := s.SyncMovie(ctx, p.MovieID)
		return err
	})

	worker.Register(jobs.TypeSyncStatsBatch, func(ctx context.Context, payload []byte) error {
		var p jobs.SyncStatsBatchPayload
		if err := jobs.Decode(payload, &p); err != nil {
			return err
		}
		return s.SyncMovies(ctx, p.MovieIDs)
	})
}
