package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	obscontext "github.com/marquee/catalog/internal/observability/context"
	"github.com/marquee/catalog/internal/observability/logger"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/marquee/catalog/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler runs one job. Returning an error asks the queue to retry, unless
// the error is Permanent.
type Handler func(ctx context.Context, payload []byte) error

type WorkerParams struct {
	fx.In

	Log     *zap.Logger
	Metrics *metrics.PipelineMetrics `optional:"true"`
}

// Worker routes jobs to the handler registered for their type.
type Worker struct {
	log     *zap.Logger
	metrics *metrics.PipelineMetrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		log:      p.Log.Named("jobs.worker"),
		metrics:  p.Metrics,
		handlers: make(map[string]Handler),
	}
}

func (w *Worker) Register(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

func (w *Worker) Types() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Handle runs the handler for jobType. Unknown types fail permanently.
func (w *Worker) Handle(ctx context.Context, jobType string, payload []byte) error {
	w.mu.RLock()
	h, ok := w.handlers[jobType]
	w.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrInvalidJobType, jobType))
	}

	ctx, _ = correlation.EnsureCorrelationID(ctx)
	if _, ok := obscontext.JobFromContext(ctx); !ok {
		ctx = obscontext.WithJob(ctx, obscontext.JobInfo{Type: jobType})
	}
	log := logger.WithContext(ctx, w.log)

	start := time.Now()
	err := w.run(ctx, h, payload)
	w.metrics.ObserveJob(jobType, time.Since(start), err)

	switch {
	case err == nil:
		log.Debug("job completed", zap.Duration("duration", time.Since(start)))
	case IsPermanent(err):
		log.Error("job failed permanently", zap.Error(err))
	default:
		log.Warn("job failed", zap.Error(err))
	}
	return err
}

func (w *Worker) run(ctx context.Context, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("job handler panicked: %v", r))
		}
	}()
	return h(ctx, payload)
}
