package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type PropagatorParams struct {
	fx.In

	Log     *zap.Logger
	Index   Index
	Movies  moviedomain.Reader
	Config  *config.PipelineConfigHolder `optional:"true"`
	Clock   clock.Clock                  `optional:"true"`
	Metrics *metrics.PipelineMetrics     `optional:"true"`
	Meter   *metrics.Metrics             `optional:"true"`
}

// Propagator keeps the search index in step with ratings and movie edits.
// Rating updates are debounced per movie; document writes are immediate and
// retried once.
type Propagator struct {
	log     *zap.Logger
	index   Index
	movies  moviedomain.Reader
	cfg     *config.PipelineConfigHolder
	clock   clock.Clock
	metrics *metrics.PipelineMetrics
	meter   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	seq     uint64
	pending map[string]*scheduled
	docs    map[string]clock.Timer
	stopped bool
}

type scheduled struct {
	timer   clock.Timer
	seq     uint64
	attempt int
}

func NewPropagator(p PropagatorParams) *Propagator {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Propagator{
		log:     p.Log.Named("search.propagator"),
		index:   p.Index,
		movies:  p.Movies,
		cfg:     p.Config,
		clock:   clk,
		metrics: p.Metrics,
		meter:   p.Meter,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*scheduled),
		docs:    make(map[string]clock.Timer),
	}
}

// Subscribe routes rating events to the debounced path and movie events to
// the document path.
func (p *Propagator) Subscribe(bus *events.Bus) {
	rating := func(_ context.Context, evt events.Event) error {
		p.ScheduleRatingUpdate(evt.MovieKey())
		return nil
	}
	bus.Subscribe(events.TopicRatingRecorded, rating)
	bus.Subscribe(events.TopicRatingUpdated, rating)
	bus.Subscribe(events.TopicAggregateSynced, rating)

	movie := func(_ context.Context, evt events.Event) error {
		p.HandleMovieUpsert(evt)
		return nil
	}
	bus.Subscribe(events.TopicMovieCreated, movie)
	bus.Subscribe(events.TopicMovieUpdated, movie)
}

// ScheduleRatingUpdate starts or restarts the debounce timer for movieID.
func (p *Propagator) ScheduleRatingUpdate(movieID string) {
	if movieID == "" {
		return
	}
	p.schedule(movieID, p.cfg.Get().IndexDebounce, 0, true)
}

// schedule replaces any pending timer when restart is set. A retry never
// replaces a timer started by a newer event.
func (p *Propagator) schedule(movieID string, delay time.Duration, attempt int, restart bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if existing, ok := p.pending[movieID]; ok {
		if !restart {
			return
		}
		existing.timer.Stop()
	}

	p.seq++
	seq := p.seq
	entry := &scheduled{seq: seq, attempt: attempt}
	entry.timer = p.clock.AfterFunc(delay, func() { p.fire(movieID, seq) })
	p.pending[movieID] = entry
	p.metrics.SetPendingTimers(len(p.pending))
}

func (p *Propagator) fire(movieID string, seq uint64) {
	p.mu.Lock()
	entry, ok := p.pending[movieID]
	if !ok || entry.seq != seq || p.stopped {
		p.mu.Unlock()
		return
	}
	delete(p.pending, movieID)
	p.metrics.SetPendingTimers(len(p.pending))
	p.mu.Unlock()

	log := p.log.With(zap.String("movie_id", movieID), zap.Int("attempt", entry.attempt))
	err := p.pushRatingFields(movieID)
	switch {
	case err == nil:
		p.record(metrics.PropagationRating, metrics.OutcomeSynced)
	case errors.Is(err, moviedomain.ErrNotFound) || errors.Is(err, moviedomain.ErrInvalidID):
		p.record(metrics.PropagationRating, metrics.OutcomeSkipped)
		log.Debug("movie not in catalog, nothing to index")
	case entry.attempt >= p.cfg.Get().IndexMaxRetries:
		p.record(metrics.PropagationRating, metrics.OutcomeDropped)
		log.Error("rating index update dropped after retries", zap.Error(err))
	default:
		p.record(metrics.PropagationRating, metrics.OutcomeRetry)
		log.Warn("rating index update failed, rescheduling", zap.Error(err))
		p.schedule(movieID, p.cfg.Get().IndexRetryDelay, entry.attempt+1, false)
	}
}

func (p *Propagator) pushRatingFields(movieID string) error {
	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()

	snapshot, err := p.movies.RatingSnapshot(ctx, movieID)
	if err != nil {
		return err
	}
	return p.index.UpdateRatingFields(ctx, snapshot.MovieID, BuildRatingFields(*snapshot, p.clock.Now()))
}

// HandleMovieUpsert writes the full document for a created or updated movie.
// A failed write is attempted once more after the document retry delay.
func (p *Propagator) HandleMovieUpsert(evt events.Event) {
	p.upsertDocument(evt, false)
}

func (p *Propagator) upsertDocument(evt events.Event, retried bool) {
	movieID := evt.MovieKey()
	log := p.log.With(zap.String("movie_id", movieID), zap.String("topic", string(evt.Topic())))

	err := p.writeDocument(evt)
	if err == nil {
		p.record(metrics.PropagationDocument, metrics.OutcomeSynced)
		return
	}
	if errors.Is(err, moviedomain.ErrNotFound) || errors.Is(err, moviedomain.ErrInvalidID) {
		p.record(metrics.PropagationDocument, metrics.OutcomeSkipped)
		log.Warn("movie vanished before indexing", zap.Error(err))
		return
	}
	if retried {
		p.record(metrics.PropagationDocument, metrics.OutcomeDropped)
		log.Error("document index retry failed", zap.Error(err))
		return
	}

	p.record(metrics.PropagationDocument, metrics.OutcomeRetry)
	log.Warn("document index failed, retrying later", zap.Error(err))

	key := string(evt.Topic()) + ":" + movieID
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if t, ok := p.docs[key]; ok {
		t.Stop()
	}
	var timer clock.Timer
	timer = p.clock.AfterFunc(p.cfg.Get().DocumentRetry, func() {
		p.mu.Lock()
		current, ok := p.docs[key]
		if !ok || current != timer || p.stopped {
			p.mu.Unlock()
			return
		}
		delete(p.docs, key)
		p.mu.Unlock()
		p.upsertDocument(evt, true)
	})
	p.docs[key] = timer
}

func (p *Propagator) writeDocument(evt events.Event) error {
	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()

	detail, err := p.movies.Detail(ctx, evt.MovieKey())
	if err != nil {
		return err
	}
	doc := BuildDocument(*detail)
	if evt.Topic() == events.TopicMovieCreated {
		return p.index.IndexDocument(ctx, doc)
	}
	return p.index.UpdateDocument(ctx, doc)
}

func (p *Propagator) record(kind, outcome string) {
	p.metrics.IncPropagation(kind, outcome)
	p.meter.RecordIndexWrite(p.ctx, kind, outcome)
}

// Pending returns the number of scheduled rating updates and document
// retries.
func (p *Propagator) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) + len(p.docs)
}

// Stop cancels every pending timer. Later schedules are ignored.
func (p *Propagator) Stop() {
	p.mu.Lock()
	p.stopped = true
	for id, entry := range p.pending {
		entry.timer.Stop()
		delete(p.pending, id)
	}
	for key, t := range p.docs {
		t.Stop()
		delete(p.docs, key)
	}
	p.metrics.SetPendingTimers(0)
	p.mu.Unlock()

	p.cancel()
}
