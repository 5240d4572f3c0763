package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/marquee/catalog/internal/config"
	obscontext "github.com/marquee/catalog/internal/observability/context"
	"go.uber.org/zap"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

const (
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 5 * time.Minute
)

func redisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// AsynqQueue enqueues jobs on a Redis-backed asynq queue.
type AsynqQueue struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewAsynqQueue(cfg config.Config, log *zap.Logger) *AsynqQueue {
	return &AsynqQueue{
		client: asynq.NewClient(redisOpt(cfg.Queue)),
		log:    log.Named("jobs.queue"),
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.Type) == "" {
		return ErrInvalidJobType
	}
	task := asynq.NewTask(job.Type, job.Payload)
	info, err := q.client.EnqueueContext(ctx, task, taskOptions(job)...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	q.log.Debug("job enqueued",
		zap.String("job_type", job.Type),
		zap.String("job_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Duration("delay", job.Delay),
	)
	return nil
}

func (q *AsynqQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

func taskOptions(job Job) []asynq.Option {
	retries := job.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	opts := []asynq.Option{
		asynq.MaxRetry(retries),
		asynq.Queue(queueFor(job.Priority)),
	}
	if job.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(job.Delay))
	}
	return opts
}

func queueFor(priority int) string {
	switch {
	case priority >= PriorityCritical:
		return QueueCritical
	case priority < PriorityDefault:
		return QueueLow
	default:
		return QueueDefault
	}
}

// RetryDelay is exponential: 2s, 4s, 8s, ... capped at five minutes.
func RetryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := baseRetryDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// AsynqServer pulls jobs from the queue and hands them to the Worker.
type AsynqServer struct {
	srv    *asynq.Server
	worker *Worker
	log    *zap.Logger
}

func NewAsynqServer(cfg config.Config, worker *Worker, log *zap.Logger) *AsynqServer {
	log = log.Named("jobs.server")
	concurrency := cfg.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(redisOpt(cfg.Queue), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return RetryDelay(n)
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		Logger:   log.Sugar(),
		LogLevel: asynq.WarnLevel,
	})
	return &AsynqServer{srv: srv, worker: worker, log: log}
}

func (s *AsynqServer) Start() error {
	s.log.Info("job server starting", zap.Strings("job_types", s.worker.Types()))
	return s.srv.Start(asynq.HandlerFunc(s.process))
}

func (s *AsynqServer) Shutdown() {
	s.srv.Shutdown()
}

func (s *AsynqServer) process(ctx context.Context, task *asynq.Task) error {
	info := obscontext.JobInfo{Type: task.Type()}
	if id, ok := asynq.GetTaskID(ctx); ok {
		info.ID = id
	}
	if n, ok := asynq.GetRetryCount(ctx); ok {
		info.Attempt = n + 1
	}
	ctx = obscontext.WithJob(ctx, info)

	err := s.worker.Handle(ctx, task.Type(), task.Payload())
	if IsPermanent(err) {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	return err
}
