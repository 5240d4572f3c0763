package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/marquee/catalog/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is the Store backed by Redis.
type RedisStore struct {
	client  redis.UniversalClient
	log     *zap.Logger
	metrics *metrics.PipelineMetrics
}

func NewRedisStore(client redis.UniversalClient, log *zap.Logger, m *metrics.PipelineMetrics) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client:  client,
		log:     log.Named("cache"),
		metrics: m,
	}
}

// Ping reports whether the backing server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("cache not configured")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	if s == nil || s.client == nil {
		return "", false
	}
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		s.fail("get", key, err)
		return "", false
	}
	return value, true
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.fail("get_json", key, err)
		return false
	}
	return true
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.fail("set", key, err)
	}
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.fail("set_json", key, err)
		return
	}
	s.Set(ctx, key, string(raw), ttl)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) {
	if s == nil || s.client == nil || len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.fail("del", strings.Join(keys, ","), err)
	}
}

func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	if s == nil || s.client == nil {
		return false
	}
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.fail("exists", key, err)
		return false
	}
	return n > 0
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, bool) {
	if s == nil || s.client == nil {
		return false, false
	}
	set, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		s.fail("setnx", key, err)
		return false, false
	}
	return set, true
}

func (s *RedisStore) Incr(ctx context.Context, key string, by int64) int64 {
	if s == nil || s.client == nil {
		return 0
	}
	n, err := s.client.IncrBy(ctx, key, by).Result()
	if err != nil {
		s.fail("incr", key, err)
		return 0
	}
	return n
}

func (s *RedisStore) IncrFloat(ctx context.Context, key string, by float64) float64 {
	if s == nil || s.client == nil {
		return 0
	}
	n, err := s.client.IncrByFloat(ctx, key, by).Result()
	if err != nil {
		s.fail("incr_float", key, err)
		return 0
	}
	return n
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool) {
	if s == nil || s.client == nil {
		return "", false
	}
	value, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		s.fail("hget", key, err)
		return "", false
	}
	return value, true
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) {
	if s == nil || s.client == nil || len(fields) == 0 {
		return
	}
	if err := s.client.HSet(ctx, key, fieldArgs(fields)...).Err(); err != nil {
		s.fail("hset", key, err)
	}
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) map[string]string {
	if s == nil || s.client == nil {
		return nil
	}
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		s.fail("hgetall", key, err)
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) {
	if s == nil || s.client == nil || len(values) == 0 {
		return
	}
	if err := s.client.LPush(ctx, key, stringArgs(values)...).Err(); err != nil {
		s.fail("lpush", key, err)
	}
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) []string {
	if s == nil || s.client == nil {
		return nil
	}
	values, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		s.fail("lrange", key, err)
		return nil
	}
	return values
}

func (s *RedisStore) LRem(ctx context.Context, key string, count int64, value string) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.LRem(ctx, key, count, value).Err(); err != nil {
		s.fail("lrem", key, err)
	}
}

func (s *RedisStore) LLen(ctx context.Context, key string) int64 {
	if s == nil || s.client == nil {
		return 0
	}
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		s.fail("llen", key, err)
		return 0
	}
	return n
}

func (s *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{store: s}
}

// fail records a soft failure. A missing key is not a failure.
func (s *RedisStore) fail(op, key string, err error) {
	if errors.Is(err, redis.Nil) {
		return
	}
	s.metrics.IncCacheError(op)
	if s.log != nil {
		s.log.Warn("cache operation failed",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

type queuedOp struct {
	op  string
	key string
	add func(pipe redis.Pipeliner)
}

type redisPipeline struct {
	store *RedisStore
	ops   []queuedOp
}

func (p *redisPipeline) queue(op, key string, add func(pipe redis.Pipeliner)) Pipeline {
	p.ops = append(p.ops, queuedOp{op: op, key: key, add: add})
	return p
}

func (p *redisPipeline) HSet(key string, fields map[string]string) Pipeline {
	args := fieldArgs(fields)
	return p.queue("hset", key, func(pipe redis.Pipeliner) { pipe.HSet(context.Background(), key, args...) })
}

func (p *redisPipeline) SetEx(key, value string, ttl time.Duration) Pipeline {
	return p.queue("setex", key, func(pipe redis.Pipeliner) { pipe.SetEx(context.Background(), key, value, ttl) })
}

func (p *redisPipeline) LPush(key string, values ...string) Pipeline {
	args := stringArgs(values)
	return p.queue("lpush", key, func(pipe redis.Pipeliner) { pipe.LPush(context.Background(), key, args...) })
}

func (p *redisPipeline) IncrFloat(key string, by float64) Pipeline {
	return p.queue("incr_float", key, func(pipe redis.Pipeliner) { pipe.IncrByFloat(context.Background(), key, by) })
}

func (p *redisPipeline) Incr(key string, by int64) Pipeline {
	return p.queue("incr", key, func(pipe redis.Pipeliner) { pipe.IncrBy(context.Background(), key, by) })
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) Pipeline {
	return p.queue("expire", key, func(pipe redis.Pipeliner) { pipe.Expire(context.Background(), key, ttl) })
}

func (p *redisPipeline) LRem(key string, count int64, value string) Pipeline {
	return p.queue("lrem", key, func(pipe redis.Pipeliner) { pipe.LRem(context.Background(), key, count, value) })
}

func (p *redisPipeline) Del(keys ...string) Pipeline {
	return p.queue("del", strings.Join(keys, ","), func(pipe redis.Pipeliner) { pipe.Del(context.Background(), keys...) })
}

func (p *redisPipeline) Len() int {
	return len(p.ops)
}

// Exec submits the queued writes as one MULTI/EXEC block. Redis does not
// roll back a transaction when a single command fails, so results are
// reported per operation.
func (p *redisPipeline) Exec(ctx context.Context) []Result {
	results := make([]Result, len(p.ops))
	for i, op := range p.ops {
		results[i] = Result{Op: op.op, Key: op.key}
	}
	if len(p.ops) == 0 {
		return results
	}

	s := p.store
	if s == nil || s.client == nil {
		err := errors.New("cache not configured")
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	pipe := s.client.TxPipeline()
	for _, op := range p.ops {
		op.add(pipe)
	}
	cmds, execErr := pipe.Exec(ctx)

	for i := range results {
		var err error
		if i < len(cmds) {
			err = cmds[i].Err()
		} else {
			err = execErr
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			results[i].Err = err
			s.fail("pipeline_"+results[i].Op, results[i].Key, err)
			continue
		}
		if i < len(cmds) {
			if cmd, ok := cmds[i].(*redis.IntCmd); ok {
				results[i].N = cmd.Val()
			}
		}
	}
	p.ops = nil
	return results
}

func fieldArgs(fields map[string]string) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// ParseInt reads an integer counter value; missing or malformed values are 0.
func ParseInt(raw string, ok bool) int64 {
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}

// ParseFloat reads a float counter value; missing or malformed values are 0.
func ParseFloat(raw string, ok bool) float64 {
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return f
}
