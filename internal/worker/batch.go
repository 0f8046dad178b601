package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis

	shutdownFlushTimeout = 5 * time.Second
)

// errEmpty is returned by a Source when no item arrived within the timeout.
var errEmpty = errors.New("queue empty")

// Source is the list a worker drains.
type Source interface {
	// Pop blocks up to timeout for the next raw item.
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	// Push appends raw items back, for retry.
	Push(ctx context.Context, items ...string) error
}

// RedisSource is a Source backed by a Redis list.
type RedisSource struct {
	rdb   *redis.Client
	queue string
}

func NewRedisSource(rdb *redis.Client, queue string) *RedisSource {
	return &RedisSource{rdb: rdb, queue: queue}
}

func (s *RedisSource) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := s.rdb.BLPop(ctx, timeout, s.queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", errEmpty
	}
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", errEmpty
	}
	return result[1], nil
}

func (s *RedisSource) Push(ctx context.Context, items ...string) error {
	pipe := s.rdb.Pipeline()
	for _, it := range items {
		pipe.RPush(ctx, s.queue, it)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// batchLoop buffers decoded items and flushes them in bulk, falling back to
// row-by-row writes and requeueing rows that still fail.
type batchLoop[T any] struct {
	src    Source
	log    zerolog.Logger
	bulk   func(ctx context.Context, batch []T) error
	single func(ctx context.Context, item T) error

	size         int
	timeout      time.Duration
	pollTimeout  time.Duration
	errorBackoff time.Duration
}

func newBatchLoop[T any](src Source, log zerolog.Logger, bulk func(context.Context, []T) error, single func(context.Context, T) error) *batchLoop[T] {
	return &batchLoop[T]{
		src:          src,
		log:          log,
		bulk:         bulk,
		single:       single,
		size:         BatchSize,
		timeout:      BatchTimeout,
		pollTimeout:  PollTimeout,
		errorBackoff: 3 * time.Second,
	}
}

// run loops until ctx is done, then flushes what is buffered.
func (l *batchLoop[T]) run(ctx context.Context) {
	l.log.Info().Msg("Worker started")

	buffer := make([]T, 0, l.size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= l.size || time.Since(lastFlush) >= l.timeout) {
			l.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			l.shutdown(buffer)
			return
		default:
		}

		raw, err := l.src.Pop(ctx, l.pollTimeout)
		if err != nil {
			if errors.Is(err, errEmpty) || ctx.Err() != nil {
				continue
			}
			l.log.Error().Err(err).Dur("backoff", l.errorBackoff).Msg("Queue connection error")
			sleep(ctx, l.errorBackoff)
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			// Malformed JSON can never succeed; drop it.
			l.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

// flushSafe attempts bulk write, then fallback, then requeue.
func (l *batchLoop[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := l.bulk(ctx, batch)
	if err == nil {
		l.log.Debug().Int("count", len(batch)).Msg("Batch persisted")
		return
	}
	l.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var requeue []string
	for _, item := range batch {
		err := l.single(ctx, item)
		if err == nil {
			continue
		}
		if errors.Is(err, errDrop) {
			l.log.Error().Err(err).Msg("Dropping unpersistable item")
			continue
		}
		l.log.Error().Err(err).Msg("Write failed, requeueing")
		data, _ := json.Marshal(item)
		requeue = append(requeue, string(data))
	}
	if len(requeue) > 0 {
		l.requeue(ctx, requeue)
	}
}

func (l *batchLoop[T]) requeue(ctx context.Context, items []string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
	}
	if err := l.src.Push(ctx, items...); err != nil {
		l.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items. Data loss occurred.")
		return
	}
	l.log.Info().Int("count", len(items)).Msg("Requeued failed items")
	// Avoid thrashing while the database is down.
	sleep(ctx, l.errorBackoff)
}

func (l *batchLoop[T]) shutdown(buffer []T) {
	l.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	l.flushSafe(ctx, buffer)

	l.log.Info().Msg("Worker stopped")
}

// errDrop marks an item that will never persist, e.g. an unknown token.
var errDrop = errors.New("item cannot be persisted")

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
