package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskpilot/internal/domain"
)

const (
	defaultRedisPrefix  = "taskpilot:mail"
	defaultBlockTimeout = time.Second
	requeueTimeout      = 3 * time.Second
)

// RedisQueue implementa una lista confiable: cada job pasa de pending a processing
// y solo se elimina de processing al confirmarse.
type RedisQueue struct {
	client       redis.UniversalClient
	logger       *zap.Logger
	pending      string
	processing   string
	blockTimeout time.Duration
	recoverOnce  sync.Once
}

type RedisOption func(*RedisQueue)

func WithRedisPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) {
		q.pending = prefix + ":pending"
		q.processing = prefix + ":processing"
	}
}

func WithBlockTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

func NewRedisQueue(client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &RedisQueue{
		client:       client,
		logger:       logger,
		blockTimeout: defaultBlockTimeout,
	}
	WithRedisPrefix(defaultRedisPrefix)(q)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.EmailJob) error {
	if q.client == nil {
		return errors.New("redis client is nil")
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.pending, payload).Err()
}

// Recover devuelve a pending los jobs que quedaron en processing tras una caida.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	if q.client == nil {
		return errors.New("redis client is nil")
	}
	q.recoverOnce.Do(func() {
		moved, err := q.Recover(ctx)
		if err != nil {
			q.logger.Warn("recover processing jobs failed", zap.Error(err))
			return
		}
		if moved > 0 {
			q.logger.Info("recovered in-flight email jobs", zap.Int("count", moved))
		}
	})

	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("redis queue pop: %w", err)
		}

		job, err := decodeJob([]byte(raw))
		if err != nil {
			q.logger.Error("dropping malformed email job", zap.Error(err))
			q.ack(raw)
			continue
		}
		if err := handler(ctx, job); err != nil {
			q.requeue(raw)
			continue
		}
		q.ack(raw)
	}
}

func (q *RedisQueue) ack(raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()
	if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		q.logger.Warn("ack email job failed", zap.Error(err))
	}
}

// requeue usa su propio ctx: corre tambien cuando el ctx del consumidor ya termino.
func (q *RedisQueue) requeue(raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.LPush(ctx, q.pending, raw)
		return nil
	})
	if err != nil {
		q.logger.Warn("requeue email job failed", zap.Error(err))
	}
}

// Len devuelve el tamaño de pending y processing.
func (q *RedisQueue) Len(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.client.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.client.LLen(ctx, q.processing).Result()
	return pending, processing, err
}

// Close no cierra el cliente: lo comparten otros componentes.
func (q *RedisQueue) Close() error {
	return nil
}
