package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"taskpilot/internal/domain"
)

const (
	DefaultStream  = "TASKPILOT_MAIL"
	DefaultSubject = "taskpilot.mail.jobs"
	DefaultDurable = "mail-dispatcher"
)

// NATSQueue usa un stream JetStream con politica work-queue y un consumidor durable compartido.
type NATSQueue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	logger  *zap.Logger
	stream  string
	subject string
	durable string
	ackWait time.Duration
}

func NewNATSQueue(url string, logger *zap.Logger, ackWait time.Duration, opts ...nats.Option) (*NATSQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if ackWait <= 0 {
		ackWait = time.Minute
	}
	q := &NATSQueue{
		conn:    nc,
		js:      js,
		logger:  logger,
		stream:  DefaultStream,
		subject: DefaultSubject,
		durable: DefaultDurable,
		ackWait: ackWait,
	}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *NATSQueue) ensureStream() error {
	_, err := q.js.StreamInfo(q.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

// Enqueue publica con el id del job como Msg-Id para deduplicar reintentos del productor.
func (q *NATSQueue) Enqueue(ctx context.Context, job domain.EmailJob) error {
	if q == nil {
		return errors.New("nil queue")
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = q.js.Publish(q.subject, payload, nats.Context(ctx), nats.MsgId(job.ID))
	return err
}

func (q *NATSQueue) Consume(ctx context.Context, handler Handler) error {
	if q == nil {
		return errors.New("nil queue")
	}
	if handler == nil {
		return errors.New("nil handler")
	}

	cb := func(msg *nats.Msg) {
		job, err := decodeJob(msg.Data)
		if err != nil {
			q.logger.Error("dropping malformed email job", zap.Error(err))
			_ = msg.Term()
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go q.keepAlive(handlerCtx, msg)
		if err := handler(handlerCtx, job); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}

	sub, err := q.js.QueueSubscribe(q.subject, q.durable, cb,
		nats.Durable(q.durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(q.ackWait),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// keepAlive extiende el AckWait mientras el handler sigue reintentando.
func (q *NATSQueue) keepAlive(ctx context.Context, msg *nats.Msg) {
	ticker := time.NewTicker(q.ackWait / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := msg.InProgress(); err != nil {
				q.logger.Warn("extend ack wait failed", zap.Error(err))
				return
			}
		}
	}
}

func (q *NATSQueue) Close() error {
	if q == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
	}
	return nil
}
