package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"taskpilot/internal/domain"
	"taskpilot/internal/email"
	"taskpilot/internal/queue"
)

type Config struct {
	Workers       int
	RatePerSecond float64
	MaxAttempts   uint64
	RetryBase     time.Duration
	RetryCap      time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// RetryBudget es el tiempo maximo que un job puede pasar dentro de Handle
// sin contar la espera del rate limiter.
func (c Config) RetryBudget() time.Duration {
	c = c.withDefaults()
	budget := time.Duration(c.MaxAttempts) * c.SendTimeout
	backoff := c.RetryBase
	for i := uint64(1); i < c.MaxAttempts; i++ {
		budget += min(backoff, c.RetryCap)
		backoff *= 2
	}
	return budget
}

// Renderer convierte un job en un correo listo para enviar.
type Renderer interface {
	Render(job domain.EmailJob) (email.Message, error)
}

// Dispatcher consume jobs de la cola y los entrega por el transporte,
// con un techo de envios compartido por todos los workers.
type Dispatcher struct {
	logger    *zap.Logger
	queue     queue.Queue
	renderer  Renderer
	transport email.Transport
	limiter   *rate.Limiter
	metrics   *Metrics
	cfg       Config
}

func New(logger *zap.Logger, q queue.Queue, renderer Renderer, transport email.Transport, metrics *Metrics, cfg Config) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Dispatcher{
		logger:    logger,
		queue:     q,
		renderer:  renderer,
		transport: transport,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run bloquea hasta que ctx termina o un worker falla.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.queue == nil || d.renderer == nil || d.transport == nil {
		return errors.New("dispatcher not configured")
	}
	d.logger.Info("email dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Float64("rate_per_second", d.cfg.RatePerSecond),
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			return d.queue.Consume(gctx, d.Handle)
		})
	}
	err := g.Wait()
	d.logger.Info("email dispatcher stopped")
	return err
}

// Handle procesa un job. Devuelve error solo si ctx se cancelo antes de terminar,
// para que la cola lo vuelva a entregar; un job agotado o invalido se confirma.
func (d *Dispatcher) Handle(ctx context.Context, job domain.EmailJob) error {
	kind := string(job.Kind)
	logger := d.logger.With(zap.String("job_id", job.ID), zap.String("kind", kind))

	msg, err := d.renderer.Render(job)
	if err != nil {
		logger.Error("email job invalid", zap.Error(err))
		d.metrics.job(kind, resultInvalid)
		return nil
	}

	backoff := retry.NewExponential(d.cfg.RetryBase)
	backoff = retry.WithCappedDuration(d.cfg.RetryCap, backoff)
	backoff = retry.WithMaxRetries(d.cfg.MaxAttempts-1, backoff)

	attempts := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		attempts++
		d.metrics.attempt(kind)

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		err := d.transport.Send(sendCtx, msg)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, email.ErrTransportDisabled):
			return err
		}
		logger.Warn("email send attempt failed", zap.Error(err), zap.Int("attempt", attempts))
		return retry.RetryableError(err)
	})

	if err == nil {
		logger.Info("email job completed", zap.Int("attempts", attempts))
		d.metrics.job(kind, resultSent)
		return nil
	}
	if ctx.Err() != nil {
		logger.Info("email job interrupted", zap.Int("attempts", attempts))
		return fmt.Errorf("email job %s interrupted: %w", job.ID, ctx.Err())
	}
	logger.Error("email job failed", zap.Error(err), zap.Int("attempts", attempts))
	d.metrics.job(kind, resultFailed)
	return nil
}
