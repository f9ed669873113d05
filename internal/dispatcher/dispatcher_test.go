package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskpilot/internal/domain"
	"taskpilot/internal/email"
	"taskpilot/internal/queue"
)

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	err      error
	sent     []email.Message
	calls    int
	block    bool
}

func (f *fakeTransport) Send(ctx context.Context, msg email.Message) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if call <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("relay unavailable")
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestDispatcher(t *testing.T, q queue.Queue, transport email.Transport, maxAttempts uint64) (*Dispatcher, *Metrics) {
	t.Helper()
	renderer, err := email.NewRenderer("http://localhost:5173")
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := New(nil, q, renderer, transport, metrics, Config{
		MaxAttempts: maxAttempts,
		RetryBase:   time.Millisecond,
		RetryCap:    5 * time.Millisecond,
	})
	return d, metrics
}

func job(id string) domain.EmailJob {
	return domain.EmailJob{
		ID:             id,
		Kind:           domain.EmailJobVerification,
		RecipientEmail: "a@x.com",
		TokenValue:     "tok",
	}
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	transport := &fakeTransport{failures: 2}
	d, metrics := newTestDispatcher(t, nil, transport, 5)

	if err := d.Handle(context.Background(), job("1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if transport.calls != 3 || transport.sentCount() != 1 {
		t.Fatalf("expected 3 attempts and one delivery, got calls=%d sent=%d", transport.calls, transport.sentCount())
	}
	if got := testutil.ToFloat64(metrics.attempts.WithLabelValues("send-verification")); got != 3 {
		t.Fatalf("expected 3 attempts counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.jobs.WithLabelValues("send-verification", resultSent)); got != 1 {
		t.Fatalf("expected sent counter 1, got %v", got)
	}
	if transport.sent[0].Subject != email.SubjectVerification {
		t.Fatalf("unexpected subject %q", transport.sent[0].Subject)
	}
}

func TestHandleExhaustionAcksJob(t *testing.T) {
	transport := &fakeTransport{failures: 100}
	d, metrics := newTestDispatcher(t, nil, transport, 3)

	if err := d.Handle(context.Background(), job("1")); err != nil {
		t.Fatalf("expected exhausted job to be acked, got %v", err)
	}
	if transport.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", transport.calls)
	}
	if got := testutil.ToFloat64(metrics.jobs.WithLabelValues("send-verification", resultFailed)); got != 1 {
		t.Fatalf("expected failed counter 1, got %v", got)
	}
}

func TestHandleDisabledTransportDoesNotRetry(t *testing.T) {
	transport := &fakeTransport{failures: 100, err: email.ErrTransportDisabled}
	d, _ := newTestDispatcher(t, nil, transport, 5)

	if err := d.Handle(context.Background(), job("1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if transport.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", transport.calls)
	}
}

func TestHandleInvalidJobIsAcked(t *testing.T) {
	transport := &fakeTransport{}
	d, metrics := newTestDispatcher(t, nil, transport, 5)

	bad := job("1")
	bad.Kind = "unknown"
	if err := d.Handle(context.Background(), bad); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if transport.calls != 0 {
		t.Fatalf("expected no send for invalid job")
	}
	if got := testutil.ToFloat64(metrics.jobs.WithLabelValues("unknown", resultInvalid)); got != 1 {
		t.Fatalf("expected invalid counter 1, got %v", got)
	}
}

func TestHandleCanceledContextIsNotAcked(t *testing.T) {
	transport := &fakeTransport{block: true}
	d, _ := newTestDispatcher(t, nil, transport, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Handle(ctx, job("1"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected interrupted job error, got %v", err)
	}
}

func TestRunDeliversQueuedJobs(t *testing.T) {
	q := queue.NewMemoryQueue()
	transport := &fakeTransport{failures: 1}
	d, _ := newTestDispatcher(t, q, transport, 5)
	d.cfg.Workers = 2

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue(context.Background(), job(id)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for transport.sentCount() < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out, sent=%d", transport.sentCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained, got %d", q.Len())
	}
}

func TestRateLimiterSpacesSends(t *testing.T) {
	transport := &fakeTransport{}
	renderer, _ := email.NewRenderer("http://localhost:5173")
	d := New(nil, nil, renderer, transport, nil, Config{RatePerSecond: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := d.Handle(context.Background(), job("x")); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected rate limit to space sends, elapsed %s", elapsed)
	}
}

func TestConfigRetryBudget(t *testing.T) {
	cfg := Config{MaxAttempts: 5, RetryBase: time.Second, SendTimeout: 10 * time.Second}
	if got, want := cfg.RetryBudget(), 65*time.Second; got != want {
		t.Fatalf("expected budget %s, got %s", want, got)
	}

	capped := Config{MaxAttempts: 4, RetryBase: time.Second, RetryCap: 2 * time.Second, SendTimeout: time.Second}
	if got, want := capped.RetryBudget(), 9*time.Second; got != want {
		t.Fatalf("expected capped budget %s, got %s", want, got)
	}
}
