package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskpilot/internal/domain"
)

// ErrClosed se devuelve al encolar en una cola cerrada.
var ErrClosed = errors.New("queue closed")

// Handler procesa un job. nil confirma el job; un error lo devuelve a la cola.
type Handler func(ctx context.Context, job domain.EmailJob) error

// Queue es la frontera durable entre el servicio de auth y el dispatcher.
// Consume bloquea hasta que ctx termina y puede llamarse desde varias goroutines.
type Queue interface {
	Enqueue(ctx context.Context, job domain.EmailJob) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

func encodeJob(job domain.EmailJob) ([]byte, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	return json.Marshal(job)
}

func decodeJob(data []byte) (domain.EmailJob, error) {
	var job domain.EmailJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.EmailJob{}, fmt.Errorf("decode email job: %w", err)
	}
	if err := validateJob(job); err != nil {
		return domain.EmailJob{}, err
	}
	return job, nil
}

func validateJob(job domain.EmailJob) error {
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("email job id is required")
	}
	if !job.Kind.Valid() {
		return fmt.Errorf("unknown email job kind %q", job.Kind)
	}
	if strings.TrimSpace(job.RecipientEmail) == "" || strings.TrimSpace(job.TokenValue) == "" {
		return errors.New("email job recipient and token are required")
	}
	return nil
}
