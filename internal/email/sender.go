package email

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrTransportDisabled indica que no hay transporte configurado; reintentar no sirve.
var ErrTransportDisabled = errors.New("email transport disabled")

// Message es un correo ya renderizado.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Transport define la interfaz de entrega de correos salientes.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type disabledTransport struct {
	reason string
}

func NewDisabledTransport(reason string) Transport {
	return &disabledTransport{reason: reason}
}

func (t *disabledTransport) Send(_ context.Context, _ Message) error {
	if t.reason == "" {
		return ErrTransportDisabled
	}
	return errors.Join(ErrTransportDisabled, errors.New(t.reason))
}

// LogTransport registra el correo en lugar de enviarlo. Solo para desarrollo.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info("email not sent (log transport)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
