package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBuildMessageHeaders(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw := string(buildMessage("noreply@taskpilot.dev", "TaskPilot", Message{
		To:      "a@x.com",
		Subject: SubjectVerification,
		HTML:    "<p>hola</p>\n<p>mundo</p>",
	}, now))

	for _, want := range []string{
		"From: TaskPilot <noreply@taskpilot.dev>\r\n",
		"To: a@x.com\r\n",
		"Subject: (TaskPilot) Verify Your Email\r\n",
		"Content-Type: text/html; charset=\"UTF-8\"\r\n",
		"\r\n\r\n<p>hola</p>\r\n<p>mundo</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected %q in message:\n%s", want, raw)
		}
	}
}

func TestNewSMTPTransportValidation(t *testing.T) {
	if _, err := NewSMTPTransport("", 587, "", "", "a@x.com", "", false, 0); err == nil {
		t.Fatalf("expected error for missing host")
	}
	if _, err := NewSMTPTransport("smtp.example.com", 587, "", "", "", "", false, 0); err == nil {
		t.Fatalf("expected error for missing from")
	}
	tr, err := NewSMTPTransport("smtp.example.com", 0, "", "", "a@x.com", "", false, 0)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if tr.port != 587 || tr.timeout != 10*time.Second {
		t.Fatalf("unexpected defaults: port=%d timeout=%s", tr.port, tr.timeout)
	}
}

func TestSMTPTransportHonorsCanceledContext(t *testing.T) {
	tr, _ := NewSMTPTransport("127.0.0.1", 1, "", "", "a@x.com", "", false, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Send(ctx, Message{To: "b@x.com", Subject: "s", HTML: "h"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDisabledTransport(t *testing.T) {
	err := NewDisabledTransport("smtp not configured").Send(context.Background(), Message{To: "a@x.com"})
	if !errors.Is(err, ErrTransportDisabled) {
		t.Fatalf("expected ErrTransportDisabled, got %v", err)
	}
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(zap.NewNop())
	if err := tr.Send(context.Background(), Message{To: "a@x.com", Subject: "s"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}
