package domain

import "time"

type EmailJobKind string

const (
	EmailJobVerification  EmailJobKind = "send-verification"
	EmailJobPasswordReset EmailJobKind = "send-password-reset"
)

// EmailJob es un pedido transitorio de envio de correo. Solo lo consume el dispatcher.
type EmailJob struct {
	ID             string       `json:"id"`
	Kind           EmailJobKind `json:"kind"`
	RecipientEmail string       `json:"recipient_email"`
	TokenValue     string       `json:"token"`
	EnqueuedAt     time.Time    `json:"enqueued_at"`
}

func (k EmailJobKind) Valid() bool {
	return k == EmailJobVerification || k == EmailJobPasswordReset
}
