package repository

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

// VerificationTokenRepository guarda como maximo un token vivo por usuario.
// Un registro expirado nunca se devuelve.
type VerificationTokenRepository interface {
	Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenValue string, ttl time.Duration) (domain.VerificationToken, error)
	FindByUser(ctx context.Context, userID string) (domain.VerificationToken, error)
	FindByUserAndToken(ctx context.Context, userID, tokenValue string) (domain.VerificationToken, error)
	Delete(ctx context.Context, id string) error
	// Consume borra el token vivo del usuario solo si coincide en valor y proposito.
	// Devuelve ErrNotFound si otro llamador ya lo consumio.
	Consume(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenValue string) (domain.VerificationToken, error)
}

type memoryVerificationTokenRepository struct {
	mu     sync.Mutex
	now    func() time.Time
	byUser map[string]domain.VerificationToken
}

func NewMemoryVerificationTokenRepository() VerificationTokenRepository {
	return NewMemoryVerificationTokenRepositoryWithClock(func() time.Time { return time.Now().UTC() })
}

func NewMemoryVerificationTokenRepositoryWithClock(now func() time.Time) VerificationTokenRepository {
	return &memoryVerificationTokenRepository{
		now:    now,
		byUser: make(map[string]domain.VerificationToken),
	}
}

func (r *memoryVerificationTokenRepository) Issue(_ context.Context, userID string, purpose domain.TokenPurpose, tokenValue string, ttl time.Duration) (domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if _, ok := r.liveLocked(userID, now); ok {
		return domain.VerificationToken{}, ErrTokenAlreadyPending
	}
	tok := domain.VerificationToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenValue: tokenValue,
		Purpose:    purpose,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	r.byUser[userID] = tok
	return tok, nil
}

func (r *memoryVerificationTokenRepository) FindByUser(_ context.Context, userID string) (domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.liveLocked(userID, r.now())
	if !ok {
		return domain.VerificationToken{}, ErrNotFound
	}
	return tok, nil
}

func (r *memoryVerificationTokenRepository) FindByUserAndToken(_ context.Context, userID, tokenValue string) (domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.liveLocked(userID, r.now())
	if !ok || !sameToken(tok.TokenValue, tokenValue) {
		return domain.VerificationToken{}, ErrNotFound
	}
	return tok, nil
}

func (r *memoryVerificationTokenRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, tok := range r.byUser {
		if tok.ID == id {
			delete(r.byUser, userID)
			return nil
		}
	}
	return nil
}

func (r *memoryVerificationTokenRepository) Consume(_ context.Context, userID string, purpose domain.TokenPurpose, tokenValue string) (domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.liveLocked(userID, r.now())
	if !ok || tok.Purpose != purpose || !sameToken(tok.TokenValue, tokenValue) {
		return domain.VerificationToken{}, ErrNotFound
	}
	delete(r.byUser, userID)
	return tok, nil
}

func (r *memoryVerificationTokenRepository) liveLocked(userID string, now time.Time) (domain.VerificationToken, bool) {
	tok, ok := r.byUser[userID]
	if !ok {
		return domain.VerificationToken{}, false
	}
	if tok.Expired(now) {
		delete(r.byUser, userID)
		return domain.VerificationToken{}, false
	}
	return tok, true
}

func sameToken(stored, presented string) bool {
	if strings.TrimSpace(presented) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
