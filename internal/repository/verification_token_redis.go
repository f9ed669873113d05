package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"taskpilot/internal/domain"
)

// issueTokenScript reserva el slot del usuario y guarda el registro en un solo paso.
// KEYS[1] = user key, KEYS[2] = record key
// ARGV[1] = token id, ARGV[2] = record json, ARGV[3] = ttl ms
var issueTokenScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[3]) then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0
`)

// deleteTokenScript libera el slot solo si sigue apuntando al mismo token.
// KEYS[1] = user key, KEYS[2] = record key, ARGV[1] = token id
var deleteTokenScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
end
return redis.call("DEL", KEYS[2])
`)

// consumeTokenScript toma el slot del usuario solo si sigue apuntando al token leido.
// KEYS[1] = user key, KEYS[2] = record key, ARGV[1] = token id
var consumeTokenScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1], KEYS[2])
return 1
`)

type redisVerificationTokenRepository struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisVerificationTokenRepository usa el TTL nativo de Redis como expiracion pasiva.
func NewRedisVerificationTokenRepository(client redis.UniversalClient, timeout time.Duration) VerificationTokenRepository {
	if client == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &redisVerificationTokenRepository{
		client:  client,
		prefix:  "auth:verification:",
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *redisVerificationTokenRepository) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *redisVerificationTokenRepository) recordKey(id string) string {
	return r.prefix + "id:" + id
}

func (r *redisVerificationTokenRepository) Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenValue string, ttl time.Duration) (domain.VerificationToken, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.VerificationToken{}, errors.New("user id is required")
	}
	if ttl <= 0 {
		return domain.VerificationToken{}, errors.New("ttl must be positive")
	}
	now := r.now()
	tok := domain.VerificationToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenValue: tokenValue,
		Purpose:    purpose,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	payload, err := json.Marshal(tok)
	if err != nil {
		return domain.VerificationToken{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := issueTokenScript.Run(ctx, r.client,
		[]string{r.userKey(userID), r.recordKey(tok.ID)},
		tok.ID, string(payload), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return domain.VerificationToken{}, fmt.Errorf("issue verification token: %w", err)
	}
	if ok != 1 {
		return domain.VerificationToken{}, ErrTokenAlreadyPending
	}
	return tok, nil
}

func (r *redisVerificationTokenRepository) FindByUser(ctx context.Context, userID string) (domain.VerificationToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.VerificationToken{}, ErrNotFound
	}
	if err != nil {
		return domain.VerificationToken{}, err
	}
	tok, err := r.load(ctx, id)
	if err != nil {
		return domain.VerificationToken{}, err
	}
	if tok.UserID != userID {
		return domain.VerificationToken{}, ErrNotFound
	}
	return tok, nil
}

func (r *redisVerificationTokenRepository) FindByUserAndToken(ctx context.Context, userID, tokenValue string) (domain.VerificationToken, error) {
	tok, err := r.FindByUser(ctx, userID)
	if err != nil {
		return domain.VerificationToken{}, err
	}
	if !sameToken(tok.TokenValue, tokenValue) {
		return domain.VerificationToken{}, ErrNotFound
	}
	return tok, nil
}

func (r *redisVerificationTokenRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tok, err := r.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return deleteTokenScript.Run(ctx, r.client,
		[]string{r.userKey(tok.UserID), r.recordKey(id)},
		id,
	).Err()
}

func (r *redisVerificationTokenRepository) Consume(ctx context.Context, userID string, purpose domain.TokenPurpose, tokenValue string) (domain.VerificationToken, error) {
	tok, err := r.FindByUserAndToken(ctx, userID, tokenValue)
	if err != nil {
		return domain.VerificationToken{}, err
	}
	if tok.Purpose != purpose {
		return domain.VerificationToken{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	won, err := consumeTokenScript.Run(ctx, r.client,
		[]string{r.userKey(userID), r.recordKey(tok.ID)},
		tok.ID,
	).Int()
	if err != nil {
		return domain.VerificationToken{}, fmt.Errorf("consume verification token: %w", err)
	}
	if won != 1 {
		return domain.VerificationToken{}, ErrNotFound
	}
	return tok, nil
}

func (r *redisVerificationTokenRepository) load(ctx context.Context, id string) (domain.VerificationToken, error) {
	raw, err := r.client.Get(ctx, r.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.VerificationToken{}, ErrNotFound
	}
	if err != nil {
		return domain.VerificationToken{}, err
	}
	var tok domain.VerificationToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return domain.VerificationToken{}, fmt.Errorf("decode verification token: %w", err)
	}
	if tok.Expired(r.now()) {
		return domain.VerificationToken{}, ErrNotFound
	}
	return tok, nil
}
