package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

const tokenIssuer = "taskpilot"

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// SecretSource entrega la clave de firma vigente.
type SecretSource interface {
	Secret() []byte
}

// StaticSecret es la fuente de clave cargada una vez desde la configuración.
type StaticSecret []byte

func (s StaticSecret) Secret() []byte { return []byte(s) }

// TokenClaims es el contenido verificado de un token.
type TokenClaims struct {
	UserID    string
	Purpose   domain.TokenPurpose
	ExpiresAt time.Time
}

type codecClaims struct {
	UserID  string              `json:"uid"`
	Purpose domain.TokenPurpose `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenCodec firma y verifica tokens compactos HS256. Cada firma lleva un jti propio.
type TokenCodec struct {
	secrets SecretSource
	now     func() time.Time
}

func NewTokenCodec(secrets SecretSource) *TokenCodec {
	return &TokenCodec{
		secrets: secrets,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock devuelve una copia del codec con otro reloj.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	return &TokenCodec{secrets: c.secrets, now: now}
}

func (c *TokenCodec) secret() []byte {
	if c == nil || c.secrets == nil {
		return nil
	}
	return c.secrets.Secret()
}

func (c *TokenCodec) Sign(userID string, purpose domain.TokenPurpose, ttl time.Duration) (string, error) {
	secret := c.secret()
	if len(secret) == 0 {
		return "", errors.New("token secret not configured")
	}
	if strings.TrimSpace(userID) == "" || !purpose.Valid() || ttl <= 0 {
		return "", ErrTokenMalformed
	}
	now := c.now()
	claims := codecClaims{
		UserID:  userID,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (c *TokenCodec) Verify(tokenString string) (TokenClaims, error) {
	secret := c.secret()
	if len(secret) == 0 {
		return TokenClaims{}, ErrTokenSignature
	}
	if strings.TrimSpace(tokenString) == "" {
		return TokenClaims{}, ErrTokenMalformed
	}

	var claims codecClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return TokenClaims{}, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return TokenClaims{}, ErrTokenSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return TokenClaims{}, ErrTokenExpired
		default:
			return TokenClaims{}, ErrTokenMalformed
		}
	}
	if !isValidClaims(claims) {
		return TokenClaims{}, ErrTokenMalformed
	}
	return TokenClaims{
		UserID:    claims.UserID,
		Purpose:   claims.Purpose,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func isValidClaims(claims codecClaims) bool {
	if strings.TrimSpace(claims.UserID) == "" {
		return false
	}
	if claims.Subject != claims.UserID {
		return false
	}
	return claims.Purpose.Valid()
}
