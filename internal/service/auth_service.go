package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskpilot/internal/domain"
	"taskpilot/internal/repository"
)

// JobQueue es el lado productor de la cola de correos.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.EmailJob) error
}

type AuthConfig struct {
	VerificationTTL time.Duration
	SessionTTL      time.Duration
	EnqueueTimeout  time.Duration
}

// AuthService coordina registro, verificacion, login y reseteo de contraseña.
type AuthService struct {
	logger   *zap.Logger
	users    repository.UserRepository
	tokens   repository.VerificationTokenRepository
	codec    *TokenCodec
	hasher   PasswordHasher
	jobs     JobQueue
	sessions SessionStore
	limiter  RequestLimiter
	cfg      AuthConfig
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	tokens repository.VerificationTokenRepository,
	codec *TokenCodec,
	hasher PasswordHasher,
	jobs JobQueue,
	sessions SessionStore,
	limiter RequestLimiter,
	cfg AuthConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 3 * time.Second
	}
	return &AuthService{
		logger:   logger,
		users:    users,
		tokens:   tokens,
		codec:    codec,
		hasher:   hasher,
		jobs:     jobs,
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type LoginResult struct {
	SessionToken       string
	User               domain.PublicUser
	VerificationResent bool
}

func (s *AuthService) ready() error {
	if s.users == nil || s.tokens == nil || s.codec == nil || s.hasher == nil {
		return errors.New("auth service not configured")
	}
	return nil
}

// Register crea el usuario pendiente de verificacion y encola el correo.
// El token solo viaja por correo.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) error {
	if err := s.ready(); err != nil {
		return err
	}
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if err := validateName(name); err != nil {
		return err
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validatePassword(input.Password); err != nil {
		return err
	}
	if !s.allow(ctx, "register:"+email) {
		return ErrRateLimited
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return ErrDuplicateEmail
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	user, err := s.users.Create(ctx, domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}

	if err := s.issueAndEnqueue(ctx, user, domain.PurposeEmailVerification, domain.EmailJobVerification); err != nil {
		s.discardUser(ctx, user.ID)
		return err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return nil
}

// VerifyEmail consume el token de verificacion. Un segundo uso del mismo token falla.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if err := s.ready(); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrValidation)
	}

	claims, err := s.codec.Verify(token)
	if err != nil || claims.Purpose != domain.PurposeEmailVerification {
		return ErrInvalidToken
	}

	if _, err := s.tokens.Consume(ctx, claims.UserID, domain.PurposeEmailVerification, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("consume verification token: %w", err)
	}
	if _, err := s.users.SetVerified(ctx, claims.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("mark user verified: %w", err)
	}
	s.logger.Info("email verified", zap.String("user_id", claims.UserID))
	return nil
}

// Login valida credenciales. Un usuario sin verificar nunca recibe sesion.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if err := s.ready(); err != nil {
		return LoginResult{}, err
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.Compare(s.dummy(), password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.IsEmailVerified {
		_, err := s.tokens.FindByUser(ctx, user.ID)
		if err == nil {
			return LoginResult{}, ErrEmailNotVerified
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, fmt.Errorf("lookup verification token: %w", err)
		}
		if err := s.issueAndEnqueue(ctx, user, domain.PurposeEmailVerification, domain.EmailJobVerification); err != nil {
			if errors.Is(err, ErrAlreadyPending) {
				return LoginResult{}, ErrEmailNotVerified
			}
			return LoginResult{}, err
		}
		s.logger.Info("verification email resent on login", zap.String("user_id", user.ID))
		return LoginResult{VerificationResent: true}, nil
	}

	user, err = s.users.TouchLastLogin(ctx, user.ID, s.now())
	if err != nil {
		return LoginResult{}, fmt.Errorf("touch last login: %w", err)
	}
	session, err := s.codec.Sign(user.ID, domain.PurposeLogin, s.cfg.SessionTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign session: %w", err)
	}
	if s.sessions != nil {
		if err := s.sessions.Store(ctx, SessionKey(session), user.ID, s.cfg.SessionTTL); err != nil {
			return LoginResult{}, fmt.Errorf("store session: %w", err)
		}
	}
	return LoginResult{SessionToken: session, User: user.Public()}, nil
}

// RequestPasswordReset emite un token de reseteo si no hay otro vivo.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if !s.allow(ctx, "reset:"+email) {
		return ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsEmailVerified {
		return ErrUnverified
	}

	_, err = s.tokens.FindByUser(ctx, user.ID)
	if err == nil {
		return ErrAlreadyPending
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup reset token: %w", err)
	}
	return s.issueAndEnqueue(ctx, user, domain.PurposePasswordReset, domain.EmailJobPasswordReset)
}

// ResetPassword cambia la contraseña usando el token vigente del usuario.
// El token se consume antes de escribir el nuevo hash.
func (s *AuthService) ResetPassword(ctx context.Context, password, token string) error {
	if err := s.ready(); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrValidation)
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	claims, err := s.codec.Verify(token)
	if err != nil || claims.Purpose != domain.PurposePasswordReset {
		return ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsEmailVerified {
		return ErrUnverified
	}

	record, err := s.tokens.FindByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}
	if record.Purpose != domain.PurposePasswordReset ||
		subtle.ConstantTimeCompare([]byte(record.TokenValue), []byte(token)) != 1 {
		return ErrUnauthorized
	}

	if s.hasher.Compare(user.PasswordHash, password) {
		return ErrSamePassword
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	// solo un llamador gana el consumo; el resto no toca la contraseña.
	if _, err := s.tokens.Consume(ctx, user.ID, domain.PurposePasswordReset, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	if _, err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

// ResendVerification reemplaza el token de verificacion pendiente y reencola el correo.
// Cubre el caso de un correo que nunca llego.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	if err := s.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if !s.allow(ctx, "resend:"+email) {
		return ErrRateLimited
	}

	// un email desconocido y un usuario ya verificado responden igual que un reenvio.
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.IsEmailVerified {
		return nil
	}

	existing, err := s.tokens.FindByUser(ctx, user.ID)
	switch {
	case err == nil:
		if existing.Purpose != domain.PurposeEmailVerification {
			return ErrAlreadyPending
		}
		if err := s.tokens.Delete(ctx, existing.ID); err != nil {
			return fmt.Errorf("drop stale verification token: %w", err)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("lookup verification token: %w", err)
	}
	return s.issueAndEnqueue(ctx, user, domain.PurposeEmailVerification, domain.EmailJobVerification)
}

// Authenticate valida un token de sesion y devuelve su usuario.
func (s *AuthService) Authenticate(ctx context.Context, sessionToken string) (domain.User, error) {
	if err := s.ready(); err != nil {
		return domain.User{}, err
	}
	claims, err := s.codec.Verify(sessionToken)
	if err != nil || claims.Purpose != domain.PurposeLogin {
		return domain.User{}, ErrUnauthorized
	}
	if s.sessions != nil {
		ok, err := s.sessions.Exists(ctx, SessionKey(sessionToken))
		if err != nil {
			return domain.User{}, fmt.Errorf("lookup session: %w", err)
		}
		if !ok {
			return domain.User{}, ErrUnauthorized
		}
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// Logout revoca la sesion; un token ya invalido no es error.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Revoke(ctx, SessionKey(sessionToken))
}

func (s *AuthService) issueAndEnqueue(ctx context.Context, user domain.User, purpose domain.TokenPurpose, kind domain.EmailJobKind) error {
	token, err := s.codec.Sign(user.ID, purpose, s.cfg.VerificationTTL)
	if err != nil {
		return fmt.Errorf("sign %s token: %w", purpose, err)
	}
	if _, err := s.tokens.Issue(ctx, user.ID, purpose, token, s.cfg.VerificationTTL); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyPending) {
			return ErrAlreadyPending
		}
		return fmt.Errorf("store %s token: %w", purpose, err)
	}
	s.enqueue(ctx, domain.EmailJob{
		ID:             uuid.NewString(),
		Kind:           kind,
		RecipientEmail: user.Email,
		TokenValue:     token,
		EnqueuedAt:     s.now(),
	})
	return nil
}

// enqueue no bloquea la respuesta: un fallo se registra y el usuario puede pedir reenvio.
func (s *AuthService) enqueue(ctx context.Context, job domain.EmailJob) {
	if s.jobs == nil {
		s.logger.Warn("email queue not configured", zap.String("kind", string(job.Kind)))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue email job failed",
			zap.Error(err),
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
		)
	}
}

// discardUser deshace el alta cuando no se pudo emitir el token, asi el cliente puede reintentar.
func (s *AuthService) discardUser(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.users.DeletePending(ctx, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("discard pending user failed", zap.Error(err), zap.String("user_id", userID))
	}
}

func (s *AuthService) allow(ctx context.Context, key string) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow(ctx, key)
}

// dummy es un hash fijo para que un email inexistente cueste lo mismo que uno real.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("taskpilot-placeholder-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}
