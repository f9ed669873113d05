package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"taskpilot/internal/domain"
	"taskpilot/internal/repository"
)

// UserService coordina reglas de negocio del perfil de usuario autenticado.
type UserService struct {
	logger *zap.Logger
	users  repository.UserRepository
	hasher PasswordHasher
}

func NewUserService(logger *zap.Logger, users repository.UserRepository, hasher PasswordHasher) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		logger: logger,
		users:  users,
		hasher: hasher,
	}
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (domain.PublicUser, error) {
	if s.users == nil {
		return domain.PublicUser{}, errors.New("user service not configured")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PublicUser{}, ErrUserNotFound
		}
		return domain.PublicUser{}, err
	}
	return user.Public(), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID, name string) (domain.PublicUser, error) {
	if s.users == nil {
		return domain.PublicUser{}, errors.New("user service not configured")
	}
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return domain.PublicUser{}, err
	}
	user, err := s.users.UpdateName(ctx, userID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PublicUser{}, ErrUserNotFound
		}
		return domain.PublicUser{}, err
	}
	return user.Public(), nil
}

// ChangePassword exige la contraseña actual; el reseteo por correo va por AuthService.
func (s *UserService) ChangePassword(ctx context.Context, userID string, input ChangePasswordInput) error {
	if s.users == nil || s.hasher == nil {
		return errors.New("user service not configured")
	}
	if err := validatePassword(input.NewPassword); err != nil {
		return err
	}
	if input.NewPassword != input.ConfirmPassword {
		return fmt.Errorf("%w: new password and confirmation do not match", ErrValidation)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !s.hasher.Compare(user.PasswordHash, input.CurrentPassword) {
		return ErrInvalidCredentials
	}
	if input.CurrentPassword == input.NewPassword {
		return ErrSamePassword
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return err
	}
	if _, err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Info("password changed", zap.String("user_id", user.ID))
	return nil
}
