package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskpilot/internal/domain"
)

const uniqueViolation = "23505"

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	SetVerified(ctx context.Context, id string) (domain.User, error)
	SetPasswordHash(ctx context.Context, id, hash string) (domain.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) (domain.User, error)
	UpdateName(ctx context.Context, id, name string) (domain.User, error)
	// DeletePending borra un usuario que todavia no verifico su correo.
	DeletePending(ctx context.Context, id string) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPgUserRepository(pool *pgxpool.Pool, timeout time.Duration) *PgUserRepository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PgUserRepository{pool: pool, timeout: timeout}
}

const userColumns = `id, name, email, password_hash, is_email_verified, last_login_at, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO users (id, name, email, password_hash, is_email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + userColumns
	row := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Name,
		normalizeEmail(user.Email),
		user.PasswordHash,
		user.IsEmailVerified,
		user.CreatedAt,
	)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return created, nil
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1`
	return scanUser(r.pool.QueryRow(ctx, query, normalizeEmail(email)))
}

func (r *PgUserRepository) SetVerified(ctx context.Context, id string) (domain.User, error) {
	return r.update(ctx, `is_email_verified = TRUE`, id)
}

func (r *PgUserRepository) SetPasswordHash(ctx context.Context, id, hash string) (domain.User, error) {
	return r.update(ctx, `password_hash = $2`, id, hash)
}

func (r *PgUserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) (domain.User, error) {
	return r.update(ctx, `last_login_at = $2`, id, at)
}

func (r *PgUserRepository) UpdateName(ctx context.Context, id, name string) (domain.User, error) {
	return r.update(ctx, `name = $2`, id, name)
}

func (r *PgUserRepository) DeletePending(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1 AND is_email_verified = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// update aplica un cambio parcial atomico y devuelve la fila resultante.
func (r *PgUserRepository) update(ctx context.Context, set string, id string, args ...any) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE users SET ` + set + `, updated_at = now() WHERE id = $1 RETURNING ` + userColumns
	params := append([]any{id}, args...)
	return scanUser(r.pool.QueryRow(ctx, query, params...))
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.IsEmailVerified,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
