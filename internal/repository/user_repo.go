package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskboard/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByProvider(ctx context.Context, provider, providerID string) (domain.User, error)
	LinkProvider(ctx context.Context, id, provider, providerID string) error
	ExistAll(ctx context.Context, ids []string) (bool, error)
}

// IsUniqueViolation indica si el error proviene de un constraint UNIQUE.
// El flujo OAuth lo usa para resolver inserts concurrentes con re-lookup.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, display_name, avatar_url, password_hash,
	COALESCE(google_id, ''), COALESCE(github_id, ''), created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.AvatarURL,
		&u.PasswordHash,
		&u.GoogleID,
		&u.GitHubID,
		&u.CreatedAt,
	)
	return u, err
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, display_name, avatar_url, password_hash, google_id, github_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.AvatarURL,
		user.PasswordHash,
		user.GoogleID,
		user.GitHubID,
		user.CreatedAt,
	)
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) GetByProvider(ctx context.Context, provider, providerID string) (domain.User, error) {
	var query string
	switch provider {
	case domain.ProviderGoogle:
		query = `SELECT ` + userColumns + ` FROM users WHERE google_id = $1`
	case domain.ProviderGitHub:
		query = `SELECT ` + userColumns + ` FROM users WHERE github_id = $1`
	default:
		return domain.User{}, pgx.ErrNoRows
	}
	return scanUser(r.pool.QueryRow(ctx, query, providerID))
}

// LinkProvider completa el identificador de provider en una cuenta existente.
// Solo escribe si la columna está vacía: el primer vinculo gana.
func (r *PgUserRepository) LinkProvider(ctx context.Context, id, provider, providerID string) error {
	var query string
	switch provider {
	case domain.ProviderGoogle:
		query = `UPDATE users SET google_id = $2 WHERE id = $1 AND google_id IS NULL`
	case domain.ProviderGitHub:
		query = `UPDATE users SET github_id = $2 WHERE id = $1 AND github_id IS NULL`
	default:
		return pgx.ErrNoRows
	}
	tag, err := r.pool.Exec(ctx, query, id, providerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ExistAll indica si todos los ids corresponden a usuarios existentes.
func (r *PgUserRepository) ExistAll(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	const query = `SELECT COUNT(*) FROM users WHERE id = ANY($1)`
	var count int
	if err := r.pool.QueryRow(ctx, query, ids).Scan(&count); err != nil {
		return false, err
	}
	return count == len(ids), nil
}
