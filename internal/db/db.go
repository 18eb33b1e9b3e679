package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskboard/internal/config"
)

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Configuración razonable para ambientes iniciales.
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// EnsureSchema crea las tablas si no existen. Los constraints de unicidad
// sobre email y (provider, id externo) son los que resuelven las carreras
// de creación concurrente en el flujo OAuth.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL DEFAULT '',
			avatar_url    TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			google_id     TEXT,
			github_id     TEXT,
			created_at    TIMESTAMPTZ NOT NULL,
			CONSTRAINT users_google_id_key UNIQUE (google_id),
			CONSTRAINT users_github_id_key UNIQUE (github_id)
		);

		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date    TIMESTAMPTZ,
			priority    TEXT NOT NULL,
			status      TEXT NOT NULL,
			creator_id  TEXT NOT NULL REFERENCES users(id),
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_shares (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (task_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_creator ON tasks(creator_id);
		CREATE INDEX IF NOT EXISTS idx_task_shares_user ON task_shares(user_id);
	`
	_, err := pool.Exec(ctx, schema)
	return err
}
