package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	schemaVersionTable = "public.orderfeed_schema_version"

	// schemaLockKey serializes schema changes across relay replicas.
	// Other applications sharing the database must not take this key.
	schemaLockKey int64 = 0x0f0ed5c3e3a1

	unlockTimeout = 5 * time.Second
)

// Connect opens the query pool and verifies it with a ping. tracer may be nil.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if tracer != nil {
		cfg.ConnConfig.Tracer = tracer
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"sslmode", sslMode(databaseURL),
		"min_conns", cfg.MinConns,
		"max_conns", cfg.MaxConns)
	return pool, nil
}

// sslMode reports the sslmode query parameter for the startup log line.
func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		return strings.ToLower(mode)
	}
	return "prefer (default)"
}

// RunMigrationsWithLock brings the schema up to date. Concurrent callers
// queue on an advisory lock, so only one of them applies pending migrations
// and the rest find the schema current.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), schemaLockKey, func() error {
		m, err := newMigrator(ctx, conn.Conn())
		if err != nil {
			return err
		}

		from, err := m.GetCurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		target := int32(len(m.Migrations))
		if from == target {
			slog.Info("Schema up to date", "version", from)
			return nil
		}

		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate from version %d: %w", from, err)
		}
		slog.Info("Schema migrated", "from", from, "to", target)
		return nil
	})
}

func newMigrator(ctx context.Context, conn *pgx.Conn) (*migrate.Migrator, error) {
	m, err := migrate.NewMigrator(ctx, conn, schemaVersionTable)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.OnStart = func(seq int32, name, direction, _ string) {
		slog.Info("Applying migration", "sequence", seq, "name", name, "direction", direction)
	}

	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	if err := m.LoadMigrations(files); err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return m, nil
}

// withAdvisoryLock runs fn while holding the session-level advisory lock key
// on conn. The unlock uses its own deadline so a cancelled ctx still frees
// the lock before conn returns to the pool.
func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, key int64, fn func() error) (err error) {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("failed to take advisory lock %d: %w", key, err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if _, unlockErr := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", key); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release advisory lock %d: %w", key, unlockErr))
		}
	}()
	return fn()
}

// tableIdentifier quotes a possibly schema-qualified table name.
func tableIdentifier(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
