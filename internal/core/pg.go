package core

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/salesstage/internal/config"
)

// NewPool connects to the warehouse. Every new connection gets the
// configured search_path.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	if cfg.SearchPath != "" {
		searchPath := cfg.SearchPath
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, "SET search_path TO "+searchPath); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PgStagingDB adapts a pgx pool to StagingDB.
type PgStagingDB struct {
	pool *pgxpool.Pool
}

// NewPgStagingDB wraps pool.
func NewPgStagingDB(pool *pgxpool.Pool) *PgStagingDB {
	return &PgStagingDB{pool: pool}
}

// Begin starts a transaction on a pooled connection.
func (db *PgStagingDB) Begin(ctx context.Context) (StagingTx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgStagingTx{tx}, nil
}

// Ping checks connectivity for health reporting.
func (db *PgStagingDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

type pgStagingTx struct {
	pgx.Tx
}

// CopyCSV streams CSV text through the raw COPY protocol, so values reach
// the server exactly as staged.
func (tx pgStagingTx) CopyCSV(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tag, err := tx.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
