// package database provides postgresql connection management.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// DB holds both handles the archiver needs against the same database:
// the pgx pool backing the repositories and a GORM instance for the
// telegram session storage, which only accepts a gorm dialector.
type DB struct {
	Pool *pgxpool.Pool
	GORM *gorm.DB
}

// New opens the pool, verifies connectivity and attaches GORM on top.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// GORM gets its own connection; zerolog owns all logging so its
	// default query logger stays off.
	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &DB{Pool: pool, GORM: gormDB}, nil
}

// Close releases the pool. GORM's underlying connection closes with the
// process.
func (db *DB) Close() {
	db.Pool.Close()
}
