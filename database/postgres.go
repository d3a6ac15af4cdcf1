package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens and pings the Postgres database at url
func Connect(ctx context.Context, url string, logger *zap.Logger) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger != nil {
		logger.Info("Successfully connected to database")
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tracked_searches (
		id SERIAL PRIMARY KEY,
		search_category TEXT NOT NULL,
		product_name TEXT NOT NULL,
		last_rank INTEGER,
		last_checked TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		is_active BOOLEAN DEFAULT TRUE,
		UNIQUE (search_category, product_name)
	)`,
	`CREATE TABLE IF NOT EXISTS spot_history (
		id SERIAL PRIMARY KEY,
		search_id INTEGER REFERENCES tracked_searches(id) ON DELETE CASCADE,
		rank INTEGER,
		matched_title TEXT,
		confidence DOUBLE PRECISION,
		used_fallback BOOLEAN DEFAULT FALSE,
		total_seen INTEGER DEFAULT 0,
		error TEXT,
		checked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spot_history_search ON spot_history (search_id, checked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tracked_searches_active ON tracked_searches (is_active) WHERE is_active = true`,
}

// CreateTables creates the tracking tables if they don't exist
func CreateTables(ctx context.Context, db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
