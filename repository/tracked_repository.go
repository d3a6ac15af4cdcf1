package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spotfinder/models"
)

// ErrNotFound is returned when a tracked search does not exist or was removed
var ErrNotFound = errors.New("tracked search not found")

const trackedColumns = `id, search_category, product_name, last_rank, last_checked, created_at, updated_at, is_active`

// TrackedSearchRepository stores tracked searches and their spot history
type TrackedSearchRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTrackedSearchRepository creates a repository over db
func NewTrackedSearchRepository(db *sql.DB) *TrackedSearchRepository {
	return &TrackedSearchRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTracked(row rowScanner) (*models.TrackedSearch, error) {
	var ts models.TrackedSearch
	var lastChecked sql.NullTime
	err := row.Scan(
		&ts.ID, &ts.SearchCategory, &ts.ProductName,
		&ts.LastRank, &lastChecked, &ts.CreatedAt, &ts.UpdatedAt, &ts.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		ts.LastChecked = &t
	}
	return &ts, nil
}

// Add starts tracking a search. Tracking an existing pair reactivates it.
func (r *TrackedSearchRepository) Add(ctx context.Context, category, product string) (*models.TrackedSearch, error) {
	query := `
		INSERT INTO tracked_searches (search_category, product_name, created_at, updated_at, is_active)
		VALUES ($1, $2, $3, $3, true)
		ON CONFLICT (search_category, product_name)
		DO UPDATE SET is_active = true, updated_at = $3
		RETURNING ` + trackedColumns

	ts, err := scanTracked(r.db.QueryRowContext(ctx, query, category, product, r.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to add tracked search: %w", err)
	}
	return ts, nil
}

// List returns all active tracked searches, newest first
func (r *TrackedSearchRepository) List(ctx context.Context) ([]models.TrackedSearch, error) {
	query := `
		SELECT ` + trackedColumns + `
		FROM tracked_searches
		WHERE is_active = true
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked searches: %w", err)
	}
	defer rows.Close()

	searches := []models.TrackedSearch{}
	for rows.Next() {
		ts, err := scanTracked(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked search: %w", err)
		}
		searches = append(searches, *ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracked searches: %w", err)
	}
	return searches, nil
}

// Get returns an active tracked search by ID
func (r *TrackedSearchRepository) Get(ctx context.Context, id int) (*models.TrackedSearch, error) {
	query := `
		SELECT ` + trackedColumns + `
		FROM tracked_searches
		WHERE id = $1 AND is_active = true
	`

	ts, err := scanTracked(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracked search: %w", err)
	}
	return ts, nil
}

// Deactivate stops tracking a search; its history is kept
func (r *TrackedSearchRepository) Deactivate(ctx context.Context, id int) error {
	query := `UPDATE tracked_searches SET is_active = false, updated_at = $2 WHERE id = $1 AND is_active = true`

	res, err := r.db.ExecContext(ctx, query, id, r.now())
	if err != nil {
		return fmt.Errorf("failed to delete tracked search: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete tracked search: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCheck stores the outcome of a check and updates the search's last rank.
// A failed check (checkErr set) is written to history but leaves last_rank untouched.
func (r *TrackedSearchRepository) RecordCheck(ctx context.Context, id int, result *models.SpotResult, checkErr error) error {
	now := r.now()

	var (
		rank         sql.NullInt64
		matchedTitle sql.NullString
		confidence   sql.NullFloat64
		errText      sql.NullString
		usedFallback bool
		totalSeen    int
	)
	if checkErr != nil {
		errText = sql.NullString{String: checkErr.Error(), Valid: true}
	} else if result != nil {
		if result.Rank != nil {
			rank = sql.NullInt64{Int64: int64(*result.Rank), Valid: true}
			matchedTitle = sql.NullString{String: result.MatchedTitle, Valid: true}
		}
		confidence = sql.NullFloat64{Float64: result.Match.Confidence, Valid: true}
		usedFallback = result.UsedFallback
		totalSeen = result.TotalSeen
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO spot_history (search_id, rank, matched_title, confidence, used_fallback, total_seen, error, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, rank, matchedTitle, confidence, usedFallback, totalSeen, errText, now)
	if err != nil {
		return fmt.Errorf("failed to add spot history: %w", err)
	}

	if checkErr == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE tracked_searches
			SET last_rank = $2, last_checked = $3, updated_at = $3
			WHERE id = $1
		`, id, rank, now)
		if err != nil {
			return fmt.Errorf("failed to update last rank: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spot check: %w", err)
	}
	return nil
}

// History returns the most recent checks of a search, newest first
func (r *TrackedSearchRepository) History(ctx context.Context, id int, limit int) ([]models.SpotHistory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, search_id, rank, matched_title, confidence, used_fallback, total_seen, error, checked_at
		FROM spot_history
		WHERE search_id = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get spot history: %w", err)
	}
	defer rows.Close()

	history := []models.SpotHistory{}
	for rows.Next() {
		var h models.SpotHistory
		err := rows.Scan(
			&h.ID, &h.SearchID, &h.Rank, &h.MatchedTitle, &h.Confidence,
			&h.UsedFallback, &h.TotalSeen, &h.Error, &h.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spot history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spot history: %w", err)
	}
	return history, nil
}
