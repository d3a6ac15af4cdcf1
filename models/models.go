package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TrackedSearch is a (category, product) pair re-checked on a schedule
type TrackedSearch struct {
	ID             int           `json:"id" db:"id"`
	SearchCategory string        `json:"search_category" db:"search_category"`
	ProductName    string        `json:"product_name" db:"product_name"`
	LastRank       sql.NullInt64 `json:"last_rank" db:"last_rank"`
	LastChecked    *time.Time    `json:"last_checked" db:"last_checked"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	IsActive       bool          `json:"is_active" db:"is_active"`
}

// HasRank returns true if the last check located the product
func (t TrackedSearch) HasRank() bool {
	return t.LastRank.Valid
}

// MarshalJSON renders LastRank as a number or null
func (t TrackedSearch) MarshalJSON() ([]byte, error) {
	type Alias TrackedSearch
	return json.Marshal(&struct {
		Alias
		LastRank *int `json:"last_rank"`
	}{
		Alias:    Alias(t),
		LastRank: nullIntPtr(t.LastRank),
	})
}

// SpotHistory is one recorded check of a tracked search
type SpotHistory struct {
	ID           int             `json:"id" db:"id"`
	SearchID     int             `json:"search_id" db:"search_id"`
	Rank         sql.NullInt64   `json:"rank" db:"rank"`
	MatchedTitle sql.NullString  `json:"matched_title" db:"matched_title"`
	Confidence   sql.NullFloat64 `json:"confidence" db:"confidence"`
	UsedFallback bool            `json:"used_fallback" db:"used_fallback"`
	TotalSeen    int             `json:"total_seen" db:"total_seen"`
	Error        sql.NullString  `json:"error" db:"error"`
	CheckedAt    time.Time       `json:"checked_at" db:"checked_at"`
}

// MarshalJSON flattens the nullable columns
func (h SpotHistory) MarshalJSON() ([]byte, error) {
	type Alias SpotHistory
	out := &struct {
		Alias
		Rank         *int     `json:"rank"`
		MatchedTitle *string  `json:"matched_title"`
		Confidence   *float64 `json:"confidence"`
		Error        *string  `json:"error"`
	}{
		Alias: Alias(h),
		Rank:  nullIntPtr(h.Rank),
	}
	if h.MatchedTitle.Valid {
		out.MatchedTitle = &h.MatchedTitle.String
	}
	if h.Confidence.Valid {
		out.Confidence = &h.Confidence.Float64
	}
	if h.Error.Valid {
		out.Error = &h.Error.String
	}
	return json.Marshal(out)
}

// AddTrackedSearchRequest represents the request to track a new search
type AddTrackedSearchRequest struct {
	SearchCategory string `json:"search_category"`
	ProductName    string `json:"product_name"`
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
