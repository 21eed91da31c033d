// Package storage persists the per-user contact records. It is the only
// durable state in the service; conversation sessions never reach it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ngconnect/connectbot/internal/logger"
	"log/slog"
)

// ErrNotFound is returned by Get when no record exists for the user.
var ErrNotFound = errors.New("user record not found")

// UserRecord mirrors the users table. ContactInfo holds ciphertext only;
// plaintext contact data never reaches this package.
type UserRecord struct {
	UserID      int64          `db:"user_id"`
	ContactInfo sql.NullString `db:"contact_info"`
	Region      string         `db:"region"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// UserStore provides upsert-style access to user records.
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore wraps the shared database handle.
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

const upsertQuery = `
INSERT INTO users (user_id, contact_info, region)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
    contact_info = EXCLUDED.contact_info,
    region       = EXCLUDED.region`

// Upsert inserts or overwrites the record for userID, last write wins.
// created_at is set once on the first insert; the updated_at trigger advances
// on every overwrite. Row-level locking in postgres serializes concurrent
// writes to the same user without blocking writes to other users.
func (s *UserStore) Upsert(ctx context.Context, userID int64, ciphertext, region string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, upsertQuery, userID, ciphertext, region)
	if err != nil {
		logger.Error(ctx, "db", "db.users.upsert",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("region", region),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("upsert user %d: %w", userID, err)
	}
	logger.Debug(ctx, "db", "db.users.upsert",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("region", region),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Get returns the stored record for userID.
func (s *UserStore) Get(ctx context.Context, userID int64) (*UserRecord, error) {
	var rec UserRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT user_id, contact_info, region, created_at, updated_at FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return &rec, nil
}

// Count returns the total number of stored records.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
