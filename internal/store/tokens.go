// ABOUTME: Access token store methods, one token per (user, service) pair
// ABOUTME: Upsert semantics, repeated authorization overwrites, never duplicates

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertUserServiceToken stores the opaque credential a user supplied for a
// service. The unique (user_id, service_name) constraint carries the
// concurrency guarantee: concurrent calls for the same pair end with
// exactly one row holding the last written value. The user is created on
// first use; the service must already exist (ErrNotFound otherwise).
func (s *SQLiteStore) UpsertUserServiceToken(ctx context.Context, userID, serviceName, token string) (*AccessToken, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM services WHERE name = ?`, serviceName).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking service: %w", err)
	}

	if _, err := s.GetOrCreateUser(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New().String()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, user_id, service_name, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, service_name)
		DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at
	`, id, userID, serviceName, token, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("upserting access token: %w", err)
	}

	s.logger.Debug("stored access token", "user_id", userID, "service", serviceName)
	return s.getAccessToken(ctx, userID, serviceName)
}

func (s *SQLiteStore) getAccessToken(ctx context.Context, userID, serviceName string) (*AccessToken, error) {
	query := `
		SELECT id, user_id, service_name, token, created_at, updated_at
		FROM access_tokens
		WHERE user_id = ? AND service_name = ?
	`

	var at AccessToken
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, userID, serviceName).Scan(
		&at.ID,
		&at.UserID,
		&at.ServiceName,
		&at.Token,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access token: %w", err)
	}

	at.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	at.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &at, nil
}

// GetUserServiceToken returns the stored credential for the pair, or nil
// when the user is unknown or holds no token for the service. Absence is a
// legitimate query result, never an error.
func (s *SQLiteStore) GetUserServiceToken(ctx context.Context, userID, serviceName string) (*string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		SELECT token FROM access_tokens WHERE user_id = ? AND service_name = ?
	`, userID, serviceName).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying access token: %w", err)
	}
	return &token, nil
}
