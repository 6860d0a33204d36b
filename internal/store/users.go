// ABOUTME: User entity store methods with single-role assignment
// ABOUTME: Users are created on first reference and hold at most one role

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateUser returns the user with the given external ID, creating the
// row on first reference. The operation is idempotent.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, userID string) (*User, error) {
	now := time.Now().UTC()

	// INSERT OR IGNORE makes concurrent first calls race-safe: exactly one
	// insert wins and every caller reads the same row back.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (user_id, role_name, created_at, updated_at)
		VALUES (?, NULL, ?, ?)
	`, userID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	return s.getUser(ctx, userID)
}

func (s *SQLiteStore) getUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT user_id, role_name, created_at, updated_at
		FROM users
		WHERE user_id = ?
	`

	var user User
	var roleName sql.NullString
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID,
		&roleName,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if roleName.Valid {
		user.RoleName = &roleName.String
	}

	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	user.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &user, nil
}

// AssignRoleToUser sets the user's role, overwriting any prior assignment.
// A user holds at most one role. Returns ErrNotFound when the user or the
// role doesn't exist.
func (s *SQLiteStore) AssignRoleToUser(ctx context.Context, userID, roleName string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE name = ?`, roleName).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking role: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role_name = ?, updated_at = ? WHERE user_id = ?
	`, roleName, formatTime(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("assigned role to user", "user_id", userID, "role", roleName)
	return nil
}

// ClearUserRole unsets the user's role reference. The operation succeeds
// even when the user has no role - there is nothing to undo.
func (s *SQLiteStore) ClearUserRole(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role_name = NULL, updated_at = ? WHERE user_id = ?
	`, formatTime(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("clearing user role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Debug("clear role for unknown user", "user_id", userID)
	}
	return nil
}

// GetRoleForUser returns the role currently assigned to the user. Returns
// (nil, nil) when the user exists without a role and ErrNotFound when the
// user is unknown.
func (s *SQLiteStore) GetRoleForUser(ctx context.Context, userID string) (*Role, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.RoleName == nil {
		return nil, nil
	}

	role, err := s.GetRole(ctx, *user.RoleName)
	if err == ErrNotFound {
		// Role row vanished between reads; treat as unassigned.
		return nil, nil
	}
	return role, err
}

// ListUsers returns all users ordered by user ID. Each user's role name is
// resolved eagerly by the query itself, so callers never hold a reference
// that needs a second lookup.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT user_id, role_name, created_at, updated_at
		FROM users
		ORDER BY user_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		var user User
		var roleName sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&user.UserID, &roleName, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}

		if roleName.Valid {
			user.RoleName = &roleName.String
		}

		user.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		user.UpdatedAt, err = parseTime(updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}
