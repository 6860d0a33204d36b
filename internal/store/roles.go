// ABOUTME: Role entity store methods for role-based tool access
// ABOUTME: Roles link tools to users; removal detaches, never deletes either side

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateRole creates a new role with an optional default system prompt.
// Returns ErrDuplicateRole if the name is taken.
func (s *SQLiteStore) CreateRole(ctx context.Context, name, defaultSystemPrompt string) (*Role, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (name, default_system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, name, defaultSystemPrompt, formatTime(now), formatTime(now))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateRole
		}
		return nil, fmt.Errorf("inserting role: %w", err)
	}

	s.logger.Debug("created role", "name", name)
	return &Role{
		Name:                name,
		DefaultSystemPrompt: defaultSystemPrompt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// GetRole retrieves a role by name.
// Returns ErrNotFound if the role doesn't exist.
func (s *SQLiteStore) GetRole(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT name, default_system_prompt, created_at, updated_at
		FROM roles
		WHERE name = ?
	`

	return s.scanRole(s.db.QueryRowContext(ctx, query, name))
}

func (s *SQLiteStore) scanRole(row *sql.Row) (*Role, error) {
	var role Role
	var createdAtStr, updatedAtStr string

	err := row.Scan(&role.Name, &role.DefaultSystemPrompt, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	role.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	role.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &role, nil
}

// DeleteRole removes a role. Every tool association referencing the role is
// cleared and every user holding it is detached before the role row goes,
// all in one transaction - the schema's cascade rules are not relied on for
// the association table. Returns ErrNotFound if the role doesn't exist.
func (s *SQLiteStore) DeleteRole(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_roles WHERE role_name = ?`, name); err != nil {
		return fmt.Errorf("clearing tool associations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET role_name = NULL, updated_at = ? WHERE role_name = ?
	`, formatTime(time.Now().UTC()), name); err != nil {
		return fmt.Errorf("detaching users: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing role deletion: %w", err)
	}

	s.logger.Debug("deleted role", "name", name)
	return nil
}

// ListRoles returns all roles ordered by name.
func (s *SQLiteStore) ListRoles(ctx context.Context) ([]*Role, error) {
	query := `
		SELECT name, default_system_prompt, created_at, updated_at
		FROM roles
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		var role Role
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&role.Name, &role.DefaultSystemPrompt, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning role row: %w", err)
		}

		role.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		role.UpdatedAt, err = parseTime(updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		roles = append(roles, &role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role rows: %w", err)
	}

	return roles, nil
}

// SetRoleSystemPrompt updates the default system prompt for a role.
// Returns ErrNotFound if the role doesn't exist.
func (s *SQLiteStore) SetRoleSystemPrompt(ctx context.Context, name, prompt string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE roles SET default_system_prompt = ?, updated_at = ? WHERE name = ?
	`, prompt, formatTime(time.Now().UTC()), name)
	if err != nil {
		return fmt.Errorf("updating role prompt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated role prompt", "name", name, "length", len(prompt))
	return nil
}

// GetRoleSystemPrompt returns the default system prompt configured for a
// role. Returns ErrNotFound if the role doesn't exist.
func (s *SQLiteStore) GetRoleSystemPrompt(ctx context.Context, name string) (string, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx, `
		SELECT default_system_prompt FROM roles WHERE name = ?
	`, name).Scan(&prompt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying role prompt: %w", err)
	}
	return prompt, nil
}

// AttachRoleToTool links a role to a tool. Returns true when the link was
// newly created and false when it already existed - re-attaching is a
// no-op, not an error. Returns ErrNotFound when either side is missing.
func (s *SQLiteStore) AttachRoleToTool(ctx context.Context, roleName, toolID string) (bool, error) {
	if err := s.checkRoleAndTool(ctx, roleName, toolID); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tool_roles (tool_id, role_name, created_at)
		VALUES (?, ?, ?)
	`, toolID, roleName, formatTime(time.Now().UTC()))
	if err != nil {
		return false, fmt.Errorf("attaching role to tool: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	attached := rowsAffected > 0
	if attached {
		s.logger.Debug("attached role to tool", "role", roleName, "tool_id", toolID)
	}
	return attached, nil
}

// DetachRoleFromTool removes the link between a role and a tool. Returns
// false when no link existed. Returns ErrNotFound when either side is
// missing.
func (s *SQLiteStore) DetachRoleFromTool(ctx context.Context, roleName, toolID string) (bool, error) {
	if err := s.checkRoleAndTool(ctx, roleName, toolID); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_roles WHERE tool_id = ? AND role_name = ?
	`, toolID, roleName)
	if err != nil {
		return false, fmt.Errorf("detaching role from tool: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	detached := rowsAffected > 0
	if detached {
		s.logger.Debug("detached role from tool", "role", roleName, "tool_id", toolID)
	}
	return detached, nil
}

// checkRoleAndTool verifies both sides of an association exist.
func (s *SQLiteStore) checkRoleAndTool(ctx context.Context, roleName, toolID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE name = ?`, roleName).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking role: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tools WHERE id = ?`, toolID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking tool: %w", err)
	}

	return nil
}

// ListToolsByRole returns all tools a role may invoke. Returns an empty
// slice when the role is unknown or has no tools attached.
func (s *SQLiteStore) ListToolsByRole(ctx context.Context, roleName string) ([]*Tool, error) {
	query := `
		SELECT t.id, t.service_name, t.name, t.description, t.created_at
		FROM tools t
		JOIN tool_roles tr ON tr.tool_id = t.id
		WHERE tr.role_name = ?
		ORDER BY t.service_name, t.name
	`

	rows, err := s.db.QueryContext(ctx, query, roleName)
	if err != nil {
		return nil, fmt.Errorf("querying tools by role: %w", err)
	}
	defer rows.Close()

	tools, err := scanTools(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachRoleNames(ctx, tools); err != nil {
		return nil, err
	}

	return tools, nil
}
