// ABOUTME: Tool lookup store methods with attached role names
// ABOUTME: Tools are owned by services; role links come from tool_roles

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ListServiceTools returns all tools stored for a service with their
// attached role names resolved. Returns an empty slice if the service is
// unknown or has no tools - absence is a valid, queryable state.
func (s *SQLiteStore) ListServiceTools(ctx context.Context, serviceName string) ([]*Tool, error) {
	query := `
		SELECT id, service_name, name, description, created_at
		FROM tools
		WHERE service_name = ?
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, serviceName)
	if err != nil {
		return nil, fmt.Errorf("querying tools: %w", err)
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

// GetTool retrieves a tool by ID with its attached role names.
// Returns ErrNotFound if the tool doesn't exist.
func (s *SQLiteStore) GetTool(ctx context.Context, id string) (*Tool, error) {
	query := `
		SELECT id, service_name, name, description, created_at
		FROM tools
		WHERE id = ?
	`

	var tool Tool
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tool.ID,
		&tool.ServiceName,
		&tool.Name,
		&tool.Description,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool: %w", err)
	}

	tool.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	tools := []*Tool{&tool}
	if err := s.attachRoleNames(ctx, tools); err != nil {
		return nil, err
	}

	return &tool, nil
}

// attachRoleNames fills the Roles slice of each tool with the role names
// currently linked to it. The query is explicit about the rows it returns
// so the result is complete when the call ends; nothing is lazy-loaded.
func (s *SQLiteStore) attachRoleNames(ctx context.Context, tools []*Tool) error {
	if len(tools) == 0 {
		return nil
	}

	byID := make(map[string]*Tool, len(tools))
	args := make([]any, 0, len(tools))
	placeholders := ""
	for i, t := range tools {
		t.Roles = []string{}
		byID[t.ID] = t
		args = append(args, t.ID)
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}

	query := `
		SELECT tool_id, role_name
		FROM tool_roles
		WHERE tool_id IN (` + placeholders + `)
		ORDER BY role_name
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying tool roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var toolID, roleName string
		if err := rows.Scan(&toolID, &roleName); err != nil {
			return fmt.Errorf("scanning tool role row: %w", err)
		}
		if t, ok := byID[toolID]; ok {
			t.Roles = append(t.Roles, roleName)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating tool role rows: %w", err)
	}

	return nil
}

// scanTools reads tool rows without role names attached.
func scanTools(rows *sql.Rows) ([]*Tool, error) {
	tools := []*Tool{}
	for rows.Next() {
		var tool Tool
		var createdAtStr string

		if err := rows.Scan(&tool.ID, &tool.ServiceName, &tool.Name, &tool.Description, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning tool row: %w", err)
		}

		var err error
		tool.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing tool created_at: %w", err)
		}

		tools = append(tools, &tool)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool rows: %w", err)
	}

	return tools, nil
}
