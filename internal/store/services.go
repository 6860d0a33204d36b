// ABOUTME: Service and tool store methods for the registry
// ABOUTME: Service rows own their tool rows; writes are transactional

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateServiceWithTools inserts a service and all of its tool rows in a
// single transaction. Either everything becomes visible or nothing does.
// The auth method is zeroed whenever the service does not require
// authorization, regardless of what the caller supplied.
func (s *SQLiteStore) CreateServiceWithTools(ctx context.Context, svc *Service, tools []*Tool) (*Service, error) {
	now := time.Now().UTC()
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	if svc.UpdatedAt.IsZero() {
		svc.UpdatedAt = now
	}
	if !svc.RequiresAuthorization {
		svc.AuthMethod = AuthMethodNone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO services (name, endpoint, description, requires_authorization, auth_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		svc.Name,
		svc.Endpoint,
		svc.Description,
		boolToInt(svc.RequiresAuthorization),
		svc.AuthMethod,
		formatTime(svc.CreatedAt),
		formatTime(svc.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			if strings.Contains(err.Error(), "services.endpoint") {
				return nil, ErrDuplicateEndpoint
			}
			return nil, ErrDuplicateService
		}
		return nil, fmt.Errorf("inserting service: %w", err)
	}

	inserted := make([]*Tool, 0, len(tools))
	for _, t := range tools {
		row := &Tool{
			ID:          t.ID,
			ServiceName: svc.Name,
			Name:        t.Name,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tools (id, service_name, name, description, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, row.ID, row.ServiceName, row.Name, row.Description, formatTime(row.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("inserting tool %q: %w", row.Name, err)
		}
		inserted = append(inserted, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing service: %w", err)
	}

	svc.Tools = inserted
	s.logger.Debug("created service", "name", svc.Name, "endpoint", svc.Endpoint, "tools", len(inserted))
	return svc, nil
}

// GetService retrieves a service with its tool set.
// Returns ErrNotFound if the service doesn't exist.
func (s *SQLiteStore) GetService(ctx context.Context, name string) (*Service, error) {
	query := `
		SELECT name, endpoint, description, requires_authorization, auth_method, created_at, updated_at
		FROM services
		WHERE name = ?
	`

	var svc Service
	var requiresAuth int
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&svc.Name,
		&svc.Endpoint,
		&svc.Description,
		&requiresAuth,
		&svc.AuthMethod,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying service: %w", err)
	}

	svc.RequiresAuthorization = requiresAuth != 0

	svc.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	svc.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	svc.Tools, err = s.ListServiceTools(ctx, name)
	if err != nil {
		return nil, err
	}

	return &svc, nil
}

// DeleteService removes a service and everything hanging off it: tools,
// role-tool associations for those tools, and access tokens referencing the
// service name. The declarative cascades cover the same rows, but the
// cleanup runs explicitly inside the transaction so the result does not
// depend on them. Returns false when no service row existed.
func (s *SQLiteStore) DeleteService(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tool_roles
		WHERE tool_id IN (SELECT id FROM tools WHERE service_name = ?)
	`, name); err != nil {
		return false, fmt.Errorf("deleting tool role links: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE service_name = ?`, name); err != nil {
		return false, fmt.Errorf("deleting access tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE service_name = ?`, name); err != nil {
		return false, fmt.Errorf("deleting tools: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM services WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("deleting service: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing service deletion: %w", err)
	}

	if rowsAffected == 0 {
		return false, nil
	}

	s.logger.Debug("deleted service", "name", name)
	return true, nil
}

// ListServicesBrief returns the name, endpoint, and description of every
// registered service, ordered by name.
func (s *SQLiteStore) ListServicesBrief(ctx context.Context) ([]ServiceBrief, error) {
	query := `
		SELECT name, endpoint, description
		FROM services
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying services: %w", err)
	}
	defer rows.Close()

	services := []ServiceBrief{}
	for rows.Next() {
		var b ServiceBrief
		if err := rows.Scan(&b.Name, &b.Endpoint, &b.Description); err != nil {
			return nil, fmt.Errorf("scanning service row: %w", err)
		}
		services = append(services, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service rows: %w", err)
	}

	return services, nil
}

// GetServiceAuth returns the authorization configuration for a service.
// Returns ErrNotFound if the service doesn't exist.
func (s *SQLiteStore) GetServiceAuth(ctx context.Context, name string) (*ServiceAuth, error) {
	query := `SELECT requires_authorization, auth_method FROM services WHERE name = ?`

	var requiresAuth int
	var auth ServiceAuth

	err := s.db.QueryRowContext(ctx, query, name).Scan(&requiresAuth, &auth.AuthMethod)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying service auth: %w", err)
	}

	auth.RequiresAuthorization = requiresAuth != 0
	return &auth, nil
}

// boolToInt converts a bool to the 0/1 form stored in sqlite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
