// ABOUTME: Tool definitions and handlers for the registry MCP surface.
// ABOUTME: Each tool is a thin adapter over the engine and store operations.

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/coven-registry/internal/registry"
	"github.com/2389/coven-registry/internal/store"
)

// toolHandlerFunc executes one tool call and returns the text content of
// the result. Returned errors become isError tool results, not JSON-RPC
// errors.
type toolHandlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

type toolDefinition struct {
	name        string
	description string
	inputSchema string
}

// toolDefinitions lists the registry administration tools in the order they
// appear in tools/list.
func (s *Server) toolDefinitions() []toolDefinition {
	serviceSchema := `{"type":"object","properties":{"name":{"type":"string"},"endpoint":{"type":"string"},"description":{"type":"string"},"requires_authorization":{"type":"boolean"},"auth_method":{"type":"string","enum":["","Basic","Bearer"]}},"required":["name","endpoint"]}`

	return []toolDefinition{
		{
			name:        "add_service",
			description: "Register a remote MCP service. Its tools are discovered from the endpoint before anything is stored.",
			inputSchema: serviceSchema,
		},
		{
			name:        "add_endpoint",
			description: "Alias for add_service.",
			inputSchema: serviceSchema,
		},
		{
			name:        "remove_service",
			description: "Remove a registered service along with its tools, role associations, and stored tokens.",
			inputSchema: `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
		},
		{
			name:        "list_services",
			description: "List every registered service with its endpoint and description.",
			inputSchema: `{"type":"object","properties":{}}`,
		},
		{
			name:        "get_tools",
			description: "List the tools a registered service exposes, including the roles attached to each.",
			inputSchema: `{"type":"object","properties":{"service_name":{"type":"string"}},"required":["service_name"]}`,
		},
		{
			name:        "create_role",
			description: "Create a role, optionally with a default system prompt.",
			inputSchema: `{"type":"object","properties":{"name":{"type":"string"},"default_system_prompt":{"type":"string"}},"required":["name"]}`,
		},
		{
			name:        "remove_role",
			description: "Remove a role, detaching it from every tool and user that references it.",
			inputSchema: `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
		},
		{
			name:        "list_roles",
			description: "List every role with its default system prompt.",
			inputSchema: `{"type":"object","properties":{}}`,
		},
		{
			name:        "set_role_system_prompt",
			description: fmt.Sprintf("Set the default system prompt for a role, at most %d characters.", s.engine.MaxPromptLength()),
			inputSchema: `{"type":"object","properties":{"role_name":{"type":"string"},"prompt":{"type":"string"}},"required":["role_name","prompt"]}`,
		},
		{
			name:        "attach_role_to_tool",
			description: "Allow a role to use a tool.",
			inputSchema: `{"type":"object","properties":{"role_name":{"type":"string"},"tool_id":{"type":"string"}},"required":["role_name","tool_id"]}`,
		},
		{
			name:        "detach_role_from_tool",
			description: "Revoke a role's access to a tool.",
			inputSchema: `{"type":"object","properties":{"role_name":{"type":"string"},"tool_id":{"type":"string"}},"required":["role_name","tool_id"]}`,
		},
		{
			name:        "assign_role_to_user",
			description: "Assign a role to a user, replacing any role the user already holds.",
			inputSchema: `{"type":"object","properties":{"user_id":{"type":"string"},"role_name":{"type":"string"}},"required":["user_id","role_name"]}`,
		},
		{
			name:        "remove_role_from_user",
			description: "Clear a user's role assignment. The role name, when supplied, is recorded in the log.",
			inputSchema: `{"type":"object","properties":{"user_id":{"type":"string"},"role_name":{"type":"string"}},"required":["user_id"]}`,
		},
		{
			name:        "list_users",
			description: "List every known user and the role each holds.",
			inputSchema: `{"type":"object","properties":{}}`,
		},
		{
			name:        "authorize_user_to_service",
			description: "Store the credential a user supplies for an authorization-required service.",
			inputSchema: `{"type":"object","properties":{"service_name":{"type":"string"},"user_id":{"type":"string"},"token":{"type":"string"}},"required":["service_name","user_id","token"]}`,
		},
	}
}

// toolHandler resolves a tool name to its handler.
func (s *Server) toolHandler(name string) (toolHandlerFunc, bool) {
	handlers := map[string]toolHandlerFunc{
		"add_service":               s.toolAddService,
		"add_endpoint":              s.toolAddService,
		"remove_service":            s.toolRemoveService,
		"list_services":             s.toolListServices,
		"get_tools":                 s.toolGetTools,
		"create_role":               s.toolCreateRole,
		"remove_role":               s.toolRemoveRole,
		"list_roles":                s.toolListRoles,
		"set_role_system_prompt":    s.toolSetRoleSystemPrompt,
		"attach_role_to_tool":       s.toolAttachRoleToTool,
		"detach_role_from_tool":     s.toolDetachRoleFromTool,
		"assign_role_to_user":       s.toolAssignRoleToUser,
		"remove_role_from_user":     s.toolRemoveRoleFromUser,
		"list_users":                s.toolListUsers,
		"authorize_user_to_service": s.toolAuthorizeUserToService,
	}
	h, ok := handlers[name]
	return h, ok
}

// decodeArgs unmarshals tool arguments into dst.
func decodeArgs(args json.RawMessage, dst any) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// marshalText renders a structured tool result as JSON text content.
func marshalText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}

func (s *Server) toolAddService(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Name                  string `json:"name"`
		Endpoint              string `json:"endpoint"`
		Description           string `json:"description"`
		RequiresAuthorization bool   `json:"requires_authorization"`
		AuthMethod            string `json:"auth_method"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	svc, err := s.engine.RegisterService(ctx, registry.RegisterParams{
		Name:                  req.Name,
		Endpoint:              req.Endpoint,
		Description:           req.Description,
		RequiresAuthorization: req.RequiresAuthorization,
		AuthMethod:            req.AuthMethod,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateService) {
			return "", fmt.Errorf("service %s is already registered", req.Name)
		}
		if errors.Is(err, store.ErrDuplicateEndpoint) {
			return "", fmt.Errorf("endpoint %s is already registered under another service", req.Endpoint)
		}
		return "", err
	}

	return fmt.Sprintf("Added service %s with %d tools", svc.Name, len(svc.Tools)), nil
}

func (s *Server) toolRemoveService(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	deleted, err := s.engine.RemoveService(ctx, req.Name)
	if err != nil {
		return "", err
	}
	if !deleted {
		return fmt.Sprintf("Service %s not found", req.Name), nil
	}
	return fmt.Sprintf("Removed service %s", req.Name), nil
}

func (s *Server) toolListServices(ctx context.Context, _ json.RawMessage) (string, error) {
	services, err := s.store.ListServicesBrief(ctx)
	if err != nil {
		return "", err
	}

	type entry struct {
		ServiceName string `json:"service_name"`
		Endpoint    string `json:"endpoint"`
		Description string `json:"description"`
	}
	out := make([]entry, 0, len(services))
	for _, svc := range services {
		out = append(out, entry{ServiceName: svc.Name, Endpoint: svc.Endpoint, Description: svc.Description})
	}
	return marshalText(out)
}

func (s *Server) toolGetTools(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		ServiceName string `json:"service_name"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	tools, err := s.store.ListServiceTools(ctx, req.ServiceName)
	if err != nil {
		return "", err
	}

	type entry struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Roles       []string `json:"roles"`
	}
	out := make([]entry, 0, len(tools))
	for _, t := range tools {
		out = append(out, entry{ID: t.ID, Name: t.Name, Description: t.Description, Roles: t.Roles})
	}
	return marshalText(out)
}

func (s *Server) toolCreateRole(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Name                string `json:"name"`
		DefaultSystemPrompt string `json:"default_system_prompt"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}
	if req.Name == "" {
		return "", errors.New("role name is required")
	}

	if _, err := s.store.CreateRole(ctx, req.Name, req.DefaultSystemPrompt); err != nil {
		if errors.Is(err, store.ErrDuplicateRole) {
			return "", fmt.Errorf("role %s already exists", req.Name)
		}
		return "", err
	}
	return fmt.Sprintf("Created role %s", req.Name), nil
}

func (s *Server) toolRemoveRole(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	if err := s.store.DeleteRole(ctx, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("role %s not found", req.Name)
		}
		return "", err
	}
	return fmt.Sprintf("Removed role %s", req.Name), nil
}

func (s *Server) toolListRoles(ctx context.Context, _ json.RawMessage) (string, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return "", err
	}

	type entry struct {
		Name                string `json:"name"`
		DefaultSystemPrompt string `json:"default_system_prompt"`
	}
	out := make([]entry, 0, len(roles))
	for _, r := range roles {
		out = append(out, entry{Name: r.Name, DefaultSystemPrompt: r.DefaultSystemPrompt})
	}
	return marshalText(out)
}

func (s *Server) toolSetRoleSystemPrompt(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		RoleName string `json:"role_name"`
		Prompt   string `json:"prompt"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	err := s.engine.SetRoleSystemPrompt(ctx, req.RoleName, req.Prompt)
	if err != nil {
		// An oversized prompt is reported as advice, not a failure.
		if errors.Is(err, registry.ErrPromptTooLong) {
			return fmt.Sprintf("Prompt not updated: %v. Shorten the prompt and try again.", err), nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("role %s not found", req.RoleName)
		}
		return "", err
	}
	return fmt.Sprintf("Updated system prompt for role %s", req.RoleName), nil
}

func (s *Server) toolAttachRoleToTool(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		RoleName string `json:"role_name"`
		ToolID   string `json:"tool_id"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	tool, err := s.store.GetTool(ctx, req.ToolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("tool %s not found", req.ToolID)
		}
		return "", err
	}

	attached, err := s.store.AttachRoleToTool(ctx, req.RoleName, tool.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("role %s not found", req.RoleName)
		}
		return "", err
	}
	if !attached {
		return fmt.Sprintf("Role %s was already attached to tool %s", req.RoleName, tool.Name), nil
	}
	return fmt.Sprintf("Attached role %s to tool %s", req.RoleName, tool.Name), nil
}

func (s *Server) toolDetachRoleFromTool(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		RoleName string `json:"role_name"`
		ToolID   string `json:"tool_id"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	tool, err := s.store.GetTool(ctx, req.ToolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("tool %s not found", req.ToolID)
		}
		return "", err
	}

	detached, err := s.store.DetachRoleFromTool(ctx, req.RoleName, tool.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("role %s not found", req.RoleName)
		}
		return "", err
	}
	if !detached {
		return fmt.Sprintf("Role %s was not attached to tool %s", req.RoleName, tool.Name), nil
	}
	return fmt.Sprintf("Detached role %s from tool %s", req.RoleName, tool.Name), nil
}

func (s *Server) toolAssignRoleToUser(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		UserID   string `json:"user_id"`
		RoleName string `json:"role_name"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	if err := s.store.AssignRoleToUser(ctx, req.UserID, req.RoleName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("user %s or role %s not found", req.UserID, req.RoleName)
		}
		return "", err
	}
	return fmt.Sprintf("Assigned role %s to user %s", req.RoleName, req.UserID), nil
}

func (s *Server) toolRemoveRoleFromUser(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		UserID   string `json:"user_id"`
		RoleName string `json:"role_name"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	// The role is cleared regardless of which role the caller named; the
	// name is kept for the log.
	if err := s.store.ClearUserRole(ctx, req.UserID); err != nil {
		return "", err
	}
	s.logger.Info("cleared user role", "user_id", req.UserID, "role_name", req.RoleName)
	return fmt.Sprintf("Removed role from user %s", req.UserID), nil
}

func (s *Server) toolListUsers(ctx context.Context, _ json.RawMessage) (string, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return "", err
	}

	type entry struct {
		UserID   string `json:"user_id"`
		RoleName string `json:"role_name"`
	}
	out := make([]entry, 0, len(users))
	for _, u := range users {
		e := entry{UserID: u.UserID}
		if u.RoleName != nil {
			e.RoleName = *u.RoleName
		}
		out = append(out, e)
	}
	return marshalText(out)
}

func (s *Server) toolAuthorizeUserToService(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		ServiceName string `json:"service_name"`
		UserID      string `json:"user_id"`
		Token       string `json:"token"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return "", err
	}

	if err := s.engine.AuthorizeUser(ctx, req.ServiceName, req.UserID, req.Token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("service %s not found", req.ServiceName)
		}
		return "", err
	}
	return fmt.Sprintf("Stored token for user %s on service %s. Retry the original request.", req.UserID, req.ServiceName), nil
}
