// ABOUTME: Store interfaces and data types for coven-registry persistence
// ABOUTME: Defines Service, Tool, Role, User, AccessToken and the store interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateService is returned when a service with the same name already exists
var ErrDuplicateService = errors.New("service already exists")

// ErrDuplicateEndpoint is returned when another service already owns the endpoint
var ErrDuplicateEndpoint = errors.New("endpoint already registered")

// ErrDuplicateRole is returned when a role with the same name already exists
var ErrDuplicateRole = errors.New("role already exists")

// AuthMethod constants for service authorization methods. The empty string
// means no method is configured; it is the only valid value when a service
// does not require authorization.
const (
	AuthMethodNone   = ""
	AuthMethodBasic  = "Basic"
	AuthMethodBearer = "Bearer"
)

// Service represents a registered remote tool provider. The name is the
// identity key; the endpoint is unique but not the identity.
type Service struct {
	Name                  string
	Endpoint              string
	Description           string
	RequiresAuthorization bool
	AuthMethod            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Tools                 []*Tool
}

// ServiceBrief is the listing projection of a service without tool detail.
type ServiceBrief struct {
	Name        string
	Endpoint    string
	Description string
}

// ServiceAuth holds the authorization configuration of a service.
type ServiceAuth struct {
	RequiresAuthorization bool
	AuthMethod            string
}

// Tool represents a named capability exposed by a service. A tool belongs to
// exactly one service and cannot outlive it.
type Tool struct {
	ID          string // UUID v4
	ServiceName string
	Name        string
	Description string
	Roles       []string // role names attached to this tool
	CreatedAt   time.Time
}

// Role represents a named permission group linking allowed tools to users.
type Role struct {
	Name                string
	DefaultSystemPrompt string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// User represents an externally identified user. RoleName is nil when the
// user has no role assigned.
type User struct {
	UserID    string
	RoleName  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessToken holds the opaque credential a user stored for one service.
// There is at most one row per (user, service) pair.
type AccessToken struct {
	ID          string // UUID v4
	UserID      string
	ServiceName string
	Token       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RegistryStore defines service and tool persistence.
type RegistryStore interface {
	// CreateServiceWithTools inserts the service and its tool rows in one
	// transaction. Returns ErrDuplicateService or ErrDuplicateEndpoint on
	// unique-key conflicts.
	CreateServiceWithTools(ctx context.Context, svc *Service, tools []*Tool) (*Service, error)
	GetService(ctx context.Context, name string) (*Service, error)
	// DeleteService removes the service, its tools, their role links, and
	// all access tokens for the service. Returns false if no row existed.
	DeleteService(ctx context.Context, name string) (bool, error)
	ListServicesBrief(ctx context.Context) ([]ServiceBrief, error)
	// GetServiceAuth returns ErrNotFound when the service does not exist.
	GetServiceAuth(ctx context.Context, name string) (*ServiceAuth, error)
	// ListServiceTools returns an empty slice for an unknown service.
	ListServiceTools(ctx context.Context, serviceName string) ([]*Tool, error)
	GetTool(ctx context.Context, id string) (*Tool, error)
}

// AccessStore defines role and user persistence.
type AccessStore interface {
	CreateRole(ctx context.Context, name, defaultSystemPrompt string) (*Role, error)
	GetRole(ctx context.Context, name string) (*Role, error)
	// DeleteRole clears tool associations and detaches users before
	// removing the role row, all in one transaction.
	DeleteRole(ctx context.Context, name string) error
	ListRoles(ctx context.Context) ([]*Role, error)
	SetRoleSystemPrompt(ctx context.Context, name, prompt string) error
	// GetRoleSystemPrompt returns ErrNotFound for an unknown role.
	GetRoleSystemPrompt(ctx context.Context, name string) (string, error)

	// AttachRoleToTool returns true when the association was newly created
	// and false when it already existed.
	AttachRoleToTool(ctx context.Context, roleName, toolID string) (bool, error)
	// DetachRoleFromTool returns true when an association was removed.
	DetachRoleFromTool(ctx context.Context, roleName, toolID string) (bool, error)
	// ListToolsByRole returns an empty slice for an unknown role.
	ListToolsByRole(ctx context.Context, roleName string) ([]*Tool, error)

	GetOrCreateUser(ctx context.Context, userID string) (*User, error)
	AssignRoleToUser(ctx context.Context, userID, roleName string) error
	// ClearUserRole unsets the user's role. It succeeds even when the user
	// has no role or a different one.
	ClearUserRole(ctx context.Context, userID string) error
	// GetRoleForUser returns (nil, nil) when the user exists without a role
	// and ErrNotFound when the user is unknown.
	GetRoleForUser(ctx context.Context, userID string) (*Role, error)
	ListUsers(ctx context.Context) ([]*User, error)
}

// TokenStore defines per-(user, service) access token persistence.
type TokenStore interface {
	// UpsertUserServiceToken overwrites any existing token for the pair.
	// Returns ErrNotFound when the service is unknown; the user is created
	// on first use.
	UpsertUserServiceToken(ctx context.Context, userID, serviceName, token string) (*AccessToken, error)
	// GetUserServiceToken returns (nil, nil) when the user is unknown or
	// holds no token for the service. Absence is never an error.
	GetUserServiceToken(ctx context.Context, userID, serviceName string) (*string, error)
}

// Store combines all persistence interfaces. SQLiteStore implements it.
type Store interface {
	RegistryStore
	AccessStore
	TokenStore

	// Close releases any resources held by the store
	Close() error
}
