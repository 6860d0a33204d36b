// ABOUTME: Registry engine for discovery-driven service registration
// ABOUTME: Orchestrates the discovery adapter, the store, and the reread hook

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/coven-registry/internal/discovery"
	"github.com/2389/coven-registry/internal/store"
)

// ErrValidation is returned when a required field is missing or malformed.
var ErrValidation = errors.New("validation failed")

// ErrPromptTooLong is returned when a role system prompt exceeds the
// configured maximum length.
var ErrPromptTooLong = errors.New("system prompt too long")

// FallbackDescription is stored when neither the caller nor the remote
// service provides a description.
const FallbackDescription = "No description found, list tools to get more information"

// DefaultMaxPromptLength bounds role system prompts when no limit is
// configured.
const DefaultMaxPromptLength = 2000

// rereadTimeout bounds the best-effort notification call.
const rereadTimeout = 5 * time.Second

// Discoverer is the capability the engine needs from the discovery
// adapter. discovery.Client implements it.
type Discoverer interface {
	FetchTools(ctx context.Context, endpoint string) ([]discovery.ToolInfo, error)
	FetchDescription(ctx context.Context, endpoint string) (*string, error)
}

// Config holds the engine's collaborators.
type Config struct {
	Store           store.Store
	Discoverer      Discoverer
	RereadURL       string // optional notification endpoint, empty disables
	MaxPromptLength int    // 0 selects DefaultMaxPromptLength
	Logger          *slog.Logger
}

// Engine implements the registration workflow and the authorization
// decision procedure over the shared store. It holds no state between
// calls beyond its collaborators.
type Engine struct {
	store           store.Store
	disc            Discoverer
	rereadURL       string
	maxPromptLength int
	httpClient      *http.Client
	logger          *slog.Logger
}

// New creates a registry engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Discoverer == nil {
		return nil, errors.New("discoverer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxPrompt := cfg.MaxPromptLength
	if maxPrompt <= 0 {
		maxPrompt = DefaultMaxPromptLength
	}

	return &Engine{
		store:           cfg.Store,
		disc:            cfg.Discoverer,
		rereadURL:       cfg.RereadURL,
		maxPromptLength: maxPrompt,
		httpClient:      &http.Client{Timeout: rereadTimeout},
		logger:          logger.With("component", "registry"),
	}, nil
}

// MaxPromptLength returns the configured system prompt bound.
func (e *Engine) MaxPromptLength() int {
	return e.maxPromptLength
}

// RegisterParams are the caller-supplied fields for RegisterService.
type RegisterParams struct {
	Name                  string
	Endpoint              string
	Description           string
	RequiresAuthorization bool
	AuthMethod            string
}

// RegisterService registers a new service. Discovery runs first: the tool
// list must arrive (or fail) before any row is written, so a failed fetch
// never leaves a half-applied registration. When the caller supplies no
// description, the remote service's own description is used if it
// advertises one, otherwise a fixed fallback string. Registration is
// name-keyed: re-registering an existing name is rejected with
// store.ErrDuplicateService, never silently merged.
func (e *Engine) RegisterService(ctx context.Context, p RegisterParams) (*store.Service, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: service name is required", ErrValidation)
	}
	if p.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrValidation)
	}
	switch p.AuthMethod {
	case store.AuthMethodNone, store.AuthMethodBasic, store.AuthMethodBearer:
	default:
		return nil, fmt.Errorf("%w: unknown auth method %q", ErrValidation, p.AuthMethod)
	}

	// Reject a taken name before spending the discovery round trip. The
	// unique index still backs this up at commit time.
	if _, err := e.store.GetService(ctx, p.Name); err == nil {
		return nil, store.ErrDuplicateService
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	discovered, err := e.disc.FetchTools(ctx, p.Endpoint)
	if err != nil {
		return nil, err
	}

	description := p.Description
	if description == "" {
		remote, err := e.disc.FetchDescription(ctx, p.Endpoint)
		if err != nil {
			// A failed fetch is a hard error; only a reachable service
			// that advertises nothing falls through to the fallback.
			return nil, err
		}
		if remote != nil {
			description = *remote
		} else {
			description = FallbackDescription
		}
	}

	authMethod := p.AuthMethod
	if !p.RequiresAuthorization {
		authMethod = store.AuthMethodNone
	}

	tools := make([]*store.Tool, len(discovered))
	for i, d := range discovered {
		tools[i] = &store.Tool{Name: d.Name, Description: d.Description}
	}

	svc, err := e.store.CreateServiceWithTools(ctx, &store.Service{
		Name:                  p.Name,
		Endpoint:              p.Endpoint,
		Description:           description,
		RequiresAuthorization: p.RequiresAuthorization,
		AuthMethod:            authMethod,
	}, tools)
	if err != nil {
		return nil, err
	}

	e.logger.Info("registered service", "name", svc.Name, "endpoint", svc.Endpoint, "tools", len(svc.Tools))
	e.notifyReread(ctx)
	return svc, nil
}

// RemoveService deletes a service with everything hanging off it. Returns
// false when the name was unknown; calling twice is safe.
func (e *Engine) RemoveService(ctx context.Context, name string) (bool, error) {
	deleted, err := e.store.DeleteService(ctx, name)
	if err != nil {
		return false, err
	}
	if deleted {
		e.logger.Info("removed service", "name", name)
		e.notifyReread(ctx)
	}
	return deleted, nil
}

// RegisterUser creates the user on first reference and optionally assigns
// a role in the same call.
func (e *Engine) RegisterUser(ctx context.Context, userID, roleName string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if _, err := e.store.GetOrCreateUser(ctx, userID); err != nil {
		return err
	}
	if roleName != "" {
		return e.store.AssignRoleToUser(ctx, userID, roleName)
	}
	return nil
}

// SetRoleSystemPrompt updates a role's default system prompt, rejecting
// prompts over the configured maximum with ErrPromptTooLong.
func (e *Engine) SetRoleSystemPrompt(ctx context.Context, roleName, prompt string) error {
	if len(prompt) > e.maxPromptLength {
		return fmt.Errorf("%w: %d characters exceeds the maximum of %d", ErrPromptTooLong, len(prompt), e.maxPromptLength)
	}
	return e.store.SetRoleSystemPrompt(ctx, roleName, prompt)
}

// AuthorizeUser stores the credential a user supplied for a service,
// overwriting any prior token for the pair.
func (e *Engine) AuthorizeUser(ctx context.Context, serviceName, userID, token string) error {
	if serviceName == "" || userID == "" || token == "" {
		return fmt.Errorf("%w: service_name, user_id, and token are required", ErrValidation)
	}
	_, err := e.store.UpsertUserServiceToken(ctx, userID, serviceName, token)
	return err
}

// notifyReread fires the optional external notification after a committed
// registration change. Best effort only: a failure is logged and never
// rolls anything back.
func (e *Engine) notifyReread(ctx context.Context) {
	if e.rereadURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.rereadURL, nil)
	if err != nil {
		e.logger.Warn("building reread notification failed", "url", e.rereadURL, "error", err)
		return
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("reread notification failed", "url", e.rereadURL, "error", err)
		return
	}
	resp.Body.Close()

	e.logger.Debug("reread notification sent", "url", e.rereadURL, "status", resp.StatusCode)
}
