// ABOUTME: HTTP adapter exposing registry queries and user registration
// ABOUTME: Thin JSON layer over the registry engine and the store

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/coven-registry/internal/auth"
	"github.com/2389/coven-registry/internal/registry"
	"github.com/2389/coven-registry/internal/store"
)

// API serves the plain HTTP surface of the registry.
type API struct {
	engine   *registry.Engine
	store    store.Store
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// New creates the HTTP API. A nil verifier leaves mutating routes open.
func New(engine *registry.Engine, st store.Store, verifier auth.TokenVerifier, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		engine:   engine,
		store:    st,
		verifier: verifier,
		logger:   logger.With("component", "httpapi"),
	}
}

// Handler builds the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	requireToken := auth.RequireToken(a.verifier)

	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/list_services", a.handleListServices)
	mux.HandleFunc("/list_users", a.handleListUsers)
	mux.HandleFunc("/role_for_user", a.handleRoleForUser)
	mux.HandleFunc("/tools_for_role", a.handleToolsForRole)
	mux.HandleFunc("/system_prompt_for_role", a.handleSystemPromptForRole)
	mux.HandleFunc("/token", a.handleToken)
	mux.Handle("/register_user", requireToken(http.HandlerFunc(a.handleRegisterUser)))

	return mux
}

// writeJSON encodes v as the response body with the given status.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encoding response failed", "error", err)
	}
}

// writeError maps engine and store errors onto HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrValidation), errors.Is(err, registry.ErrPromptTooLong):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrDuplicateService),
		errors.Is(err, store.ErrDuplicateEndpoint),
		errors.Is(err, store.ErrDuplicateRole):
		a.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		a.logger.Error("request failed", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// decodeBody parses a JSON request body into dst.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// handleHealth reports liveness. Always 200.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "mcp-server",
	})
}

// handleListServices returns every registered service keyed by name, in the
// client-configuration form consumers paste into their MCP settings.
func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	services, err := a.store.ListServicesBrief(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	type entry struct {
		Transport string `json:"transport"`
		URL       string `json:"url"`
	}
	out := make(map[string]entry, len(services))
	for _, svc := range services {
		out[svc.Name] = entry{Transport: "streamable_http", URL: svc.Endpoint}
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID   string `json:"user_id"`
		RoleName string `json:"role_name"`
	}
	if !a.decodeBody(w, r, &req) {
		return
	}

	if err := a.engine.RegisterUser(r.Context(), req.UserID, req.RoleName); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "registered user " + req.UserID})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
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
	a.writeJSON(w, http.StatusOK, out)
}

// handleRoleForUser resolves the user's role. Users have get-or-create
// lifecycle, so a never-seen user is created here and reported with an
// empty role rather than a 404.
func (a *API) handleRoleForUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if !a.decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	user, err := a.store.GetOrCreateUser(r.Context(), req.UserID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	name := ""
	if user.RoleName != nil {
		name = *user.RoleName
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"role": name})
}

func (a *API) handleToolsForRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RoleName string `json:"role_name"`
	}
	if !a.decodeBody(w, r, &req) {
		return
	}
	if req.RoleName == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role_name is required"})
		return
	}

	tools, err := a.store.ListToolsByRole(r.Context(), req.RoleName)
	if err != nil {
		a.writeError(w, err)
		return
	}

	type entry struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	out := make([]entry, 0, len(tools))
	for _, t := range tools {
		out = append(out, entry{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (a *API) handleSystemPromptForRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RoleName string `json:"role_name"`
	}
	if !a.decodeBody(w, r, &req) {
		return
	}
	if req.RoleName == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role_name is required"})
		return
	}

	prompt, err := a.store.GetRoleSystemPrompt(r.Context(), req.RoleName)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"default_system_prompt": prompt})
}

// handleToken answers "may this user call this service, and with what
// credential". The status codes gate automated retry logic upstream, so
// each decision outcome maps to a distinct code.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	serviceName := r.URL.Query().Get("service_name")
	userID := r.URL.Query().Get("user_id")
	if serviceName == "" || userID == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "service_name and user_id are required"})
		return
	}

	decision, err := a.engine.ResolveAccess(r.Context(), serviceName, userID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	switch decision.State {
	case registry.AccessNotRequired:
		a.writeJSON(w, http.StatusOK, map[string]string{"status": "Ok"})
	case registry.AccessAuthorized:
		a.writeJSON(w, http.StatusOK, map[string]string{
			"token":  decision.Token,
			"method": decision.Method,
		})
	case registry.AccessUnauthorized:
		a.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user has not authorized this service"})
	case registry.AccessServiceNotFound:
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "service not found"})
	default:
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
