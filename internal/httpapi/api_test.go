// ABOUTME: Tests for the HTTP adapter
// ABOUTME: Exercises route handlers against a real sqlite store

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-registry/internal/auth"
	"github.com/2389/coven-registry/internal/discovery"
	"github.com/2389/coven-registry/internal/registry"
	"github.com/2389/coven-registry/internal/store"
)

type stubDiscoverer struct {
	tools []discovery.ToolInfo
}

func (s *stubDiscoverer) FetchTools(ctx context.Context, endpoint string) ([]discovery.ToolInfo, error) {
	return s.tools, nil
}

func (s *stubDiscoverer) FetchDescription(ctx context.Context, endpoint string) (*string, error) {
	return nil, nil
}

type fixture struct {
	api    *API
	engine *registry.Engine
	store  *store.SQLiteStore
}

func setup(t *testing.T, verifier auth.TokenVerifier) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine, err := registry.New(registry.Config{Store: st, Discoverer: &stubDiscoverer{}})
	require.NoError(t, err)

	return &fixture{
		api:    New(engine, st, verifier, nil),
		engine: engine,
		store:  st,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mcp-server", body["service"])
}

func TestListServices_MappingForm(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.engine.RegisterService(ctx, registry.RegisterParams{
		Name: "weather", Endpoint: "http://weather/mcp",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/list_services", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]map[string]string](t, rec)
	require.Contains(t, body, "weather")
	assert.Equal(t, "streamable_http", body["weather"]["transport"])
	assert.Equal(t, "http://weather/mcp", body["weather"]["url"])
}

func TestRegisterUser(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/register_user", map[string]string{
		"user_id": "alice", "role_name": "analyst",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	role, err := f.store.GetRoleForUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, "analyst", role.Name)
}

func TestRegisterUser_UnknownRole(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodPost, "/register_user", map[string]string{
		"user_id": "alice", "role_name": "nope",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterUser_MissingUserID(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodPost, "/register_user", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterUser_RequiresTokenWhenConfigured(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("secret"))
	f := setup(t, verifier)

	rec := f.do(t, http.MethodPost, "/register_user", map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := verifier.Generate("admin", time.Hour)
	require.NoError(t, err)

	data, err := json.Marshal(map[string]string{"user_id": "alice"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/register_user", bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestListUsers(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)
	require.NoError(t, f.engine.RegisterUser(ctx, "alice", "analyst"))
	require.NoError(t, f.engine.RegisterUser(ctx, "bob", ""))

	rec := f.do(t, http.MethodGet, "/list_users", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[[]map[string]string](t, rec)
	require.Len(t, body, 2)
	assert.Equal(t, "alice", body[0]["user_id"])
	assert.Equal(t, "analyst", body[0]["role_name"])
	assert.Equal(t, "bob", body[1]["user_id"])
	assert.Equal(t, "", body[1]["role_name"])
}

func TestRoleForUser(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)
	require.NoError(t, f.engine.RegisterUser(ctx, "alice", "analyst"))
	require.NoError(t, f.engine.RegisterUser(ctx, "bob", ""))

	rec := f.do(t, http.MethodPost, "/role_for_user", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analyst", decodeBody[map[string]string](t, rec)["role"])

	// A user without a role reports an empty role name.
	rec = f.do(t, http.MethodPost, "/role_for_user", map[string]string{"user_id": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decodeBody[map[string]string](t, rec)["role"])
}

func TestRoleForUser_UnknownUserIsCreated(t *testing.T) {
	f := setup(t, nil)

	// A never-seen user is created on first lookup and has no role yet.
	rec := f.do(t, http.MethodPost, "/role_for_user", map[string]string{"user_id": "carol"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decodeBody[map[string]string](t, rec)["role"])

	role, err := f.store.GetRoleForUser(context.Background(), "carol")
	require.NoError(t, err)
	assert.Nil(t, role)
}

func TestToolsForRole(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	disc := &stubDiscoverer{tools: []discovery.ToolInfo{{Name: "search", Description: "find things"}}}
	engine, err := registry.New(registry.Config{Store: f.store, Discoverer: disc})
	require.NoError(t, err)

	svc, err := engine.RegisterService(ctx, registry.RegisterParams{
		Name: "svc", Endpoint: "http://svc/mcp",
	})
	require.NoError(t, err)
	require.Len(t, svc.Tools, 1)

	_, err = f.store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)
	attached, err := f.store.AttachRoleToTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)
	require.True(t, attached)

	rec := f.do(t, http.MethodPost, "/tools_for_role", map[string]string{"role_name": "analyst"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string][]map[string]string](t, rec)
	require.Len(t, body["tools"], 1)
	assert.Equal(t, "search", body["tools"][0]["name"])
	assert.Equal(t, "find things", body["tools"][0]["description"])

	// Unknown role yields an empty list, not an error.
	rec = f.do(t, http.MethodPost, "/tools_for_role", map[string]string{"role_name": "ghost"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[map[string][]map[string]string](t, rec)["tools"])
}

func TestSystemPromptForRole(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.store.CreateRole(ctx, "analyst", "You are an analyst.")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/system_prompt_for_role", map[string]string{"role_name": "analyst"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "You are an analyst.", decodeBody[map[string]string](t, rec)["default_system_prompt"])

	rec = f.do(t, http.MethodPost, "/system_prompt_for_role", map[string]string{"role_name": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToken_DecisionOutcomes(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.engine.RegisterService(ctx, registry.RegisterParams{
		Name: "open", Endpoint: "http://open/mcp",
	})
	require.NoError(t, err)
	_, err = f.engine.RegisterService(ctx, registry.RegisterParams{
		Name: "locked", Endpoint: "http://locked/mcp",
		RequiresAuthorization: true, AuthMethod: store.AuthMethodBearer,
	})
	require.NoError(t, err)

	// Missing fields.
	rec := f.do(t, http.MethodGet, "/token?service_name=open", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown service.
	rec = f.do(t, http.MethodGet, "/token?service_name=ghost&user_id=alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// No authorization required.
	rec = f.do(t, http.MethodGet, "/token?service_name=open&user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok", decodeBody[map[string]string](t, rec)["status"])

	// Required but no stored credential.
	rec = f.do(t, http.MethodGet, "/token?service_name=locked&user_id=alice", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Authorized.
	require.NoError(t, f.engine.AuthorizeUser(ctx, "locked", "alice", "s3cret"))
	rec = f.do(t, http.MethodGet, "/token?service_name=locked&user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "s3cret", body["token"])
	assert.Equal(t, store.AuthMethodBearer, body["method"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodPost, "/list_services", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodGet, "/role_for_user", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
