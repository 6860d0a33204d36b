// ABOUTME: Tests for service and tool store operations
// ABOUTME: Covers create, duplicate rejection, cascade deletion, and listings

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceStore_Create(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc, err := store.CreateServiceWithTools(ctx, &Service{
		Name:     "svc1",
		Endpoint: "http://x/mcp",
	}, []*Tool{
		{Name: "search", Description: "full-text search"},
		{Name: "fetch"},
	})
	require.NoError(t, err)
	assert.Len(t, svc.Tools, 2)

	retrieved, err := store.GetService(ctx, "svc1")
	require.NoError(t, err)
	assert.Equal(t, "svc1", retrieved.Name)
	assert.Equal(t, "http://x/mcp", retrieved.Endpoint)
	require.Len(t, retrieved.Tools, 2)
	assert.Equal(t, "fetch", retrieved.Tools[0].Name)
	assert.Equal(t, "search", retrieved.Tools[1].Name)
	assert.Equal(t, "full-text search", retrieved.Tools[1].Description)
}

func TestServiceStore_Create_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search")

	_, err := store.CreateServiceWithTools(ctx, &Service{
		Name:     "svc1",
		Endpoint: "http://b/mcp",
	}, []*Tool{{Name: "other"}})
	assert.ErrorIs(t, err, ErrDuplicateService)

	// The prior service and its tools must be completely unchanged.
	svc, err := store.GetService(ctx, "svc1")
	require.NoError(t, err)
	assert.Equal(t, "http://a/mcp", svc.Endpoint)
	require.Len(t, svc.Tools, 1)
	assert.Equal(t, "search", svc.Tools[0].Name)
}

func TestServiceStore_Create_DuplicateEndpoint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustCreateService(t, store, "svc1", "http://a/mcp", false, "")

	_, err := store.CreateServiceWithTools(ctx, &Service{
		Name:     "svc2",
		Endpoint: "http://a/mcp",
	}, nil)
	assert.ErrorIs(t, err, ErrDuplicateEndpoint)
}

func TestServiceStore_Create_NoPartialWrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Duplicate tool names inside one registration violate the
	// (service_name, name) constraint; nothing may be committed.
	_, err := store.CreateServiceWithTools(ctx, &Service{
		Name:     "svc1",
		Endpoint: "http://a/mcp",
	}, []*Tool{{Name: "search"}, {Name: "search"}})
	require.Error(t, err)

	_, err = store.GetService(ctx, "svc1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceStore_AuthMethodZeroedWhenNotRequired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Caller supplies a method even though authorization is not required.
	svc, err := store.CreateServiceWithTools(ctx, &Service{
		Name:                  "svc1",
		Endpoint:              "http://a/mcp",
		RequiresAuthorization: false,
		AuthMethod:            AuthMethodBearer,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, AuthMethodNone, svc.AuthMethod)

	auth, err := store.GetServiceAuth(ctx, "svc1")
	require.NoError(t, err)
	assert.False(t, auth.RequiresAuthorization)
	assert.Equal(t, AuthMethodNone, auth.AuthMethod)
}

func TestServiceStore_AuthMethodKeptWhenRequired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustCreateService(t, store, "svc1", "http://a/mcp", true, AuthMethodBasic)

	auth, err := store.GetServiceAuth(ctx, "svc1")
	require.NoError(t, err)
	assert.True(t, auth.RequiresAuthorization)
	assert.Equal(t, AuthMethodBasic, auth.AuthMethod)
}

func TestServiceStore_GetServiceAuth_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetServiceAuth(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustCreateService(t, store, "svc1", "http://a/mcp", true, AuthMethodBearer, "search")

	deleted, err := store.DeleteService(ctx, "svc1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetService(ctx, "svc1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceStore_Delete_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	deleted, err := store.DeleteService(ctx, "never-existed")
	require.NoError(t, err, "deleting an unknown service is not an error")
	assert.False(t, deleted)
}

func TestServiceStore_Delete_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", true, AuthMethodBearer, "search", "fetch")

	// Attach a role to one tool and store a token for a user.
	_, err := store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)
	attached, err := store.AttachRoleToTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)
	require.True(t, attached)

	_, err = store.UpsertUserServiceToken(ctx, "user-1", "svc1", "secret")
	require.NoError(t, err)

	deleted, err := store.DeleteService(ctx, "svc1")
	require.NoError(t, err)
	require.True(t, deleted)

	// Tools are gone.
	tools, err := store.ListServiceTools(ctx, "svc1")
	require.NoError(t, err)
	assert.Empty(t, tools)

	// Role associations are gone but the role itself survives.
	roleTools, err := store.ListToolsByRole(ctx, "analyst")
	require.NoError(t, err)
	assert.Empty(t, roleTools)
	_, err = store.GetRole(ctx, "analyst")
	assert.NoError(t, err)

	// Tokens for the service are purged; the user survives.
	token, err := store.GetUserServiceToken(ctx, "user-1", "svc1")
	require.NoError(t, err)
	assert.Nil(t, token)
	_, err = store.GetOrCreateUser(ctx, "user-1")
	assert.NoError(t, err)
}

func TestServiceStore_ListBrief(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustCreateService(t, store, "beta", "http://b/mcp", false, "", "t1")
	mustCreateService(t, store, "alpha", "http://a/mcp", false, "", "t1", "t2")

	brief, err := store.ListServicesBrief(ctx)
	require.NoError(t, err)
	require.Len(t, brief, 2)
	assert.Equal(t, "alpha", brief[0].Name)
	assert.Equal(t, "beta", brief[1].Name)
	assert.Equal(t, "http://a/mcp", brief[0].Endpoint)
}

func TestServiceStore_ListBrief_Empty(t *testing.T) {
	store := setupTestStore(t)

	brief, err := store.ListServicesBrief(context.Background())
	require.NoError(t, err)
	assert.Empty(t, brief)
}

func TestToolStore_ListForUnknownService(t *testing.T) {
	store := setupTestStore(t)

	tools, err := store.ListServiceTools(context.Background(), "nope")
	require.NoError(t, err, "unknown service is a valid, queryable state")
	assert.Empty(t, tools)
}

func TestToolStore_GetTool(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search")

	tool, err := store.GetTool(ctx, svc.Tools[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "search", tool.Name)
	assert.Equal(t, "svc1", tool.ServiceName)
	assert.Empty(t, tool.Roles)
}

func TestToolStore_GetTool_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetTool(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToolStore_RolesAttached(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search", "fetch")

	_, err := store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)
	_, err = store.CreateRole(ctx, "viewer", "")
	require.NoError(t, err)

	searchID := svc.Tools[1].ID // sorted by name: fetch, search
	_, err = store.AttachRoleToTool(ctx, "analyst", searchID)
	require.NoError(t, err)
	_, err = store.AttachRoleToTool(ctx, "viewer", searchID)
	require.NoError(t, err)

	tools, err := store.ListServiceTools(ctx, "svc1")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Empty(t, tools[0].Roles)
	assert.Equal(t, []string{"analyst", "viewer"}, tools[1].Roles)
}
