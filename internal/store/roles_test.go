// ABOUTME: Tests for role store operations
// ABOUTME: Covers role CRUD, tool attachment, and detach-on-delete cleanup

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleStore_Create(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, "analyst", "You are an analyst.")
	require.NoError(t, err)
	assert.Equal(t, "analyst", role.Name)
	assert.Equal(t, "You are an analyst.", role.DefaultSystemPrompt)

	retrieved, err := store.GetRole(ctx, "analyst")
	require.NoError(t, err)
	assert.Equal(t, "You are an analyst.", retrieved.DefaultSystemPrompt)
}

func TestRoleStore_Create_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)

	_, err = store.CreateRole(ctx, "analyst", "other prompt")
	assert.ErrorIs(t, err, ErrDuplicateRole)
}

func TestRoleStore_Get_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRole(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoleStore_Delete_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.DeleteRole(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoleStore_Delete_DetachesToolsAndUsers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search", "fetch")
	_, err := store.CreateRole(ctx, "analyst", "prompt")
	require.NoError(t, err)

	// Attach to 2 tools.
	for _, tool := range svc.Tools {
		attached, err := store.AttachRoleToTool(ctx, "analyst", tool.ID)
		require.NoError(t, err)
		require.True(t, attached)
	}

	// Assign to 3 users.
	for _, uid := range []string{"u1", "u2", "u3"} {
		_, err := store.GetOrCreateUser(ctx, uid)
		require.NoError(t, err)
		require.NoError(t, store.AssignRoleToUser(ctx, uid, "analyst"))
	}

	require.NoError(t, store.DeleteRole(ctx, "analyst"))

	// Users survive with their role detached.
	for _, uid := range []string{"u1", "u2", "u3"} {
		role, err := store.GetRoleForUser(ctx, uid)
		require.NoError(t, err)
		assert.Nil(t, role, "user %s should have no role after deletion", uid)
	}

	// Tools survive with the association cleared.
	tools, err := store.ListServiceTools(ctx, "svc1")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	for _, tool := range tools {
		assert.Empty(t, tool.Roles)
	}
}

func TestRoleStore_Attach(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search")
	_, err := store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)

	attached, err := store.AttachRoleToTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)
	assert.True(t, attached)

	// Second attach is a no-op, not an error, and never duplicates.
	attached, err = store.AttachRoleToTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)
	assert.False(t, attached)

	tools, err := store.ListToolsByRole(ctx, "analyst")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, []string{"analyst"}, tools[0].Roles)
}

func TestRoleStore_Attach_MissingSides(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search")

	_, err := store.AttachRoleToTool(ctx, "no-role", svc.Tools[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)
	_, err = store.AttachRoleToTool(ctx, "analyst", "no-tool")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoleStore_Detach(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	svc := mustCreateService(t, store, "svc1", "http://a/mcp", false, "", "search")
	_, err := store.CreateRole(ctx, "analyst", "")
	require.NoError(t, err)

	_, err = store.AttachRoleToTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)

	detached, err := store.DetachRoleFromTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)
	assert.True(t, detached)

	// Symmetric to attach: detaching again reports false.
	detached, err = store.DetachRoleFromTool(ctx, "analyst", svc.Tools[0].ID)
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestRoleStore_ListToolsByRole_UnknownRole(t *testing.T) {
	store := setupTestStore(t)

	tools, err := store.ListToolsByRole(context.Background(), "nope")
	require.NoError(t, err, "unknown role is absence, not an error")
	assert.Empty(t, tools)
}

func TestRoleStore_SystemPrompt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRole(ctx, "analyst", "initial")
	require.NoError(t, err)

	require.NoError(t, store.SetRoleSystemPrompt(ctx, "analyst", "updated"))

	prompt, err := store.GetRoleSystemPrompt(ctx, "analyst")
	require.NoError(t, err)
	assert.Equal(t, "updated", prompt)
}

func TestRoleStore_SystemPrompt_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.SetRoleSystemPrompt(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetRoleSystemPrompt(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoleStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRole(ctx, "viewer", "")
	require.NoError(t, err)
	_, err = store.CreateRole(ctx, "analyst", "p")
	require.NoError(t, err)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "analyst", roles[0].Name)
	assert.Equal(t, "viewer", roles[1].Name)
}
