package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// mustCreateService inserts a service with the given tools for test setup.
func mustCreateService(t *testing.T, s *SQLiteStore, name, endpoint string, requiresAuth bool, method string, toolNames ...string) *Service {
	t.Helper()
	ctx := context.Background()

	tools := make([]*Tool, len(toolNames))
	for i, tn := range toolNames {
		tools[i] = &Tool{Name: tn}
	}

	svc, err := s.CreateServiceWithTools(ctx, &Service{
		Name:                  name,
		Endpoint:              endpoint,
		Description:           "test service",
		RequiresAuthorization: requiresAuth,
		AuthMethod:            method,
	}, tools)
	require.NoError(t, err)
	return svc
}

func TestStore_SchemaReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "reopen.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	mustCreateService(t, store, "svc1", "http://x/mcp", false, "", "search")
	require.NoError(t, store.Close())

	// Reopening an existing database must not fail on schema creation or
	// migrations, and data must survive.
	store2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	svc, err := store2.GetService(context.Background(), "svc1")
	require.NoError(t, err)
	require.Len(t, svc.Tools, 1)
}
