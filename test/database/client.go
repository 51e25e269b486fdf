// Package database provides PostgreSQL test clients backed by per-test
// schemas.
package database

import (
	"testing"

	"github.com/kuberoot/kuberoot/pkg/database"
	"github.com/kuberoot/kuberoot/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connection are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	// Cleanup (schema drop and connection close) is handled by SetupTestDatabase.
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db)
}
