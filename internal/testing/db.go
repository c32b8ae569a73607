// Package testing provides testing utilities and helpers for the amats project.
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/amats/amats/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a temporary directory and applies schema.
// The database is closed when the test finishes.
// File databases are used instead of :memory: so that WAL, VACUUM INTO and file stats behave
// as in production.
func NewTestDB(t *testing.T, name string, schema string) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("%s.db", name))
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if schema != "" {
		if err := db.Migrate(schema); err != nil {
			_ = db.Close()
			t.Fatalf("Failed to migrate test database %s: %v", name, err)
		}
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})
	return db
}

// WriteCredentials writes a service account key file for project into a temporary
// directory and returns its path.
func WriteCredentials(t *testing.T, project string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.json")
	content := fmt.Sprintf(`{
	"type": "service_account",
	"project_id": %q,
	"client_email": "amats@%s.iam.gserviceaccount.com",
	"private_key_id": "test"
}`, project, project)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write credentials: %v", err)
	}
	return path
}
