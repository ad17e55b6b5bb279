package data

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// Creates a database for testing. For the sake of simplicity, this only uses the
// SQLite engine and creates a new database on every invocation since it is relatively
// cheap to do so.
func setUpDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(EngineSQLite, filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestOpen_UnsupportedEngine(t *testing.T) {
	if _, err := Open("mysql", "whatever", false); err == nil {
		t.Error("Open() accepted an unsupported engine")
	}
}
