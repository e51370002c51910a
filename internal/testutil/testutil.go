// Package testutil provides shared test helpers for setting up lairs,
// repositories and databases.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/dragonden/internal/index"
	"github.com/starford/dragonden/internal/repository"
	"github.com/starford/dragonden/internal/storage"
)

// User is the email of the user every TestRepository knows.
const User = "alice@example.com"

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "dragonden-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestLair creates a temporary lair directory with a storage provider.
func TestLair(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, files
}

// TestRepository opens a repository over files that knows User.
func TestRepository(t *testing.T, files storage.Provider, opts ...repository.Option) *repository.Repository {
	t.Helper()
	opts = append([]repository.Option{repository.WithUsers(repository.User{Email: User, Name: "Alice"})}, opts...)
	r, err := repository.New(files, opts...)
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	return r
}
