package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cfipros/acstracker/internal/profile"
	"github.com/cfipros/acstracker/store"
	"github.com/cfipros/acstracker/store/db"
)

// NewTestingStore creates a sqlite-backed store in a temp directory.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	dir := t.TempDir()
	testProfile := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		Data:   dir,
		DSN:    filepath.Join(dir, "acstracker_test.db"),
	}
	dbDriver, err := db.NewDBDriver(testProfile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	ts := store.New(dbDriver, testProfile)
	if err := ts.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return ts
}
