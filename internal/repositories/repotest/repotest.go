// Package repotest opens throwaway databases for package tests.
package repotest

import (
	"path/filepath"
	"testing"

	"escrow/internal/config"
	"escrow/internal/repositories"

	"gorm.io/gorm"
)

// NewSQLite returns a migrated sqlite database living in a temp dir that is
// removed when the test ends.
func NewSQLite(tb testing.TB) *gorm.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "escrow.db")
	db, err := repositories.InitDB(config.DatabaseConfig{URL: "sqlite=" + path}, nil)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() {
		if err := repositories.Close(db); err != nil {
			tb.Logf("close sqlite: %v", err)
		}
	})
	return db
}
