//go:build integration

package repotest

import (
	"context"
	"os"
	"testing"
	"time"

	"escrow/internal/config"
	"escrow/internal/repositories"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

// NewPostgres returns a migrated postgres database. ESCROW_TEST_PG_DSN
// points at an existing server; otherwise a postgres:16 container is
// started and terminated when the test ends.
func NewPostgres(tb testing.TB) *gorm.DB {
	tb.Helper()
	ctx := context.Background()

	dsn := os.Getenv("ESCROW_TEST_PG_DSN")
	if dsn == "" {
		pgC, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("escrow"),
			postgres.WithUsername("escrow"),
			postgres.WithPassword("escrow"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			tb.Fatalf("start postgres container: %v", err)
		}
		tb.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgC); err != nil {
				tb.Logf("terminate postgres container: %v", err)
			}
		})

		dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			tb.Fatalf("resolve connection string: %v", err)
		}
	}

	db, err := repositories.InitDB(config.DatabaseConfig{
		URL:             "postgres=" + dsn,
		MaxIdleConns:    8,
		MaxOpenConns:    32,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
	}, nil)
	if err != nil {
		tb.Fatalf("open postgres: %v", err)
	}
	tb.Cleanup(func() {
		if err := repositories.Close(db); err != nil {
			tb.Logf("close postgres: %v", err)
		}
	})
	return db
}
