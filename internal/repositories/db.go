// Package repositories provides data access layer implementations.
// It handles all database operations and data persistence logic.
package repositories

import (
	"fmt"
	"strings"
	"time"

	"escrow/internal/config"
	"escrow/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// registers the pure-Go "sqlite" database/sql driver
	_ "modernc.org/sqlite"
)

// sqliteParams are appended to sqlite DSNs that carry no query string.
// _time_format=sqlite stores timestamps in a lexically ordered format so
// deadline comparisons work in SQL.
const sqliteParams = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"

// InitDB opens the database named by cfg.URL ("sqlite=PATH" or
// "postgres=DSN"), configures the pool and migrates the schema.
func InitDB(cfg config.DatabaseConfig, log *zap.SugaredLogger) (*gorm.DB, error) {
	parts := strings.SplitN(cfg.URL, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("format for database string is 'DBTYPE=PARAMS'")
	}

	var dial gorm.Dialector
	switch parts[0] {
	case "sqlite":
		dial = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: SQLiteDSN(parts[1])})
	case "postgres":
		dial = postgres.Open(parts[1])
	default:
		return nil, fmt.Errorf("unsupported or unrecognized db type: %s", parts[0])
	}

	gormCfg := &gorm.Config{SkipDefaultTransaction: true}
	if log != nil {
		gormCfg.Logger = logger.New(
			zap.NewStdLog(log.Desugar()),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		)
	}

	db, err := gorm.Open(dial, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if parts[0] == "sqlite" {
		// A single connection serializes transactions, which is what the
		// status compare-and-swap relies on without row locks.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// SQLiteDSN adds the default pragmas to a bare sqlite path.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + sqliteParams
}

// Migrate creates or updates the escrow schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Escrow{},
		&models.Participant{},
		&models.StatusLog{},
		&models.EscrowTransaction{},
		&models.Dispute{},
		&models.Evidence{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
