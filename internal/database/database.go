package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

// Database holds the write handle and the read-only handle
type Database struct {
	Write    *gorm.DB
	ReadOnly *gorm.DB
}

// Connect opens both handles. When no replica is configured the read-only
// handle shares the primary's pool.
func Connect(cfg config.DatabaseConfig) (*Database, error) {
	write, err := open(cfg.DSN, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if cfg.ReadOnlyDSN == "" || cfg.ReadOnlyDSN == cfg.DSN {
		return &Database{Write: write, ReadOnly: write}, nil
	}

	readOnly, err := open(cfg.ReadOnlyDSN, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	return &Database{Write: write, ReadOnly: readOnly}, nil
}

// FromGorm wraps an existing handle, used by tests and tools
func FromGorm(db *gorm.DB) *Database {
	return &Database{Write: db, ReadOnly: db}
}

func open(dsn string, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: NewLogger(),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DB instance")
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// NewLogger routes gorm's logging through the global zerolog logger
func NewLogger() logger.Interface {
	level := logger.Warn
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		level = logger.Info
	}

	return logger.New(&log.Logger, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// Ping checks that the primary accepts connections
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.Write.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get DB instance")
	}
	return sqlDB.PingContext(ctx)
}

// Close closes both pools
func (d *Database) Close() error {
	sqlDB, err := d.Write.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}

	if d.ReadOnly == d.Write {
		return nil
	}
	roDB, err := d.ReadOnly.DB()
	if err != nil {
		return err
	}
	return roDB.Close()
}
