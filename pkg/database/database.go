package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ngoyal88/sqlrecorder/pkg/config"
	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Dialect reports how placeholders are written for a driver.
type Dialect int

const (
	QuestionMark Dialect = iota // ?
	Dollar                      // $1
)

// DialectOf returns the placeholder dialect for driverName.
func DialectOf(driverName string) Dialect {
	if driverName == DriverPostgres {
		return Dollar
	}
	return QuestionMark
}

func baseDriver(name string) (driver.Driver, error) {
	switch name {
	case DriverSQLite:
		return &sqlite3.SQLiteDriver{}, nil
	case DriverPostgres:
		return stdlib.GetDefaultDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Open opens cfg's database through the recording driver wrapper and waits,
// with exponential backoff, until it answers a ping or ConnectWait runs out.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	base, err := baseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(recorder.Register(cfg.Driver, base), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	wait := cfg.ConnectWait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = wait

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("Database not ready", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}

	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database", zap.String("driver", cfg.Driver))
	return db, nil
}
