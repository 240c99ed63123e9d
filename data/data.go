// Package data owns the durable store and shared cache connections.
//
// The durable store is plain database/sql with one of three drivers:
// sqlite3 (default), postgres (pgx stdlib) or mysql. Redis is an
// optional fast path; every consumer must keep working when the redis
// client is nil.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/syncbridge/syncbridge/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
)

// Data holds all data layer connections.
type Data struct {
	DB     *sql.DB
	RC     *redis.Client
	driver string
}

// New creates the data layer from configuration. The redis client is
// nil when no address is configured.
func New(ctx context.Context, cfg *config.Data) (*Data, func(), error) {
	if cfg == nil || cfg.Database == nil || cfg.Database.Source == "" {
		return nil, nil, errors.New("database configuration is nil or empty")
	}

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	d := &Data{DB: db, driver: cfg.Database.Driver}

	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		rc, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		d.RC = rc
	}

	if cfg.Database.Migrate {
		if err := d.Migrate(ctx); err != nil {
			d.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		for _, err := range d.Close() {
			fmt.Printf("data cleanup error: %v\n", err)
		}
	}
	return d, cleanup, nil
}

func openDB(ctx context.Context, cfg *config.Database) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	switch driver {
	case "sqlite3", "pgx", "mysql":
	case "postgres", "postgresql":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxIdleConn > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConn)
	} else if driver == "sqlite3" {
		// SQLite works best with one writer connection.
		db.SetMaxOpenConns(1)
	}
	if cfg.ConnMaxLifeTime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifeTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Driver returns the active sql driver name.
func (d *Data) Driver() string {
	if d.driver == "" {
		return "sqlite3"
	}
	return d.driver
}

// Ping verifies all configured connections.
func (d *Data) Ping(ctx context.Context) error {
	if d.DB != nil {
		if err := d.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
	}
	if d.RC != nil {
		if err := d.RC.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}

// Close closes all connections and collects errors.
func (d *Data) Close() (errs []error) {
	if d.RC != nil {
		if err := d.RC.Close(); err != nil {
			errs = append(errs, err)
		}
		d.RC = nil
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, err)
		}
		d.DB = nil
	}
	return errs
}
