// Package db opens the Postgres pool backing the job store and applies its
// schema migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"salesops-backend/internal/shared/telemetry"
)

// Options sizes the pool and bounds startup connectivity checks.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	// ConnectAttempts is how many pings Connect tries before giving up.
	ConnectAttempts int
	RetryDelay      time.Duration
}

var (
	openDB = sql.Open
	sleep  = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
)

// DefaultServerOptions suits the API process.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
		ConnectAttempts: 3,
		RetryDelay:      time.Second,
	}
}

// DefaultWorkerOptions sizes the pool to the worker's execution
// concurrency. Workers often start alongside the database, so they wait
// longer for it.
func DefaultWorkerOptions(concurrency int) Options {
	opts := DefaultServerOptions()
	if concurrency > 0 {
		opts.MaxOpenConns = concurrency * 2
		opts.MaxIdleConns = concurrency
	}
	opts.ConnectAttempts = 10
	return opts
}

// DefaultMigrateOptions uses a single connection and fails fast.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
		ConnectAttempts: 1,
	}
}

// OptionsFromEnv applies DB_* overrides on top of defaults. Unparseable
// values are logged and ignored.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	if v, ok := envInt("DB_MAX_OPEN_CONNS"); ok {
		opts.MaxOpenConns = v
	}
	if v, ok := envInt("DB_MAX_IDLE_CONNS"); ok {
		opts.MaxIdleConns = v
	}
	if v, ok := envInt("DB_CONNECT_ATTEMPTS"); ok {
		opts.ConnectAttempts = v
	}
	if v, ok := envDuration("DB_CONN_MAX_LIFETIME"); ok {
		opts.ConnMaxLifetime = v
	}
	if v, ok := envDuration("DB_CONN_MAX_IDLE_TIME"); ok {
		opts.ConnMaxIdleTime = v
	}
	if v, ok := envDuration("DB_PING_TIMEOUT"); ok {
		opts.PingTimeout = v
	}
	if v, ok := envDuration("DB_RETRY_DELAY"); ok {
		opts.RetryDelay = v
	}
	return opts
}

// Connect opens a pgx-backed pool and pings it, retrying up to
// opts.ConnectAttempts times. The caller owns the returned pool.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}
	target := redact(databaseURL)

	pool, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", target, err)
	}
	configurePool(pool, opts)

	attempts := max(opts.ConnectAttempts, 1)
	for attempt := 1; ; attempt++ {
		err = Ping(ctx, pool, opts.PingTimeout)
		if err == nil {
			break
		}
		if attempt >= attempts || ctx.Err() != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database %s after %d attempt(s): %w", target, attempt, err)
		}
		telemetry.Warn("db.connect_retry", map[string]any{
			"target":  target,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if err := sleep(ctx, opts.RetryDelay); err != nil {
			pool.Close()
			return nil, err
		}
	}

	stats := pool.Stats()
	telemetry.Info("db.connected", map[string]any{
		"target":   target,
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
	})
	return pool, nil
}

// Ping checks connectivity within timeout. A non-positive timeout means 5s.
func Ping(ctx context.Context, pool *sql.DB, timeout time.Duration) error {
	if pool == nil {
		return errors.New("database is not configured")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pool.PingContext(pingCtx)
}

func configurePool(pool *sql.DB, opts Options) {
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = min(5, maxOpen)
	}
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxIdle)
	pool.SetConnMaxLifetime(lifetime)
	if opts.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

// redact strips credentials so the URL can be logged.
func redact(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	return u.Host + u.Path
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		telemetry.Warn("db.env_invalid", map[string]any{"key": key, "error": err.Error()})
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		telemetry.Warn("db.env_invalid", map[string]any{"key": key, "error": err.Error()})
		return 0, false
	}
	return v, true
}
