// Package db owns the postgres connection, schema migrations, and the
// transient-failure retry policy shared by read paths.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"
)

// ErrUnavailable marks a transient infrastructure failure. It is never
// converted into an authorization verdict; callers retry or fail closed.
var ErrUnavailable = errors.New("store unavailable")

// Config holds connection pool settings
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// Open connects to postgres and verifies the connection
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetMaxIdleConns(cfg.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return database, nil
}

// IsUnavailable reports whether err looks like a transient store failure
// rather than a definitive query result.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsSerializationFailure reports whether err is postgres aborting a
// transaction that lost a serialization race (SQLSTATE 40001) or hit a
// deadlock (40P01). The whole transaction is safe to run again.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// Retry runs fn up to attempts+1 times while it keeps failing with a
// transient store error. Non-transient errors return immediately. A context
// past its deadline fails closed without further attempts.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for try := 0; try <= attempts; try++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsUnavailable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
