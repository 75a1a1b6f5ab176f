package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
)

const (
	retryMaxAttempts = 5
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 30 * time.Second
)

// withRetry runs fn, retrying transient storage failures with exponential
// backoff. Non-transient errors and context cancellation return immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}

		s.logger.Warn("transient storage error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

// Transient reports whether err is a storage failure worth retrying: lock
// contention on SQLite, connection or serialization failures on PostgreSQL.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		// 5 = SQLITE_BUSY, 6 = SQLITE_LOCKED
		code := sqErr.Code() & 0xff
		return code == 5 || code == 6
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return true
		}
		// Class 08: connection exceptions.
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}
