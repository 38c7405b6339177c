package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// connectivitySQLStates are the Postgres SQLSTATEs §4.1 treats as
// transient connectivity failures rather than logical errors.
var connectivitySQLStates = map[string]bool{
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// isConnectivityError classifies err as a connectivity failure (vs a
// logical one, which must never be retried or trigger endpoint failover).
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && connectivitySQLStates[pgErr.Code] {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused", "connection reset", "no such host",
		"i/o timeout", "broken pipe", "tls", "certificate",
		"network is unreachable", "eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// backoffPolicy implements the exponential-backoff schedule from §4.1:
// delay_{n+1} = min(delay_n * 2, max_delay), bounded attempt count.
type backoffPolicy struct {
	base       time.Duration
	max        time.Duration
	maxAttempts int
}

func (b backoffPolicy) delay(attempt int) time.Duration {
	d := b.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > b.max {
			return b.max
		}
	}
	if d > b.max {
		d = b.max
	}
	return d
}

// withRetry runs fn, retrying on connectivity errors per the backoff
// policy. Logical errors and a non-nil nil-interface success both return
// immediately. After maxAttempts connectivity failures it returns the
// last error (the caller wraps it as db_unavailable).
func withRetry(ctx context.Context, policy backoffPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isConnectivityError(err) {
			return err // logical error: never retried
		}
		lastErr = err
		if attempt == policy.maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}
	return lastErr
}
