package core

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/coregx/strata/internal/dialects"
)

// Predefined errors returned by Strata database operations.
var (
	// ErrConnClosed is returned when operating on a closed connection or pool.
	ErrConnClosed = errors.New("connection is closed")
	// ErrNoRows is returned when a query that expects a row returns none.
	ErrNoRows = errors.New("no rows in result set")
	// ErrTooManyRows is returned when a one/unique scope matches more than one row.
	ErrTooManyRows = errors.New("more rows than the scope allows")
	// ErrTxDone is returned when operating on a finished transaction.
	ErrTxDone = errors.New("transaction has already been committed or rolled back")
	// ErrBatchUnsupported is returned when a multi-statement batch hits a
	// backend that executes one statement per round trip.
	ErrBatchUnsupported = errors.New("dialect does not support multi-statement batches")
	// ErrKeysUndetermined is returned when a save cannot determine key columns
	// and the dialect has no keyless upsert form.
	ErrKeysUndetermined = errors.New("key columns cannot be determined")
	// ErrWatchUnsupported is returned when Watch is called on a backend
	// without a notification channel.
	ErrWatchUnsupported = errors.New("dialect does not support watch")
)

// DBError is the uniform error for failed statements. Code and State carry
// the backend's own error identity when the driver exposes one; Query holds
// the rendered statement text.
type DBError struct {
	Code  string
	State string
	Query string
	Err   error
}

// Error renders the underlying message with the backend identity appended.
func (e *DBError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Code != "" || e.State != "" {
		b.WriteString(" (")
		if e.Code != "" {
			b.WriteString("code ")
			b.WriteString(e.Code)
		}
		if e.State != "" {
			if e.Code != "" {
				b.WriteString(", ")
			}
			b.WriteString("sqlstate ")
			b.WriteString(e.State)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes the driver error for errors.Is / errors.As.
func (e *DBError) Unwrap() error {
	return e.Err
}

// normalizeError folds a driver error into the uniform DBError model.
// Sentinels, context errors, and sql package errors pass through untouched
// so callers can keep matching on them directly.
func normalizeError(d *dialects.Dialect, query string, err error) error {
	if err == nil {
		return nil
	}
	var dbe *DBError
	if errors.As(err, &dbe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrNoRows) || errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, ErrConnClosed) || errors.Is(err, ErrTxDone) {
		return err
	}
	code, state, ok := d.ErrorInfo(err)
	if !ok {
		return &DBError{Query: query, Err: err}
	}
	return &DBError{Code: code, State: state, Query: query, Err: err}
}

// isRetryable reports whether an error is a serialization conflict the
// dialect considers worth retrying. Works on both normalized and raw
// driver errors.
func isRetryable(d *dialects.Dialect, err error) bool {
	if err == nil {
		return false
	}
	var dbe *DBError
	if errors.As(err, &dbe) {
		return d.Retryable(dbe.Code, dbe.State)
	}
	if code, state, ok := d.ErrorInfo(err); ok {
		return d.Retryable(code, state)
	}
	return false
}
