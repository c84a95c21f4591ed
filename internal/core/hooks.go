// Package core implements the Strata access layer: the connection pool,
// per-connection transaction management with nested savepoints and
// serialization retry, the shared statement execution path, and the
// table-bound CRUD reference surface.
package core

import (
	"context"
	"time"
)

// QueryEvent describes one executed statement, delivered to query hooks
// after execution completes. Args are the marshaled driver arguments with
// sensitive values already masked.
type QueryEvent struct {
	// SQL is the rendered statement text.
	SQL string
	// Args holds the masked parameter values.
	Args []any
	// Duration is how long the round trip took.
	Duration time.Duration
	// RowsAffected reports rows written, or rows returned for row queries.
	RowsAffected int64
	// Error is the execution error, nil on success.
	Error error
	// Operation is the detected statement verb (SELECT, INSERT, ...).
	Operation string
	// Attempt is the transaction attempt the statement ran under, 0 when
	// executed outside a retry loop.
	Attempt int
}

// QueryHook is a callback invoked after each statement execution. Hooks run
// synchronously on the calling goroutine, so they must be fast; anything
// slow belongs behind a channel.
//
// Example:
//
//	pool, _ := strata.Open("postgres", dsn,
//	    strata.WithQueryHook(func(ctx context.Context, e strata.QueryEvent) {
//	        slog.Info("query", "sql", e.SQL, "duration", e.Duration, "err", e.Error)
//	    }))
type QueryHook func(ctx context.Context, event QueryEvent)

// invokeHook calls the query hook if set.
func (p *Pool) invokeHook(ctx context.Context, event QueryEvent) {
	if p.queryHook != nil {
		p.queryHook(ctx, event)
	}
}
