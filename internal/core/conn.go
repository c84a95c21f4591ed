package core

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coregx/strata/q"
)

// Conn is a single pooled connection pinned to the caller. Session state
// (temp tables, SET variables, open transactions) persists across calls on
// the same Conn. Operations are serialized: a Conn is safe for concurrent
// use but executes one statement at a time.
type Conn struct {
	id   string
	pool *Pool
	sc   *sql.Conn

	mu sync.Mutex
	// txLevel tracks transaction nesting depth: 0 outside, 1 in the
	// top-level transaction, +1 per nested savepoint scope.
	txLevel int
	// spSeq numbers savepoints monotonically for the life of the
	// connection so names are never reused even across transactions.
	spSeq uint64

	closed atomic.Bool
}

// ID returns the connection's unique identifier, stable for its lifetime.
func (c *Conn) ID() string {
	return c.id
}

// Query executes each query in order on this connection and returns one
// Result per query.
func (c *Conn) Query(ctx context.Context, queries ...*q.Query) ([]*Result, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]*Result, 0, len(queries))
	for _, query := range queries {
		res, err := executeQuery(ctx, c.pool, c.sc, query, 0)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Execute runs a single query on this connection.
func (c *Conn) Execute(ctx context.Context, query *q.Query) (*Result, error) {
	results, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Reference binds a table for generated CRUD executing on this connection.
func (c *Conn) Reference(table string) *Reference {
	return newReference(c.pool, table, c.Execute)
}

// Ping verifies the connection is alive. Without a context deadline a
// 5 second timeout is applied.
func (c *Conn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return normalizeError(c.pool.dialect, "", c.sc.PingContext(ctx))
}

// Close returns the connection to the pool. Safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.sc.Close()
}
