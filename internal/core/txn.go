package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coregx/strata/internal/util"
	"github.com/coregx/strata/q"
)

// txOutcome classifies how one transaction attempt ended. Retry decisions
// flow through these values rather than panic-driven control flow.
type txOutcome int

const (
	txCommit txOutcome = iota
	txRetry
	txFail
)

// Tx is an open transaction on a Conn. Statements issued through it join
// the transaction; the managing retry loop owns commit and rollback.
type Tx struct {
	conn    *Conn
	stx     *sql.Tx
	attempt int
	done    bool
}

// Attempt returns the 0-based retry attempt this transaction is running
// under. Nested transactions return -1: only the top level retries.
func (tx *Tx) Attempt() int {
	return tx.attempt
}

// Conn returns the connection the transaction runs on.
func (tx *Tx) Conn() *Conn {
	return tx.conn
}

// Query executes each query inside the transaction, one Result per query.
func (tx *Tx) Query(ctx context.Context, queries ...*q.Query) ([]*Result, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	results := make([]*Result, 0, len(queries))
	for _, query := range queries {
		res, err := executeQuery(ctx, tx.conn.pool, tx.stx, query, tx.spanAttempt())
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Execute runs a single query inside the transaction.
func (tx *Tx) Execute(ctx context.Context, query *q.Query) (*Result, error) {
	results, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Reference binds a table for generated CRUD executing inside the
// transaction.
func (tx *Tx) Reference(table string) *Reference {
	return newReference(tx.conn.pool, table, tx.Execute)
}

// spanAttempt maps the attempt counter for observability: retries are
// positive, first attempts and nested scopes report zero.
func (tx *Tx) spanAttempt() int {
	if tx.attempt > 0 {
		return tx.attempt
	}
	return 0
}

// Transaction opens a nested scope backed by a savepoint. The savepoint
// name is derived from the nesting level and a per-connection sequence
// that never repeats, so concurrent retries can never collide on names.
// An error from fn rolls back to the savepoint and is returned unchanged;
// nested scopes never retry.
func (tx *Tx) Transaction(ctx context.Context, fn func(*Tx) error) error {
	if tx.done {
		return ErrTxDone
	}
	c := tx.conn
	d := c.pool.dialect

	level := c.txLevel
	c.spSeq++
	name := fmt.Sprintf("_%d_%d", level, c.spSeq)

	if _, err := tx.stx.ExecContext(ctx, d.SavepointSQL(name)); err != nil {
		return normalizeError(d, d.SavepointSQL(name), err)
	}
	c.txLevel++
	c.pool.logger.Debug("savepoint created", "conn", c.id, "savepoint", name)

	nested := &Tx{conn: c, stx: tx.stx, attempt: -1}
	err := fn(nested)
	nested.done = true
	c.txLevel--

	if err != nil {
		if _, rbErr := tx.stx.ExecContext(ctx, d.RollbackToSQL(name)); rbErr != nil {
			c.pool.logger.Error("savepoint rollback failed",
				"conn", c.id, "savepoint", name, "error", rbErr)
		}
		return err
	}
	if rel := d.ReleaseSQL(name); rel != "" {
		if _, relErr := tx.stx.ExecContext(ctx, rel); relErr != nil {
			c.pool.logger.Warn("savepoint release failed",
				"conn", c.id, "savepoint", name, "error", relErr)
		}
	}
	return nil
}

// Transaction runs fn in a managed transaction. Serialization conflicts
// and deadlocks the dialect marks retryable abort the attempt, back off,
// and run fn again from scratch, up to the retry budget. fn must therefore
// be safe to re-run. Any other error rolls back and returns.
//
// The connection's lock is held for the duration: statements inside fn
// must go through the provided Tx, not the Conn.
func (c *Conn) Transaction(ctx context.Context, opts *TxOptions, fn func(*Tx) error) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	retries := c.pool.retries
	backoff := c.pool.backoff
	if opts != nil {
		if opts.Retries > 0 {
			retries = opts.Retries
		} else if opts.Retries < 0 {
			retries = 0
		}
		if opts.Backoff != nil {
			backoff = opts.Backoff
		}
	}

	if c.pool.dialect.CockroachRestart {
		return c.cockroachTransaction(ctx, sqlTxOptions(opts), fn, retries, backoff)
	}
	return c.standardTransaction(ctx, sqlTxOptions(opts), fn, retries, backoff)
}

func sqlTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil || (opts.Isolation == sql.LevelDefault && !opts.ReadOnly) {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}

// standardTransaction retries by opening a fresh transaction per attempt.
func (c *Conn) standardTransaction(ctx context.Context, sqlOpts *sql.TxOptions,
	fn func(*Tx) error, retries int, backoff BackoffFunc) error {

	for attempt := 0; ; attempt++ {
		outcome, err := c.runAttempt(ctx, sqlOpts, fn, attempt)
		switch outcome {
		case txCommit:
			if attempt > 0 {
				c.pool.logger.Info("transaction committed",
					"conn", c.id, "attempts", attempt+1)
			}
			return nil
		case txFail:
			return err
		}
		if attempt >= retries {
			c.pool.logger.Warn("transaction retries exhausted",
				"conn", c.id, "attempts", attempt+1, "error", err)
			return err
		}
		delay := backoff(attempt)
		c.pool.logger.Info("retrying transaction",
			"conn", c.id, "attempt", attempt+1, "delay", delay, "error", err)
		if sleepErr := util.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// runAttempt executes BEGIN, fn, COMMIT once and classifies the outcome.
// Commit errors are classified like statement errors: a serialization
// failure at commit time is still retryable.
func (c *Conn) runAttempt(ctx context.Context, sqlOpts *sql.TxOptions,
	fn func(*Tx) error, attempt int) (txOutcome, error) {

	d := c.pool.dialect
	stx, err := c.sc.BeginTx(ctx, sqlOpts)
	if err != nil {
		return txFail, normalizeError(d, "begin", err)
	}
	c.txLevel = 1
	finished := false
	defer func() {
		c.txLevel = 0
		if !finished {
			_ = stx.Rollback()
		}
	}()

	tx := &Tx{conn: c, stx: stx, attempt: attempt}
	if ferr := fn(tx); ferr != nil {
		tx.done = true
		finished = true
		_ = stx.Rollback()
		if isRetryable(d, ferr) {
			return txRetry, ferr
		}
		return txFail, ferr
	}

	err = stx.Commit()
	tx.done = true
	finished = true
	if err == nil {
		return txCommit, nil
	}
	nerr := normalizeError(d, "commit", err)
	if isRetryable(d, nerr) {
		return txRetry, nerr
	}
	return txFail, nerr
}

// cockroachTransaction implements the client-side restart protocol: one
// BEGIN, a cockroach_restart savepoint, and retries that roll back to the
// savepoint instead of opening a new transaction. The savepoint is
// released before COMMIT; serialization conflicts surface at the release.
func (c *Conn) cockroachTransaction(ctx context.Context, sqlOpts *sql.TxOptions,
	fn func(*Tx) error, retries int, backoff BackoffFunc) error {

	d := c.pool.dialect
	stx, err := c.sc.BeginTx(ctx, sqlOpts)
	if err != nil {
		return normalizeError(d, "begin", err)
	}
	c.txLevel = 1
	finished := false
	defer func() {
		c.txLevel = 0
		if !finished {
			_ = stx.Rollback()
		}
	}()

	if _, err := stx.ExecContext(ctx, "savepoint cockroach_restart"); err != nil {
		return normalizeError(d, "savepoint cockroach_restart", err)
	}

	for attempt := 0; ; attempt++ {
		outcome, err := c.runRestartAttempt(ctx, stx, fn, attempt)
		switch outcome {
		case txCommit:
			cerr := stx.Commit()
			finished = true
			if cerr != nil {
				return normalizeError(d, "commit", cerr)
			}
			if attempt > 0 {
				c.pool.logger.Info("transaction committed",
					"conn", c.id, "attempts", attempt+1)
			}
			return nil
		case txFail:
			finished = true
			_ = stx.Rollback()
			return err
		}
		if attempt >= retries {
			finished = true
			_ = stx.Rollback()
			c.pool.logger.Warn("transaction retries exhausted",
				"conn", c.id, "attempts", attempt+1, "error", err)
			return err
		}
		if _, rbErr := stx.ExecContext(ctx, "rollback to savepoint cockroach_restart"); rbErr != nil {
			finished = true
			_ = stx.Rollback()
			return normalizeError(d, "rollback to savepoint cockroach_restart", rbErr)
		}
		delay := backoff(attempt)
		c.pool.logger.Info("retrying transaction",
			"conn", c.id, "attempt", attempt+1, "delay", delay, "error", err)
		if sleepErr := util.Sleep(ctx, delay); sleepErr != nil {
			finished = true
			_ = stx.Rollback()
			return err
		}
	}
}

func (c *Conn) runRestartAttempt(ctx context.Context, stx *sql.Tx,
	fn func(*Tx) error, attempt int) (txOutcome, error) {

	d := c.pool.dialect
	tx := &Tx{conn: c, stx: stx, attempt: attempt}
	defer func() { tx.done = true }()

	if err := fn(tx); err != nil {
		if isRetryable(d, err) {
			return txRetry, err
		}
		return txFail, err
	}
	if _, err := stx.ExecContext(ctx, "release savepoint cockroach_restart"); err != nil {
		nerr := normalizeError(d, "release savepoint cockroach_restart", err)
		if isRetryable(d, nerr) {
			return txRetry, nerr
		}
		return txFail, nerr
	}
	return txCommit, nil
}
