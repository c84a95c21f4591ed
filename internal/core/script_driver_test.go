package core

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coregx/strata/internal/dialects"
	"github.com/coregx/strata/q"
)

// script backs one registered test driver. It records every driver-level
// call in order and fails the calls a test has scheduled, so asserting on
// the log observes the exact wire sequence the pool produced.
type script struct {
	mu    sync.Mutex
	log   []string
	fails map[string][]error
	conns int
}

func newScript() *script {
	return &script{fails: make(map[string][]error)}
}

func (s *script) record(entry string) {
	s.mu.Lock()
	s.log = append(s.log, entry)
	s.mu.Unlock()
}

// failNext schedules the next n calls matching key to fail with a
// serialization error the scripted dialect classifies as retryable. Keys
// are "connect", "begin", "commit", "rollback", or the statement text for
// exec and query calls.
func (s *script) failNext(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.fails[key] = append(s.fails[key], &scriptError{code: "1213", state: "40001"})
	}
}

// failNextWith schedules one failure with an explicit error.
func (s *script) failNextWith(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[key] = append(s.fails[key], err)
}

func (s *script) take(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.fails[key]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.fails[key] = queue[1:]
	return err
}

func (s *script) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

func (s *script) count(entry string) int {
	n := 0
	for _, e := range s.entries() {
		if e == entry {
			n++
		}
	}
	return n
}

func (s *script) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *script) openConn() (driver.Conn, error) {
	s.mu.Lock()
	s.conns++
	s.log = append(s.log, "connect")
	s.mu.Unlock()
	if err := s.take("connect"); err != nil {
		return nil, err
	}
	return &scriptConn{s: s}, nil
}

// scriptError mimics a backend error carrying a driver code and SQLSTATE.
type scriptError struct {
	code  string
	state string
}

func (e *scriptError) Error() string {
	return fmt.Sprintf("scripted failure (code %s, state %s)", e.code, e.state)
}

type scriptDriver struct{ s *script }

func (d *scriptDriver) Open(_ string) (driver.Conn, error) {
	return d.s.openConn()
}

type scriptConnector struct{ s *script }

func (c *scriptConnector) Connect(_ context.Context) (driver.Conn, error) {
	return c.s.openConn()
}

func (c *scriptConnector) Driver() driver.Driver {
	return &scriptDriver{s: c.s}
}

type scriptConn struct{ s *script }

func (c *scriptConn) Prepare(query string) (driver.Stmt, error) {
	c.s.record("prepare:" + query)
	return &scriptStmt{s: c.s, query: query}, nil
}

func (c *scriptConn) Close() error {
	c.s.record("close")
	return nil
}

func (c *scriptConn) Begin() (driver.Tx, error) {
	return c.begin("begin")
}

func (c *scriptConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	entry := "begin"
	if opts.ReadOnly {
		entry += ":readonly"
	}
	if opts.Isolation != 0 {
		entry += fmt.Sprintf(":iso%d", opts.Isolation)
	}
	return c.begin(entry)
}

func (c *scriptConn) begin(entry string) (driver.Tx, error) {
	c.s.record(entry)
	if err := c.s.take("begin"); err != nil {
		return nil, err
	}
	return &scriptTx{s: c.s}, nil
}

func (c *scriptConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.s.record("exec:" + query)
	if err := c.s.take(query); err != nil {
		return nil, err
	}
	return scriptResult{}, nil
}

func (c *scriptConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.s.record("query:" + query)
	if err := c.s.take(query); err != nil {
		return nil, err
	}
	return &scriptRows{}, nil
}

type scriptStmt struct {
	s     *script
	query string
}

func (st *scriptStmt) Close() error { return nil }

func (st *scriptStmt) NumInput() int { return -1 }

func (st *scriptStmt) Exec(_ []driver.Value) (driver.Result, error) {
	st.s.record("exec:" + st.query)
	if err := st.s.take(st.query); err != nil {
		return nil, err
	}
	return scriptResult{}, nil
}

func (st *scriptStmt) Query(_ []driver.Value) (driver.Rows, error) {
	st.s.record("query:" + st.query)
	if err := st.s.take(st.query); err != nil {
		return nil, err
	}
	return &scriptRows{}, nil
}

type scriptTx struct{ s *script }

func (t *scriptTx) Commit() error {
	t.s.record("commit")
	return t.s.take("commit")
}

func (t *scriptTx) Rollback() error {
	t.s.record("rollback")
	return t.s.take("rollback")
}

type scriptResult struct{}

func (scriptResult) LastInsertId() (int64, error) { return 0, nil }

func (scriptResult) RowsAffected() (int64, error) { return 1, nil }

// scriptRows yields a single row with one column holding int64(1).
type scriptRows struct{ done bool }

func (r *scriptRows) Columns() []string { return []string{"value"} }

func (r *scriptRows) Close() error { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(1)
	return nil
}

var scriptSeq atomic.Uint64

// registerScript installs a scripted driver and a matching dialect under a
// unique tag. mutate customizes the dialect before registration, for
// instance to enable the restart protocol or attach a connector.
func registerScript(t *testing.T, mutate func(*dialects.Dialect, *script)) (string, *script) {
	t.Helper()
	s := newScript()
	tag := fmt.Sprintf("scripted-%d", scriptSeq.Add(1))
	sql.Register(tag, &scriptDriver{s: s})

	d := &dialects.Dialect{
		Name:           tag,
		Driver:         tag,
		MultiStatement: true,
		Returning:      dialects.ReturnNone,
		Placeholder:    func(int) string { return "?" },
		QuoteIdent:     func(name string) string { return `"` + name + `"` },
		Paging:         func(int64, int64) string { return "" },
		LockClause: func(dialects.LockMode) (string, string, error) {
			return "", "", nil
		},
		SavepointSQL:  func(name string) string { return "savepoint " + name },
		RollbackToSQL: func(name string) string { return "rollback to savepoint " + name },
		ReleaseSQL:    func(name string) string { return "release savepoint " + name },
		Upsert: func(dialects.UpsertSpec) (*q.Query, error) {
			return nil, dialects.ErrUpsertUnsupported
		},
		ErrorInfo: func(err error) (string, string, bool) {
			var se *scriptError
			if !errors.As(err, &se) {
				return "", "", false
			}
			return se.code, se.state, true
		},
		Retryable: func(_, state string) bool { return state == "40001" },
	}
	if mutate != nil {
		mutate(d, s)
	}
	dialects.Register(d, tag)
	return tag, s
}

// openScriptPool opens a pool on a freshly scripted driver and dialect.
func openScriptPool(t *testing.T, mutate func(*dialects.Dialect, *script), opts ...Option) (*Pool, *script) {
	t.Helper()
	tag, s := registerScript(t, mutate)
	pool, err := Open(tag, "script://test", opts...)
	if err != nil {
		t.Fatalf("open scripted pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool, s
}

// wantEntries fails the test when the recorded wire sequence differs from
// the expectation.
func wantEntries(t *testing.T, s *script, want []string) {
	t.Helper()
	got := s.entries()
	if len(got) != len(want) {
		t.Fatalf("wire sequence mismatch:\n got %q\nwant %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wire entry %d = %q, want %q\nfull sequence: %q", i, got[i], want[i], got)
		}
	}
}

func zeroBackoff(int) time.Duration { return 0 }
