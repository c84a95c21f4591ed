package core

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/coregx/strata/internal/marshal"
	"github.com/coregx/strata/internal/tracer"
	"github.com/coregx/strata/q"
)

// execer abstracts the statement target: *sql.DB, *sql.Conn, *sql.Tx, and
// the pool's caching wrapper all satisfy it.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executeQuery is the single path every statement takes: render for the
// dialect, reject batches the backend cannot run, marshal arguments, route
// to the row or exec API, and materialize the Result. Logging, tracing,
// and hooks fire here exactly once per statement.
func executeQuery(ctx context.Context, p *Pool, run execer, query *q.Query, attempt int) (*Result, error) {
	rendered := query.Render(p.dialect.RenderOptions())
	if rendered.Statements > 1 {
		if !p.dialect.MultiStatement {
			return nil, fmt.Errorf("strata: %d statements for %s: %w",
				rendered.Statements, p.dialect.Name, ErrBatchUnsupported)
		}
		// Batches cannot be prepared: drivers take one statement per
		// prepare, so multi-statement texts skip the cache.
		if _, ok := run.(*cachedExecer); ok {
			run = p.sdb
		}
	}
	args, err := marshal.BindAll(p.dialect.Name, rendered.Args)
	if err != nil {
		return nil, err
	}

	spanCtx, span := p.tracer.StartSpan(ctx, "strata.query")
	defer span.End()

	start := time.Now()
	var res *Result
	if queryReturnsRows(rendered.Text) {
		res, err = runRowQuery(spanCtx, p, run, rendered.Text, args)
	} else {
		res, err = runExec(spanCtx, p, run, rendered.Text, args)
	}
	duration := time.Since(start)
	err = normalizeError(p.dialect, rendered.Text, err)

	p.observe(ctx, span, rendered.Text, args, duration, res, err, attempt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// runRowQuery executes a row-returning statement and materializes every
// row eagerly so the Result outlives the connection.
func runRowQuery(ctx context.Context, p *Pool, run execer, text string, args []any) (*Result, error) {
	rows, err := run.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return materializeRows(p, rows)
}

// runExec executes a write statement. The generated row key is captured for
// backends that report auto-increment values through the driver.
func runExec(ctx context.Context, p *Pool, run execer, text string, args []any) (*Result, error) {
	sr, err := run.ExecContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	res := &Result{pool: p}
	if affected, err := sr.RowsAffected(); err == nil {
		res.RowsAffected = affected
	}
	switch p.dialect.Name {
	case "mysql", "mariadb", "sqlite":
		if id, err := sr.LastInsertId(); err == nil && id != 0 {
			res.RowKey = id
		}
	}
	return res, nil
}

// materializeRows drains *sql.Rows into a Result, capturing the column
// metadata the driver exposes and normalizing driver-specific value
// encodings.
func materializeRows(p *Pool, rows *sql.Rows) (*Result, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, len(cts))
	dbTypes := make([]string, len(cts))
	for i, ct := range cts {
		info := ColumnInfo{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
		if nullable, ok := ct.Nullable(); ok {
			v := nullable
			info.Nullable = &v
		}
		if length, ok := ct.Length(); ok {
			info.MaxLength = length
		}
		if precision, scale, ok := ct.DecimalSize(); ok {
			info.Precision = precision
			info.Scale = scale
		}
		cols[i] = info
		dbTypes[i] = info.DatabaseType
	}

	var data [][]any
	for rows.Next() {
		values := make([]any, len(cts))
		ptrs := make([]any, len(cts))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		marshal.NormalizeRow(p.dialect.Name, dbTypes, values)
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Columns:      cols,
		Rows:         data,
		RowsAffected: int64(len(data)),
		pool:         p,
	}, nil
}

// observe emits the statement's log line, span attributes, and hook event.
func (p *Pool) observe(ctx context.Context, span tracer.Span, text string, args []any,
	duration time.Duration, res *Result, err error, attempt int) {

	masked := p.sanitizer.MaskParams(text, args)
	op := tracer.DetectOperation(text)
	var affected int64
	if res != nil {
		affected = res.RowsAffected
	}

	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:          text,
		Args:         masked,
		Duration:     duration,
		RowsAffected: affected,
		Error:        err,
		Database:     p.dialect.Name,
		Operation:    op,
		Attempt:      attempt,
	})

	if err != nil {
		p.logger.Error("query failed",
			"sql", text,
			"params", p.sanitizer.FormatParams(masked),
			"duration", duration,
			"error", err)
	} else {
		p.logger.Debug("query executed",
			"sql", text,
			"params", p.sanitizer.FormatParams(masked),
			"duration", duration,
			"rows", affected)
	}

	p.invokeHook(ctx, QueryEvent{
		SQL:          text,
		Args:         masked,
		Duration:     duration,
		RowsAffected: affected,
		Error:        err,
		Operation:    op,
		Attempt:      attempt,
	})
}

var (
	returningRegex = regexp.MustCompile(`(?i)\breturning\b`)
	outputRegex    = regexp.MustCompile(`(?i)\boutput\s+(inserted|deleted)\b`)
)

// queryReturnsRows sniffs whether a statement produces a row set: row
// verbs up front, or a RETURNING / OUTPUT clause anywhere in the text.
func queryReturnsRows(text string) bool {
	head := text
	if i := strings.IndexAny(head, " \t\r\n("); i > 0 {
		head = head[:i]
	}
	switch strings.ToLower(strings.TrimSpace(head)) {
	case "select", "with", "show", "pragma", "values", "explain", "describe", "desc", "call":
		return true
	}
	return returningRegex.MatchString(text) || outputRegex.MatchString(text)
}

// cachedExecer routes pool-level statements through the prepared statement
// cache. Statements inside transactions and on pinned connections bypass
// the cache because cached handles belong to the pool, not a session.
type cachedExecer struct {
	pool *Pool
}

// statement returns a cached or freshly prepared statement plus a release
// callback, or (nil, nil, nil) when caching is disabled. The entry is
// pinned for the duration of the call so eviction cannot close a statement
// that is about to run.
func (e *cachedExecer) statement(ctx context.Context, text string) (*sql.Stmt, func(), error) {
	sc := e.pool.stmtCache
	if sc == nil {
		return nil, nil, nil
	}
	if sc.Pin(text) {
		if stmt, ok := sc.Get(text); ok {
			return stmt, func() { sc.Unpin(text) }, nil
		}
		sc.Unpin(text)
	}
	stmt, err := e.pool.sdb.PrepareContext(ctx, text)
	if err != nil {
		return nil, nil, err
	}
	sc.Set(text, stmt)
	sc.Pin(text)
	return stmt, func() { sc.Unpin(text) }, nil
}

func (e *cachedExecer) QueryContext(ctx context.Context, text string, args ...any) (*sql.Rows, error) {
	stmt, release, err := e.statement(ctx, text)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return e.pool.sdb.QueryContext(ctx, text, args...)
	}
	defer release()
	return stmt.QueryContext(ctx, args...)
}

func (e *cachedExecer) ExecContext(ctx context.Context, text string, args ...any) (sql.Result, error) {
	stmt, release, err := e.statement(ctx, text)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return e.pool.sdb.ExecContext(ctx, text, args...)
	}
	defer release()
	return stmt.ExecContext(ctx, args...)
}
