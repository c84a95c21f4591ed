// Package dialects provides database-specific SQL dialect strategies for
// PostgreSQL, CockroachDB, MySQL/MariaDB, SQLite, SQL Server, and a generic
// bridge dialect, handling identifier quoting, placeholders, paging, locking,
// savepoints, upsert generation, error classification, and connector wiring.
//
// A Dialect is a closed set of strategy functions rather than an interface
// hierarchy: new dialects are added by registering another variant, not by
// subclassing.
package dialects

import (
	"database/sql/driver"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/coregx/strata/q"
)

// ReturningStyle describes how a dialect returns inserted rows.
type ReturningStyle int

const (
	// ReturnNone means inserts cannot return rows.
	ReturnNone ReturningStyle = iota
	// ReturnReturning appends "returning *" after the statement.
	ReturnReturning
	// ReturnOutput places "output inserted.*" before the VALUES clause.
	ReturnOutput
)

// LockMode selects a row-locking clause for load queries.
type LockMode int

const (
	LockNone LockMode = iota
	// LockUpdate acquires exclusive row locks (FOR UPDATE style).
	LockUpdate
	// LockShare acquires shared row locks (FOR SHARE style).
	LockShare
)

// Upsert generation errors. These are programmer errors surfaced before
// execution, never retried.
var (
	// ErrUpsertNeedsKeys is returned when a dialect requires explicit
	// conflict-target columns and none could be determined.
	ErrUpsertNeedsKeys = errors.New("upsert requires determinable key columns")

	// ErrUpsertUnsupported is returned by dialects with no native upsert.
	ErrUpsertUnsupported = errors.New("upsert not supported by dialect")
)

// UpsertSpec carries everything an upsert generator needs: the target
// table, the full column list, the conflict-key subset, and the value rows
// aligned to Columns.
type UpsertSpec struct {
	Table   string
	Columns []string
	Keys    []string
	Values  [][]any
}

// Dialect defines database-specific behaviors as a strategy table.
// All function fields are non-nil after registration unless documented
// otherwise.
type Dialect struct {
	// Name is the canonical dialect tag ("postgres", "mysql", ...).
	Name string
	// Driver is the database/sql driver name opened for this dialect.
	Driver string
	// MultiStatement reports whether the backend executes multi-statement
	// batches. Dialects with false reject batches at execution time.
	MultiStatement bool
	// CockroachRestart enables the client-side retry protocol: a
	// cockroach_restart savepoint after BEGIN, rolled back to on retry.
	CockroachRestart bool
	// Returning describes the dialect's inserted-row return mechanism.
	Returning ReturningStyle

	// Placeholder returns the positional placeholder for a 0-based slot
	// index ("$1" for index 0 on PostgreSQL, "?" on MySQL).
	Placeholder func(index int) string
	// QuoteIdent quotes one bare identifier segment.
	QuoteIdent func(name string) string
	// Paging renders the paging clause. A negative limit means no limit,
	// a zero offset means no offset; both absent renders "".
	Paging func(limit, offset int64) string
	// LockClause renders the locking syntax: a table hint placed after
	// the table name, or a statement suffix. Dialects without locking
	// validate the mode but emit nothing.
	LockClause func(mode LockMode) (tableHint, suffix string, err error)
	// SavepointSQL, RollbackToSQL, ReleaseSQL render savepoint control
	// statements. An empty ReleaseSQL result means the dialect has no
	// release semantics and the savepoint is simply left behind.
	SavepointSQL  func(name string) string
	RollbackToSQL func(name string) string
	ReleaseSQL    func(name string) string
	// Upsert builds the dialect's insert-or-update statement.
	Upsert func(spec UpsertSpec) (*q.Query, error)
	// ErrorInfo extracts the driver-local error code and the SQLSTATE-like
	// 5-character state from a driver error, when the driver exposes them.
	ErrorInfo func(err error) (code, state string, ok bool)
	// Retryable reports whether an error code/state pair is a
	// serialization failure or deadlock worth retrying.
	Retryable func(code, state string) bool
	// Connector builds a driver connector for one physical connection,
	// with resolved credentials applied. Nil means the pool opens by
	// Driver name and ignores credentials (trust-based backends).
	Connector func(dsn, identity, secret string) (driver.Connector, error)
}

// RenderOptions adapts the dialect for q.Query rendering.
func (d *Dialect) RenderOptions() q.RenderOptions {
	return q.RenderOptions{Placeholder: d.Placeholder, QuoteIdent: d.QuoteIdent}
}

var dialects = make(map[string]*Dialect)

// Register registers a dialect under one or more tags. Later registrations
// replace earlier ones, which lets tests install scripted dialects.
func Register(d *Dialect, tags ...string) {
	for _, tag := range tags {
		dialects[tag] = d
	}
}

// Get retrieves a registered dialect by tag, panics if not found.
func Get(tag string) *Dialect {
	d, ok := dialects[tag]
	if !ok {
		panic("unsupported dialect: " + tag)
	}
	return d
}

// Lookup retrieves a registered dialect by tag without panicking.
func Lookup(tag string) (*Dialect, bool) {
	d, ok := dialects[tag]
	return d, ok
}

// Tags returns the canonical names of all registered dialects.
func Tags() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, d := range dialects {
		if !seen[d.Name] {
			seen[d.Name] = true
			tags = append(tags, d.Name)
		}
	}
	return tags
}

// bareIdentRegex matches identifiers that render unquoted: lowercase
// letters, digits, and underscores, starting with a letter or underscore.
var bareIdentRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedWords forces quoting for common SQL keywords even when they
// match the bare-identifier pattern.
var reservedWords = map[string]struct{}{
	"all": {}, "and": {}, "as": {}, "between": {}, "by": {}, "case": {},
	"check": {}, "create": {}, "default": {}, "delete": {}, "distinct": {},
	"drop": {}, "else": {}, "end": {}, "from": {}, "group": {}, "having": {},
	"in": {}, "index": {}, "insert": {}, "into": {}, "is": {}, "join": {},
	"key": {}, "like": {}, "limit": {}, "not": {}, "null": {}, "offset": {},
	"on": {}, "or": {}, "order": {}, "primary": {}, "references": {},
	"select": {}, "set": {}, "table": {}, "then": {}, "union": {},
	"unique": {}, "update": {}, "user": {}, "values": {}, "when": {},
	"where": {},
}

// SafeIdent renders an identifier bare when it is unambiguous lowercase
// SQL, quoting it otherwise. Dotted names are handled per segment.
// Generated CRUD statements use this so typical schemas read naturally
// while unusual names stay safe.
func (d *Dialect) SafeIdent(name string) string {
	if !strings.Contains(name, ".") {
		return d.safeSegment(strings.TrimSpace(name))
	}
	segs := strings.Split(name, ".")
	for i, seg := range segs {
		segs[i] = d.safeSegment(strings.TrimSpace(seg))
	}
	return strings.Join(segs, ".")
}

func (d *Dialect) safeSegment(name string) string {
	if _, reserved := reservedWords[name]; !reserved && bareIdentRegex.MatchString(name) {
		return name
	}
	return d.QuoteIdent(name)
}

// SafeIdentList joins SafeIdent renderings with commas.
func (d *Dialect) SafeIdentList(names []string) string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = d.SafeIdent(name)
	}
	return strings.Join(out, ", ")
}

// without returns columns not present in exclude, preserving order.
func without(columns, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, col := range exclude {
		skip[col] = true
	}
	kept := make([]string, 0, len(columns))
	for _, col := range columns {
		if !skip[col] {
			kept = append(kept, col)
		}
	}
	return kept
}

// limitOffsetPaging renders the LIMIT/OFFSET clause family shared by most
// dialects.
func limitOffsetPaging(limit, offset int64) string {
	var sb strings.Builder
	if limit >= 0 {
		sb.WriteString("limit ")
		sb.WriteString(strconv.FormatInt(limit, 10))
	}
	if offset > 0 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("offset ")
		sb.WriteString(strconv.FormatInt(offset, 10))
	}
	return sb.String()
}

// standardSavepoints fills the SQL-standard savepoint statements.
func standardSavepoints(d *Dialect) {
	d.SavepointSQL = func(name string) string { return "savepoint " + name }
	d.RollbackToSQL = func(name string) string { return "rollback to savepoint " + name }
	d.ReleaseSQL = func(name string) string { return "release savepoint " + name }
}

// doubleQuoteIdent implements double-quote identifier quoting with
// embedded quotes escaped by doubling.
func doubleQuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// conflictUpsert builds the ON CONFLICT upsert shared by PostgreSQL,
// CockroachDB, and SQLite:
//
//	insert into t as _dst_ (id, name) values ($1, $2)
//	on conflict (id) do update set name = excluded.name returning *
//
// When every column is a key there is nothing to update and the conflict
// action degrades to DO NOTHING.
func conflictUpsert(d *Dialect, spec UpsertSpec) (*q.Query, error) {
	if len(spec.Keys) == 0 {
		return nil, ErrUpsertNeedsKeys
	}
	var sb strings.Builder
	sb.WriteString("insert into ")
	sb.WriteString(d.SafeIdent(spec.Table))
	sb.WriteString(" as _dst_ (")
	sb.WriteString(d.SafeIdentList(spec.Columns))
	sb.WriteString(") values ? on conflict (")
	sb.WriteString(d.SafeIdentList(spec.Keys))
	sb.WriteString(") do ")

	if updates := without(spec.Columns, spec.Keys); len(updates) == 0 {
		sb.WriteString("nothing")
	} else {
		sb.WriteString("update set ")
		for i, col := range updates {
			if i > 0 {
				sb.WriteString(", ")
			}
			ident := d.SafeIdent(col)
			sb.WriteString(ident)
			sb.WriteString(" = excluded.")
			sb.WriteString(ident)
		}
	}
	if d.Returning == ReturnReturning {
		sb.WriteString(" returning *")
	}
	return q.SQL(sb.String(), q.Values(spec.Values...)), nil
}
