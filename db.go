// Package strata provides transactional database access across PostgreSQL,
// CockroachDB, MySQL, MariaDB, SQLite, and SQL Server behind one API. It
// offers dialect-aware SQL generation, per-connection credential resolution,
// nested transactions with automatic serialization retry, prepared statement
// caching, and lazy catalog metadata out of the box.
package strata

import (
	"github.com/coregx/strata/internal/core"
)

type (
	// Pool manages database connections for one backend.
	Pool = core.Pool
	// PoolStats aggregates connection, statement cache, and catalog counters.
	PoolStats = core.PoolStats
	// Conn is a single checked-out connection with stable session state.
	Conn = core.Conn
	// Tx is an open transaction. Nested calls become savepoints.
	Tx = core.Tx
	// TxOptions configures isolation, read-only mode, and the retry budget.
	TxOptions = core.TxOptions
	// Option is a functional option for configuring a Pool.
	Option = core.Option

	// Credentials carry the identity and secret used to open a physical
	// connection.
	Credentials = core.Credentials
	// CredentialFunc resolves credentials for each new physical connection.
	CredentialFunc = core.CredentialFunc
	// BackoffFunc computes the delay before a retry attempt.
	BackoffFunc = core.BackoffFunc

	// Reference is a chainable handle on one table for load, save, append,
	// modify, and remove operations.
	Reference = core.Reference
	// Filter selects rows by column equality, membership, or subquery.
	Filter = core.Filter
	// Scope bounds how many rows a Reference may address.
	Scope = core.Scope

	// Result is the uniform outcome of a statement: rows, column metadata,
	// and write counters.
	Result = core.Result
	// ColumnInfo describes one result column, enriched from the catalog on
	// request.
	ColumnInfo = core.ColumnInfo
	// NullStringMap is a row rendered as nullable strings keyed by column.
	NullStringMap = core.NullStringMap

	// DBError is a classified backend error with vendor code and SQLSTATE.
	DBError = core.DBError
	// QueryEvent describes one executed statement for hooks.
	QueryEvent = core.QueryEvent
	// QueryHook observes statement executions.
	QueryHook = core.QueryHook

	// Notification is one message delivered on a watched channel.
	Notification = core.Notification
	// Subscription is an active watch on a notification channel.
	Subscription = core.Subscription
)

// Scope levels for Reference operations.
const (
	ScopeAll    = core.ScopeAll
	ScopeOne    = core.ScopeOne
	ScopeUnique = core.ScopeUnique
)

// DefaultRetries is the pool-level retry budget for serialization failures.
const DefaultRetries = core.DefaultRetries

// Sentinel errors.
var (
	ErrConnClosed       = core.ErrConnClosed
	ErrNoRows           = core.ErrNoRows
	ErrTooManyRows      = core.ErrTooManyRows
	ErrTxDone           = core.ErrTxDone
	ErrBatchUnsupported = core.ErrBatchUnsupported
	ErrKeysUndetermined = core.ErrKeysUndetermined
	ErrWatchUnsupported = core.ErrWatchUnsupported
)

// Re-export core functions.
var (
	Open     = core.Open
	Wrap     = core.Wrap
	Dialects = core.Dialects

	DefaultBackoff = core.DefaultBackoff

	WithCredentials       = core.WithCredentials
	WithDriverName        = core.WithDriverName
	WithQueryHook         = core.WithQueryHook
	WithSensitiveFields   = core.WithSensitiveFields
	WithMaxOpenConns      = core.WithMaxOpenConns
	WithMaxIdleConns      = core.WithMaxIdleConns
	WithConnMaxLifetime   = core.WithConnMaxLifetime
	WithConnMaxIdleTime   = core.WithConnMaxIdleTime
	WithStmtCacheCapacity = core.WithStmtCacheCapacity
	WithHealthCheck       = core.WithHealthCheck
	WithRetries           = core.WithRetries
	WithBackoff           = core.WithBackoff
)
