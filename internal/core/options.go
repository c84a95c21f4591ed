package core

import (
	"context"
	"database/sql"
	"math"
	"math/rand/v2"
	"time"

	"github.com/coregx/strata/internal/cache"
	"github.com/coregx/strata/internal/logger"
	"github.com/coregx/strata/internal/tracer"
)

// Credentials carries the identity and secret applied to one physical
// database connection.
type Credentials struct {
	Identity string
	Secret   string
}

// CredentialFunc resolves credentials for a new physical connection. The
// pool calls it once per connection it opens, never per statement, so
// short-lived credentials (vaults, IAM tokens) pick up fresh values as the
// pool grows or replaces connections.
type CredentialFunc func(ctx context.Context) (Credentials, error)

// BackoffFunc returns the delay before retry attempt n (0-based).
type BackoffFunc func(attempt int) time.Duration

// DefaultRetries is the pool-level retry budget for serialization
// failures when TxOptions does not override it.
const DefaultRetries = 5

// DefaultBackoff implements exponential backoff with subtractive jitter:
// (2^n - rand) * 100ms, giving roughly 100ms, 200ms, 400ms, ... with up to
// 100ms shaved off each delay.
func DefaultBackoff(attempt int) time.Duration {
	return time.Duration((math.Pow(2, float64(attempt)) - rand.Float64()) * float64(100*time.Millisecond))
}

// TxOptions configures one transaction. The zero value uses the pool's
// retry budget and backoff with the backend's default isolation.
type TxOptions struct {
	// Isolation is passed through to the backend when non-default.
	Isolation sql.IsolationLevel
	// ReadOnly marks the transaction read-only where supported.
	ReadOnly bool
	// Retries overrides the pool retry budget when > 0. Negative disables
	// retries entirely.
	Retries int
	// Backoff overrides the pool backoff when set.
	Backoff BackoffFunc
}

// Option configures a Pool during Open.
type Option func(*Pool)

// WithCredentials installs a credential resolver, invoked once per physical
// connection. Requires a dialect with connector support.
func WithCredentials(fn CredentialFunc) Option {
	return func(p *Pool) {
		p.credFn = fn
	}
}

// WithDriverName overrides the dialect's default driver name. Used to run
// the sqlite dialect on an alternative driver registration, or to target a
// custom wrapped driver.
func WithDriverName(name string) Option {
	return func(p *Pool) {
		p.driver = name
	}
}

// WithLogger sets the structured logger for pool, transaction, and query
// events.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the tracer used to span statement executions.
func WithTracer(t tracer.Tracer) Option {
	return func(p *Pool) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithQueryHook registers a callback observing every executed statement.
func WithQueryHook(hook QueryHook) Option {
	return func(p *Pool) {
		p.queryHook = hook
	}
}

// WithSensitiveFields replaces the default set of column names whose
// parameters are masked in logs.
func WithSensitiveFields(fields ...string) Option {
	return func(p *Pool) {
		p.sanitizer = logger.NewSanitizer(fields)
	}
}

// WithMaxOpenConns bounds the number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(p *Pool) {
		p.maxOpen = n
	}
}

// WithMaxIdleConns bounds the idle connection count.
func WithMaxIdleConns(n int) Option {
	return func(p *Pool) {
		p.maxIdle = n
	}
}

// WithConnMaxLifetime bounds how long a physical connection may be reused.
// Shorter lifetimes make rotated credentials take effect sooner.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(p *Pool) {
		p.connMaxLifetime = d
	}
}

// WithConnMaxIdleTime bounds how long a connection may sit idle.
func WithConnMaxIdleTime(d time.Duration) Option {
	return func(p *Pool) {
		p.connMaxIdleTime = d
	}
}

// WithStmtCacheCapacity sets the prepared statement cache capacity.
// Non-positive disables statement caching.
func WithStmtCacheCapacity(capacity int) Option {
	return func(p *Pool) {
		if capacity <= 0 {
			p.stmtCache = nil
			return
		}
		p.stmtCache = cache.NewStmtCacheWithCapacity(capacity)
	}
}

// WithHealthCheck starts a background pinger at the given interval.
func WithHealthCheck(interval time.Duration) Option {
	return func(p *Pool) {
		p.healthInterval = interval
	}
}

// WithRetries sets the pool-level retry budget for serialization failures.
func WithRetries(n int) Option {
	return func(p *Pool) {
		p.retries = n
	}
}

// WithBackoff sets the pool-level retry backoff.
func WithBackoff(fn BackoffFunc) Option {
	return func(p *Pool) {
		if fn != nil {
			p.backoff = fn
		}
	}
}
