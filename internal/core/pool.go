package core

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coregx/strata/internal/cache"
	"github.com/coregx/strata/internal/catalog"
	"github.com/coregx/strata/internal/dialects"
	"github.com/coregx/strata/internal/logger"
	"github.com/coregx/strata/internal/tracer"
	"github.com/coregx/strata/internal/util"
	"github.com/coregx/strata/q"
)

// Pool manages database connections for one backend. It wraps *sql.DB with
// dialect awareness, per-connection credential resolution, a prepared
// statement cache, and lazy catalog metadata. The zero value is not usable;
// construct with Open or Wrap.
type Pool struct {
	dialect *dialects.Dialect
	driver  string
	dsn     string
	sdb     *sql.DB

	credFn    CredentialFunc
	stmtCache *cache.StmtCache
	catalog   *catalog.Store
	logger    logger.Logger
	tracer    tracer.Tracer
	sanitizer *logger.Sanitizer
	queryHook QueryHook

	retries int
	backoff BackoffFunc

	health         *healthChecker
	healthInterval time.Duration

	maxOpen         int
	maxIdle         int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration

	closed atomic.Bool
}

// Open creates a pool for the given dialect tag and DSN. No connection is
// established until first use; a bad address surfaces on the first query or
// Ping, not here. Supported tags are listed by Dialects().
func Open(dialectTag, dsn string, opts ...Option) (*Pool, error) {
	d, ok := dialects.Lookup(dialectTag)
	if !ok {
		return nil, fmt.Errorf("strata: unsupported dialect %q", dialectTag)
	}
	p := newPool(d, dsn, opts)

	sdb, err := p.openDB()
	if err != nil {
		return nil, err
	}
	p.attach(sdb)
	p.logger.Debug("pool opened",
		"dialect", d.Name,
		"driver", p.driver,
		"dsn", util.RedactDSN(dsn))
	return p, nil
}

// Wrap adopts an existing *sql.DB under the given dialect tag. The caller
// keeps ownership of driver registration and connection credentials, so
// WithCredentials cannot be combined with Wrap.
func Wrap(dialectTag string, sdb *sql.DB, opts ...Option) (*Pool, error) {
	d, ok := dialects.Lookup(dialectTag)
	if !ok {
		return nil, fmt.Errorf("strata: unsupported dialect %q", dialectTag)
	}
	p := newPool(d, "", opts)
	if p.credFn != nil {
		return nil, fmt.Errorf("strata: credential resolution requires a pool-managed connection source")
	}
	p.attach(sdb)
	return p, nil
}

func newPool(d *dialects.Dialect, dsn string, opts []Option) *Pool {
	p := &Pool{
		dialect:   d,
		driver:    d.Driver,
		dsn:       dsn,
		stmtCache: cache.NewStmtCache(),
		logger:    &logger.NoopLogger{},
		tracer:    &tracer.NoopTracer{},
		sanitizer: logger.NewSanitizer(nil),
		retries:   DefaultRetries,
		backoff:   DefaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// openDB builds the underlying *sql.DB. With a credential resolver the pool
// opens through a connector so every physical connection resolves fresh
// credentials; otherwise it opens by driver name.
func (p *Pool) openDB() (*sql.DB, error) {
	if p.credFn != nil {
		if p.dialect.Connector == nil {
			return nil, fmt.Errorf("strata: dialect %s does not support credential resolution", p.dialect.Name)
		}
		return sql.OpenDB(&credConnector{pool: p}), nil
	}
	sdb, err := sql.Open(p.driver, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("strata: open %s: %w", p.driver, err)
	}
	return sdb, nil
}

// attach wires the sql.DB into the pool and applies deferred tuning.
func (p *Pool) attach(sdb *sql.DB) {
	p.sdb = sdb
	if p.maxOpen > 0 {
		sdb.SetMaxOpenConns(p.maxOpen)
	}
	if p.maxIdle > 0 {
		sdb.SetMaxIdleConns(p.maxIdle)
	}
	if p.connMaxLifetime > 0 {
		sdb.SetConnMaxLifetime(p.connMaxLifetime)
	}
	if p.connMaxIdleTime > 0 {
		sdb.SetConnMaxIdleTime(p.connMaxIdleTime)
	}
	p.catalog = catalog.New(p.dialect, func(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
		return sdb.QueryContext(ctx, query, args...)
	})
	if p.healthInterval > 0 {
		p.health = newHealthChecker(p, p.healthInterval)
		p.health.start()
	}
}

// credConnector resolves credentials once per physical connection and
// delegates the actual dial to the dialect's connector.
type credConnector struct {
	pool *Pool
}

func (c *credConnector) Connect(ctx context.Context) (driver.Conn, error) {
	p := c.pool
	creds, err := p.credFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("strata: resolve credentials: %w", err)
	}
	inner, err := p.dialect.Connector(p.dsn, creds.Identity, creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("strata: build connector: %w", err)
	}
	p.logger.Debug("opening connection", "dialect", p.dialect.Name, "identity", creds.Identity)
	return inner.Connect(ctx)
}

func (c *credConnector) Driver() driver.Driver {
	inner, err := c.pool.dialect.Connector(c.pool.dsn, "", "")
	if err != nil {
		return nil
	}
	return inner.Driver()
}

// Dialect returns the canonical dialect tag the pool was opened with.
func (p *Pool) Dialect() string {
	return p.dialect.Name
}

// Unwrap exposes the underlying *sql.DB for interoperability with code
// built directly on database/sql.
func (p *Pool) Unwrap() *sql.DB {
	return p.sdb
}

// Conn acquires a dedicated connection from the pool. The caller owns it
// until Close, which returns it to the pool.
func (p *Pool) Conn(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, ErrConnClosed
	}
	sc, err := p.sdb.Conn(ctx)
	if err != nil {
		return nil, normalizeError(p.dialect, "", err)
	}
	return &Conn{id: uuid.NewString(), pool: p, sc: sc}, nil
}

// Query executes each query in order and returns one Result per query.
// Statements run through the pool's prepared statement cache; no manual
// connection management is needed.
func (p *Pool) Query(ctx context.Context, queries ...*q.Query) ([]*Result, error) {
	if p.closed.Load() {
		return nil, ErrConnClosed
	}
	results := make([]*Result, 0, len(queries))
	run := &cachedExecer{pool: p}
	for _, query := range queries {
		res, err := executeQuery(ctx, p, run, query, 0)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Execute runs a single query. Sugar over Query for the common case.
func (p *Pool) Execute(ctx context.Context, query *q.Query) (*Result, error) {
	results, err := p.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Transaction acquires a connection, runs fn inside a managed transaction
// with serialization retry, and releases the connection.
func (p *Pool) Transaction(ctx context.Context, opts *TxOptions, fn func(*Tx) error) error {
	conn, err := p.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Transaction(ctx, opts, fn)
}

// Reference binds a table for generated CRUD. The returned reference
// executes through the pool.
func (p *Pool) Reference(table string) *Reference {
	return newReference(p, table, p.Execute)
}

// Ping verifies connectivity. When the context carries no deadline a
// 5 second timeout is applied.
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrConnClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return normalizeError(p.dialect, "", p.sdb.PingContext(ctx))
}

// Healthy reports the outcome of the most recent background health check.
// Without WithHealthCheck it always returns true.
func (p *Pool) Healthy() bool {
	if p.health == nil {
		return !p.closed.Load()
	}
	return p.health.isHealthy()
}

// Close tears down the pool: stops the health checker, closes cached
// statements, drops catalog metadata, and closes the underlying sql.DB.
// Safe to call more than once.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.health != nil {
		p.health.shutdown()
	}
	if p.stmtCache != nil {
		p.stmtCache.Clear()
	}
	if p.catalog != nil {
		p.catalog.Clear()
	}
	err := p.sdb.Close()
	p.logger.Debug("pool closed", "dialect", p.dialect.Name)
	return err
}

// PoolStats aggregates the pool's runtime counters.
type PoolStats struct {
	DB      sql.DBStats
	Stmt    cache.Stats
	Catalog catalog.CatalogStats
}

// Stats returns a snapshot of connection, statement cache, and catalog
// counters.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{DB: p.sdb.Stats()}
	if p.stmtCache != nil {
		stats.Stmt = p.stmtCache.Stats()
	}
	if p.catalog != nil {
		stats.Catalog = p.catalog.Stats()
	}
	return stats
}

// Dialects lists the registered dialect tags.
func Dialects() []string {
	return dialects.Tags()
}
