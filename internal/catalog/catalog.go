// Package catalog resolves and caches table metadata from the backend's
// catalog views. Lookups are lazy: nothing is fetched until a caller asks
// for a table, and a successful answer is cached for the life of the pool.
// Concurrent first lookups for the same table coalesce into one catalog
// query. Failed lookups are never cached, so a table created later is
// picked up on the next ask.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/coregx/strata/internal/dialects"
)

// Column describes one table column as reported by the backend catalog.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  sql.NullString
	Position int
}

// RunFunc executes a catalog query against the pool's backend.
type RunFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

// Store is a per-pool cache of table metadata.
type Store struct {
	dialect *dialects.Dialect
	run     RunFunc

	mu     sync.RWMutex
	tables map[string]map[string]Column
	keys   map[string][]string

	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a metadata store for one pool. run is how the store reaches
// the backend; it is typically a thin closure over the pool's database
// handle so the store stays decoupled from the pool type.
func New(d *dialects.Dialect, run RunFunc) *Store {
	return &Store{
		dialect: d,
		run:     run,
		tables:  make(map[string]map[string]Column),
		keys:    make(map[string][]string),
	}
}

// Columns returns the column metadata for a table, keyed by column name.
// The returned map is shared and must not be modified.
func (s *Store) Columns(ctx context.Context, table string) (map[string]Column, error) {
	key := strings.ToLower(table)

	s.mu.RLock()
	cols, ok := s.tables[key]
	s.mu.RUnlock()
	if ok {
		s.hits.Add(1)
		return cols, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Re-check under the group: a racing caller may have filled the
		// cache between our read and the flight starting.
		s.mu.RLock()
		cached, ok := s.tables[key]
		s.mu.RUnlock()
		if ok {
			return cached, nil
		}

		s.misses.Add(1)
		fetched, err := s.fetch(ctx, table)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.tables[key] = fetched
		s.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Column), nil
}

// Keys returns the table's primary key columns in constraint order. An
// empty result means the table has no primary key (or does not exist);
// only query failures return an error. Answers are cached like Columns.
func (s *Store) Keys(ctx context.Context, table string) ([]string, error) {
	key := strings.ToLower(table)

	s.mu.RLock()
	cols, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		s.hits.Add(1)
		return cols, nil
	}

	v, err, _ := s.group.Do("keys\x00"+key, func() (any, error) {
		s.mu.RLock()
		cached, ok := s.keys[key]
		s.mu.RUnlock()
		if ok {
			return cached, nil
		}

		s.misses.Add(1)
		fetched, err := s.fetchKeys(ctx, table)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.keys[key] = fetched
		s.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate drops the cached metadata for one table.
func (s *Store) Invalidate(table string) {
	key := strings.ToLower(table)
	s.mu.Lock()
	delete(s.tables, key)
	delete(s.keys, key)
	s.mu.Unlock()
}

// Clear drops all cached metadata.
func (s *Store) Clear() {
	s.mu.Lock()
	s.tables = make(map[string]map[string]Column)
	s.keys = make(map[string][]string)
	s.mu.Unlock()
}

// fetch runs the dialect's catalog query and folds the rows into a column
// map.
func (s *Store) fetch(ctx context.Context, table string) (map[string]Column, error) {
	query, args := s.catalogQuery(table)

	rows, err := s.run(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]Column)
	if s.dialect.Name == "sqlite" {
		err = scanPragmaRows(rows, cols)
	} else {
		err = scanInfoSchemaRows(rows, cols)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan %s: %w", table, err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("catalog: table %s not found", table)
	}
	return cols, nil
}

// catalogQuery builds the per-backend metadata query. Everything except
// SQLite speaks information_schema; the schema scoping predicate is the
// part that differs.
func (s *Store) catalogQuery(table string) (string, []any) {
	const infoSchema = "select column_name, data_type, is_nullable, column_default, ordinal_position " +
		"from information_schema.columns where table_name = %s%s order by ordinal_position"

	switch s.dialect.Name {
	case "sqlite":
		return `select name, type, "notnull", dflt_value, cid from pragma_table_info(?)`, []any{table}
	case "postgres", "cockroach":
		return fmt.Sprintf(infoSchema, "$1", " and table_schema = current_schema()"), []any{table}
	case "mysql", "mariadb":
		return fmt.Sprintf(infoSchema, "?", " and table_schema = database()"), []any{table}
	case "sqlserver":
		return fmt.Sprintf(infoSchema, "@p1", " and table_schema = schema_name()"), []any{table}
	default:
		return fmt.Sprintf(infoSchema, "?", ""), []any{table}
	}
}

// fetchKeys runs the dialect's primary key query.
func (s *Store) fetchKeys(ctx context.Context, table string) ([]string, error) {
	query, args := s.keysQuery(table)

	rows, err := s.run(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: keys %s: %w", table, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("catalog: keys %s: %w", table, err)
		}
		keys = append(keys, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: keys %s: %w", table, err)
	}
	return keys, nil
}

// keysQuery builds the per-backend primary key lookup. SQLite reads the
// pk marker from pragma_table_info; everything else joins
// table_constraints with key_column_usage.
func (s *Store) keysQuery(table string) (string, []any) {
	const pkQuery = "select kcu.column_name from information_schema.table_constraints tc " +
		"join information_schema.key_column_usage kcu on kcu.constraint_name = tc.constraint_name " +
		"and kcu.table_schema = tc.table_schema and kcu.table_name = tc.table_name " +
		"where tc.constraint_type = 'PRIMARY KEY' and tc.table_name = %s%s " +
		"order by kcu.ordinal_position"

	switch s.dialect.Name {
	case "sqlite":
		return "select name from pragma_table_info(?) where pk > 0 order by pk", []any{table}
	case "postgres", "cockroach":
		return fmt.Sprintf(pkQuery, "$1", " and tc.table_schema = current_schema()"), []any{table}
	case "mysql", "mariadb":
		return fmt.Sprintf(pkQuery, "?", " and tc.table_schema = database()"), []any{table}
	case "sqlserver":
		return fmt.Sprintf(pkQuery, "@p1", " and tc.table_schema = schema_name()"), []any{table}
	default:
		return fmt.Sprintf(pkQuery, "?", ""), []any{table}
	}
}

func scanInfoSchemaRows(rows *sql.Rows, cols map[string]Column) error {
	for rows.Next() {
		var (
			name, dataType, isNullable string
			dflt                       sql.NullString
			position                   int
		)
		if err := rows.Scan(&name, &dataType, &isNullable, &dflt, &position); err != nil {
			return err
		}
		cols[strings.ToLower(name)] = Column{
			Name:     name,
			DataType: dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
			Default:  dflt,
			Position: position,
		}
	}
	return nil
}

func scanPragmaRows(rows *sql.Rows, cols map[string]Column) error {
	for rows.Next() {
		var (
			name, dataType string
			notNull, cid   int
			dflt           sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &notNull, &dflt, &cid); err != nil {
			return err
		}
		cols[strings.ToLower(name)] = Column{
			Name:     name,
			DataType: dataType,
			Nullable: notNull == 0,
			Default:  dflt,
			Position: cid + 1,
		}
	}
	return nil
}

// CatalogStats holds metadata cache counters.
type CatalogStats struct {
	Tables uint64 // Tables currently cached.
	Hits   uint64 // Lookups served from cache.
	Misses uint64 // Lookups that went to the backend.
}

// Stats returns cache counters.
func (s *Store) Stats() CatalogStats {
	s.mu.RLock()
	tables := uint64(len(s.tables))
	s.mu.RUnlock()
	return CatalogStats{
		Tables: tables,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}
