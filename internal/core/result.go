package core

import (
	"context"
	"strings"
)

// ColumnInfo describes one result column. It starts with whatever the
// driver exposes and is enriched on demand from catalog metadata by
// UpdateColumnInfo; absent facts stay at their zero values.
type ColumnInfo struct {
	// Name is the column label in the result set.
	Name string
	// DatabaseType is the driver's type name (VARCHAR, INT8, ...).
	DatabaseType string
	// Table is the source table when known.
	Table string
	// Schema is the source schema when known.
	Schema string
	// DataType is the catalog's data type, filled by enrichment.
	DataType string
	// Nullable is nil when unknown.
	Nullable *bool
	// IsPrimary is nil when unknown.
	IsPrimary *bool
	// MaxLength is the declared length for variable-size types.
	MaxLength int64
	// Precision and Scale describe decimal columns.
	Precision int64
	Scale     int64
}

// Result is the uniform outcome of one statement: column metadata plus
// fully materialized rows for row queries, affected count and generated
// key for writes. Rows are detached from the connection, so a Result
// stays valid after the pool moves on.
type Result struct {
	// Columns describes the result columns in positional order.
	Columns []ColumnInfo
	// Rows holds the row values aligned to Columns. Nil for writes.
	Rows [][]any
	// RowsAffected is the written row count, or the returned row count
	// for row queries.
	RowsAffected int64
	// RowKey is the backend-generated key for inserts, when the driver
	// reports one.
	RowKey any

	pool     *Pool
	table    string
	enriched bool
}

// Empty reports whether the result has no rows.
func (r *Result) Empty() bool {
	return len(r.Rows) == 0
}

// First returns the first row, nil when empty.
func (r *Result) First() []any {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Value returns the first column of the first row. Convenience for scalar
// queries (counts, single lookups); nil when the result is empty.
func (r *Result) Value() any {
	row := r.First()
	if len(row) == 0 {
		return nil
	}
	return row[0]
}

// ColumnIndex returns the position of a column by case-insensitive name,
// -1 when absent.
func (r *Result) ColumnIndex(name string) int {
	for i := range r.Columns {
		if strings.EqualFold(r.Columns[i].Name, name) {
			return i
		}
	}
	return -1
}

// Map converts row i into a name-keyed map.
func (r *Result) Map(i int) map[string]any {
	if i < 0 || i >= len(r.Rows) {
		return nil
	}
	m := make(map[string]any, len(r.Columns))
	for j := range r.Columns {
		m[r.Columns[j].Name] = r.Rows[i][j]
	}
	return m
}

// Maps converts all rows into name-keyed maps.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i := range r.Rows {
		out[i] = r.Map(i)
	}
	return out
}

// NullStringMaps converts all rows into NullStringMap, the all-text row
// shape used when column types are not known in advance.
func (r *Result) NullStringMaps() []NullStringMap {
	out := make([]NullStringMap, len(r.Rows))
	for i := range r.Rows {
		out[i] = rowToNullStringMap(r.Columns, r.Rows[i])
	}
	return out
}

// ScanStruct scans the first row into a struct by db tags. Returns
// ErrNoRows when the result is empty.
func (r *Result) ScanStruct(dest any) error {
	if len(r.Rows) == 0 {
		return ErrNoRows
	}
	return scanRowInto(r.Columns, r.Rows[0], dest)
}

// ScanSlice scans all rows into *[]T or *[]*T where T is a struct.
func (r *Result) ScanSlice(dest any) error {
	return scanRowsInto(r.Columns, r.Rows, dest)
}

// ForTable records the source table for columns without provenance, so
// UpdateColumnInfo knows which catalog entry to consult. Generated CRUD
// results carry this automatically.
func (r *Result) ForTable(table string) *Result {
	r.table = table
	return r
}

// UpdateColumnInfo enriches column metadata from the catalog: data types
// and nullability the driver did not report. Lookups are cached per pool,
// the call is idempotent, and a failed lookup leaves the result untouched
// so a later call can retry. Columns with no known source table are
// skipped.
func (r *Result) UpdateColumnInfo(ctx context.Context) error {
	if r.enriched || r.pool == nil || r.pool.catalog == nil {
		return nil
	}
	byTable := make(map[string][]int)
	for i := range r.Columns {
		table := r.Columns[i].Table
		if table == "" {
			table = r.table
		}
		if table == "" {
			continue
		}
		byTable[table] = append(byTable[table], i)
	}
	if len(byTable) == 0 {
		r.enriched = true
		return nil
	}
	for table, indexes := range byTable {
		meta, err := r.pool.catalog.Columns(ctx, table)
		if err != nil {
			return err
		}
		keys, err := r.pool.catalog.Keys(ctx, table)
		if err != nil {
			return err
		}
		keySet := make(map[string]bool, len(keys))
		for _, k := range keys {
			keySet[k] = true
		}
		for _, i := range indexes {
			col := &r.Columns[i]
			m, ok := meta[strings.ToLower(col.Name)]
			if !ok {
				continue
			}
			if col.DataType == "" {
				col.DataType = m.DataType
			}
			if col.Nullable == nil {
				v := m.Nullable
				col.Nullable = &v
			}
			if col.Table == "" {
				col.Table = table
			}
			if col.IsPrimary == nil {
				v := keySet[strings.ToLower(col.Name)]
				col.IsPrimary = &v
			}
		}
	}
	r.enriched = true
	return nil
}
