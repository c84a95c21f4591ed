package core

import (
	"database/sql"
	"fmt"
	"time"
)

// NullStringMap is the all-text row shape for queries whose schema is not
// known at compile time. Each value carries its NULL state.
//
// Example:
//
//	res, _ := pool.Execute(ctx, q.SQL("select * from settings"))
//	for _, row := range res.NullStringMaps() {
//	    if !row.IsNull("value") {
//	        apply(row.String("name"), row.String("value"))
//	    }
//	}
type NullStringMap map[string]sql.NullString

// String returns the value for key, empty when NULL or absent.
func (m NullStringMap) String(key string) string {
	if v, ok := m[key]; ok && v.Valid {
		return v.String
	}
	return ""
}

// IsNull reports whether the value for key is NULL or absent.
func (m NullStringMap) IsNull(key string) bool {
	v, ok := m[key]
	return !ok || !v.Valid
}

// Has reports whether the key exists, NULL or not.
func (m NullStringMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Keys returns all column names in the map.
func (m NullStringMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Get returns the raw sql.NullString and whether the key exists.
func (m NullStringMap) Get(key string) (sql.NullString, bool) {
	v, ok := m[key]
	return v, ok
}

// rowToNullStringMap renders a materialized row as text values. Times use
// RFC 3339 so the text round-trips across backends.
func rowToNullStringMap(cols []ColumnInfo, row []any) NullStringMap {
	m := make(NullStringMap, len(cols))
	for i := range cols {
		var ns sql.NullString
		if i < len(row) && row[i] != nil {
			ns.Valid = true
			switch v := row[i].(type) {
			case string:
				ns.String = v
			case []byte:
				ns.String = string(v)
			case time.Time:
				ns.String = v.Format(time.RFC3339Nano)
			default:
				ns.String = fmt.Sprint(v)
			}
		}
		m[cols[i].Name] = ns
	}
	return m
}
