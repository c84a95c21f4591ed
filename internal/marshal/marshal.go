// Package marshal converts host values to and from the representations the
// backend drivers expect. Outbound, it turns rich Go values (maps, structs,
// nested slices) into driver-safe parameters; inbound, it normalizes driver
// quirks such as MySQL returning []byte for text columns so results look
// the same across backends.
package marshal

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Bind converts one parameter value into a form the dialect's driver
// accepts. Scalars, []byte, time.Time, and driver.Valuer implementations
// pass through; maps, structs, and non-byte slices are JSON-encoded as
// text, which every supported backend coerces into its JSON column type.
func Bind(dialect string, v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case driver.Valuer:
		return value, nil
	case time.Time, *time.Time:
		return value, nil
	case []byte:
		return value, nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32,
		float32, float64:
		return value, nil
	case uint64:
		// The PostgreSQL wire protocol has no unsigned integer type.
		if dialect == "postgres" || dialect == "cockroach" {
			if value > math.MaxInt64 {
				return nil, fmt.Errorf("marshal: uint64 value %d overflows int64", value)
			}
			return int64(value), nil
		}
		return value, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal: cannot encode %T: %w", v, err)
		}
		return string(encoded), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return Bind(dialect, rv.Elem().Interface())
	}
	return v, nil
}

// BindAll converts a parameter slice in place order, failing on the first
// unconvertible value.
func BindAll(dialect string, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		bound, err := Bind(dialect, arg)
		if err != nil {
			return nil, fmt.Errorf("marshal: argument %d: %w", i, err)
		}
		out[i] = bound
	}
	return out, nil
}

// textualMySQLTypes lists the MySQL column types whose values arrive as
// []byte from the driver but are text to the caller.
var textualMySQLTypes = map[string]bool{
	"CHAR": true, "VARCHAR": true, "TEXT": true, "TINYTEXT": true,
	"MEDIUMTEXT": true, "LONGTEXT": true, "JSON": true, "ENUM": true,
	"SET": true, "DECIMAL": true, "DATE": true, "DATETIME": true,
	"TIMESTAMP": true, "TIME": true, "YEAR": true,
}

// Normalize converts one scanned value into the uniform result model.
// dbType is the driver-reported database type name for the column.
func Normalize(dialect, dbType string, v any) any {
	raw, isBytes := v.([]byte)
	if !isBytes {
		return v
	}
	switch dialect {
	case "mysql", "mariadb":
		if textualMySQLTypes[strings.ToUpper(dbType)] {
			return string(raw)
		}
	case "sqlite":
		// modernc and mattn both return TEXT as string already; []byte
		// here is a genuine blob.
	default:
		upper := strings.ToUpper(dbType)
		if strings.Contains(upper, "CHAR") || strings.Contains(upper, "TEXT") {
			return string(raw)
		}
	}
	return v
}

// NormalizeRow converts a scanned row in place, one column at a time.
func NormalizeRow(dialect string, dbTypes []string, row []any) {
	for i, v := range row {
		dbType := ""
		if i < len(dbTypes) {
			dbType = dbTypes[i]
		}
		row[i] = Normalize(dialect, dbType, v)
	}
}
