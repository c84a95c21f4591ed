package core

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// scanner maps materialized result rows into structs by db tag, with
// struct metadata cached per type.
type scanner struct {
	mu    sync.RWMutex
	cache map[reflect.Type]*structInfo
}

type structInfo struct {
	fields []*fieldInfo
}

// fieldInfo describes one scannable struct field.
type fieldInfo struct {
	// index is the field index path, supporting embedded structs.
	index []int
	// dbName is the lowercased column name from the db tag or field name.
	dbName string
}

var globalScanner = &scanner{cache: make(map[reflect.Type]*structInfo)}

func (s *scanner) getStructInfo(typ reflect.Type) (*structInfo, error) {
	s.mu.RLock()
	info, ok := s.cache[typ]
	s.mu.RUnlock()
	if ok {
		return info, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.cache[typ]; ok {
		return info, nil
	}
	info, err := buildStructInfo(typ, nil)
	if err != nil {
		return nil, err
	}
	s.cache[typ] = info
	return info, nil
}

func buildStructInfo(typ reflect.Type, index []int) (*structInfo, error) {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("scanner: expected struct, got %s", typ.Kind())
	}

	info := &structInfo{}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldIndex := append(append([]int{}, index...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			nested, err := buildStructInfo(field.Type, fieldIndex)
			if err != nil {
				return nil, err
			}
			info.fields = append(info.fields, nested.fields...)
			continue
		}

		dbName := field.Name
		if tag, ok := field.Tag.Lookup("db"); ok {
			if tag == "-" {
				continue
			}
			if comma := strings.Index(tag, ","); comma >= 0 {
				tag = tag[:comma]
			}
			if tag != "" {
				dbName = tag
			}
		}
		info.fields = append(info.fields, &fieldInfo{
			index:  fieldIndex,
			dbName: strings.ToLower(dbName),
		})
	}
	return info, nil
}

// scanRowInto assigns one materialized row to a struct. Columns without a
// matching field are ignored.
func scanRowInto(cols []ColumnInfo, row []any, dest any) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr || destValue.IsNil() {
		return fmt.Errorf("scanner: dest must be a non-nil pointer to struct, got %T", dest)
	}
	destValue = destValue.Elem()
	if destValue.Kind() != reflect.Struct {
		return fmt.Errorf("scanner: dest must be pointer to struct, got pointer to %s", destValue.Kind())
	}

	info, err := globalScanner.getStructInfo(destValue.Type())
	if err != nil {
		return err
	}
	fieldMap := make(map[string]*fieldInfo, len(info.fields))
	for _, f := range info.fields {
		fieldMap[f.dbName] = f
	}

	for i := range cols {
		f, ok := fieldMap[strings.ToLower(cols[i].Name)]
		if !ok {
			continue
		}
		fieldValue := destValue
		for _, idx := range f.index {
			fieldValue = fieldValue.Field(idx)
		}
		if err := assignValue(fieldValue, row[i]); err != nil {
			return fmt.Errorf("scanner: column %s: %w", cols[i].Name, err)
		}
	}
	return nil
}

// scanRowsInto assigns all rows to *[]T or *[]*T where T is a struct.
func scanRowsInto(cols []ColumnInfo, rows [][]any, dest any) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr || destValue.IsNil() {
		return fmt.Errorf("scanner: dest must be a non-nil pointer to slice, got %T", dest)
	}
	sliceValue := destValue.Elem()
	if sliceValue.Kind() != reflect.Slice {
		return fmt.Errorf("scanner: dest must be pointer to slice, got pointer to %s", sliceValue.Kind())
	}

	elemType := sliceValue.Type().Elem()
	isPtr := elemType.Kind() == reflect.Ptr
	if isPtr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		return fmt.Errorf("scanner: slice element must be struct or *struct, got %s", elemType.Kind())
	}

	for _, row := range rows {
		elemValue := reflect.New(elemType)
		if err := scanRowInto(cols, row, elemValue.Interface()); err != nil {
			return err
		}
		if isPtr {
			sliceValue.Set(reflect.Append(sliceValue, elemValue))
		} else {
			sliceValue.Set(reflect.Append(sliceValue, elemValue.Elem()))
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// assignValue converts a materialized row value into a struct field.
// Drivers disagree on wire shapes (MySQL text protocol sends numbers as
// bytes, SQLite stores timestamps as text), so string forms parse into
// numeric and time fields.
func assignValue(field reflect.Value, value any) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := assignValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}
	if field.CanAddr() {
		if sc, ok := field.Addr().Interface().(sql.Scanner); ok {
			return sc.Scan(value)
		}
	}

	v := reflect.ValueOf(value)
	if v.Type() == field.Type() {
		field.Set(v)
		return nil
	}

	switch field.Kind() {
	case reflect.Bool:
		switch tv := value.(type) {
		case bool:
			field.SetBool(tv)
		case int64:
			field.SetBool(tv != 0)
		case string:
			b, err := strconv.ParseBool(tv)
			if err != nil {
				return fmt.Errorf("cannot assign %q to bool", tv)
			}
			field.SetBool(b)
		case []byte:
			return assignValue(field, string(tv))
		default:
			return assignError(value, field)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(value)
		if err != nil {
			return err
		}
		if field.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, field.Type())
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(value)
		if err != nil {
			return err
		}
		if n < 0 || field.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, field.Type())
		}
		field.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		switch tv := value.(type) {
		case float64:
			field.SetFloat(tv)
		case float32:
			field.SetFloat(float64(tv))
		case int64:
			field.SetFloat(float64(tv))
		case string:
			f, err := strconv.ParseFloat(tv, 64)
			if err != nil {
				return fmt.Errorf("cannot assign %q to %s", tv, field.Type())
			}
			field.SetFloat(f)
		case []byte:
			return assignValue(field, string(tv))
		default:
			return assignError(value, field)
		}
	case reflect.String:
		switch tv := value.(type) {
		case string:
			field.SetString(tv)
		case []byte:
			field.SetString(string(tv))
		default:
			field.SetString(fmt.Sprint(tv))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			switch tv := value.(type) {
			case []byte:
				field.SetBytes(tv)
			case string:
				field.SetBytes([]byte(tv))
			default:
				return assignError(value, field)
			}
			return nil
		}
		return assignError(value, field)
	case reflect.Struct:
		if field.Type() == reflect.TypeOf(time.Time{}) {
			return assignTime(field, value)
		}
		return assignError(value, field)
	case reflect.Interface:
		if !v.Type().AssignableTo(field.Type()) {
			return assignError(value, field)
		}
		field.Set(v)
	default:
		return assignError(value, field)
	}
	return nil
}

func toInt64(value any) (int64, error) {
	switch tv := value.(type) {
	case int64:
		return tv, nil
	case int:
		return int64(tv), nil
	case int32:
		return int64(tv), nil
	case float64:
		return int64(tv), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(tv), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as integer", tv)
		}
		return n, nil
	case []byte:
		return toInt64(string(tv))
	}
	return 0, fmt.Errorf("cannot convert %T to integer", value)
}

func assignTime(field reflect.Value, value any) error {
	switch tv := value.(type) {
	case time.Time:
		field.Set(reflect.ValueOf(tv))
		return nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, tv); err == nil {
				field.Set(reflect.ValueOf(t))
				return nil
			}
		}
		return fmt.Errorf("cannot parse %q as time", tv)
	case []byte:
		return assignTime(field, string(tv))
	}
	return fmt.Errorf("cannot convert %T to time.Time", value)
}

func assignError(value any, field reflect.Value) error {
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}
