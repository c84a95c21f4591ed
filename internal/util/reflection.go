package util

import (
	"errors"
	"reflect"
	"strings"
)

// KeyInfo describes the key fields of a model struct. Composite keys keep
// struct declaration order.
type KeyInfo struct {
	Fields  []reflect.StructField
	Values  []reflect.Value
	Columns []string
}

// IsSingle reports whether this is a single-column key.
func (k *KeyInfo) IsSingle() bool {
	return len(k.Columns) == 1
}

// IsComposite reports whether this is a composite key.
func (k *KeyInfo) IsComposite() bool {
	return len(k.Columns) > 1
}

// parseDBTag splits a db tag into the column name and the pk flag.
//
// Supported formats:
//   - "column"     -> column, not a key
//   - "column,pk"  -> column, key member
//   - "-"          -> skipped field
func parseDBTag(tag string) (column string, isKey bool) {
	parts := strings.Split(tag, ",")
	column = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "pk" {
			isKey = true
			break
		}
	}
	return column, isKey
}

// FindKeyFields locates the key fields of a model struct.
//
// Priority:
//  1. Fields tagged db:"column,pk", in declaration order.
//  2. A field named ID, using its db tag for the column when present.
//  3. A field named Id.
func FindKeyFields(v reflect.Value) (*KeyInfo, error) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, errors.New("FindKeyFields: nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, errors.New("FindKeyFields: not a struct")
	}

	t := v.Type()
	info := &KeyInfo{}
	idIndex, idLowerIndex := -1, -1

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		switch field.Name {
		case "ID":
			idIndex = i
		case "Id":
			idLowerIndex = i
		}

		tag, hasTag := field.Tag.Lookup("db")
		if !hasTag {
			continue
		}
		column, isKey := parseDBTag(tag)
		if column == "-" || !isKey {
			continue
		}
		info.Fields = append(info.Fields, field)
		info.Values = append(info.Values, v.Field(i))
		info.Columns = append(info.Columns, column)
	}

	if len(info.Columns) > 0 {
		return info, nil
	}

	fallback := idIndex
	if fallback < 0 {
		fallback = idLowerIndex
	}
	if fallback < 0 {
		return nil, errors.New("FindKeyFields: no key field found")
	}

	field := t.Field(fallback)
	column := "id"
	if tag, ok := field.Tag.Lookup("db"); ok && tag != "" {
		if col, _ := parseDBTag(tag); col != "" && col != "-" {
			column = col
		}
	}
	return &KeyInfo{
		Fields:  []reflect.StructField{field},
		Values:  []reflect.Value{v.Field(fallback)},
		Columns: []string{column},
	}, nil
}

// FindKeyField is the single-key form of FindKeyFields. Composite keys are
// an error here.
func FindKeyField(v reflect.Value) (reflect.StructField, reflect.Value, error) {
	info, err := FindKeyFields(v)
	if err != nil {
		return reflect.StructField{}, reflect.Value{}, err
	}
	if info.IsComposite() {
		return reflect.StructField{}, reflect.Value{},
			errors.New("FindKeyField: composite key, use FindKeyFields")
	}
	return info.Fields[0], info.Values[0], nil
}

// StructToMap converts a model struct to a column-value map using db tags.
//
// Rules:
//   - Unexported fields are skipped.
//   - db:"-" fields are skipped.
//   - db:"column" or db:"column,pk" maps to column.
//   - Untagged fields use the lowercased field name.
//   - Zero values are included.
func StructToMap(data any) (map[string]any, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, errors.New("StructToMap: nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, errors.New("StructToMap: expected struct, got " + v.Kind().String())
	}

	t := v.Type()
	result := make(map[string]any, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		column := strings.ToLower(field.Name)
		if tag, ok := field.Tag.Lookup("db"); ok {
			col, _ := parseDBTag(tag)
			if col == "-" {
				continue
			}
			if col != "" {
				column = col
			}
		}

		result[column] = v.Field(i).Interface()
	}

	return result, nil
}

// IsKeyZero reports whether a key value is zero and therefore expects the
// backend to generate it. Non-numeric keys (string, UUID) never
// auto-populate.
func IsKeyZero(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr:
		if v.IsNil() {
			return true
		}
		return IsKeyZero(v.Elem())
	default:
		return false
	}
}

// SetKeyValue writes a backend-generated row key into a struct field.
// Nil pointer fields are allocated first. Overflowing the field type is an
// error rather than a silent truncation.
func SetKeyValue(field reflect.Value, id int64) error {
	if !field.IsValid() {
		return errors.New("SetKeyValue: invalid field")
	}
	if field.Kind() == reflect.Ptr {
		if !field.CanSet() {
			return errors.New("SetKeyValue: field is not settable")
		}
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return SetKeyValue(field.Elem(), id)
	}
	if !field.CanSet() {
		return errors.New("SetKeyValue: field is not settable")
	}

	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.OverflowInt(id) {
			return errors.New("SetKeyValue: " + field.Kind().String() + " overflow")
		}
		field.SetInt(id)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if id < 0 || field.OverflowUint(uint64(id)) {
			return errors.New("SetKeyValue: " + field.Kind().String() + " overflow")
		}
		field.SetUint(uint64(id))
	default:
		return errors.New("SetKeyValue: unsupported type " + field.Kind().String())
	}
	return nil
}
