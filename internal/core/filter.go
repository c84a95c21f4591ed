package core

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/coregx/strata/q"
)

// Filter expresses conjunctive conditions as a column-keyed map:
//
//	Filter{"status": "active", "org_id": 7}        -> status = ? and org_id = ?
//	Filter{"deleted_at": nil}                      -> deleted_at is null
//	Filter{"id": []int{1, 2, 3}}                   -> id in (?, ?, ?)
//	Filter{"id": q.SQL("select id from x")}        -> id in (select id from x)
//
// An empty slice matches nothing and renders a condition that is always
// false, so "in ()" never reaches the backend.
type Filter map[string]any

// filterKeyRegex constrains filter keys to plain, optionally dotted,
// column names. Anything else is rejected before it can reach SQL text.
var filterKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Condition renders the filter as a parameterized conjunction. Keys are
// sorted so the same filter always renders the same SQL, which keeps the
// statement cache effective. Returns nil for an empty filter.
func (f Filter) Condition() (*q.Query, error) {
	if len(f) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]*q.Query, 0, len(keys))
	for _, k := range keys {
		if !filterKeyRegex.MatchString(k) {
			return nil, fmt.Errorf("filter: invalid column name %q", k)
		}
		part, err := filterPart(k, f[k])
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return q.Join(" and ", parts...), nil
}

func filterPart(key string, value any) (*q.Query, error) {
	if value == nil {
		return q.SQL("[[" + key + "]] is null"), nil
	}
	if sub, ok := value.(*q.Query); ok {
		return q.SQL("[["+key+"]] in (?)", sub), nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		n := rv.Len()
		if n == 0 {
			return q.Raw("0=1"), nil
		}
		args := make([]any, n)
		for i := 0; i < n; i++ {
			args[i] = rv.Index(i).Interface()
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
		return q.SQL("[["+key+"]] in ("+placeholders+")", args...), nil
	}
	return q.SQL("[["+key+"]] = ?", value), nil
}
