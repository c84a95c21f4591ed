package core

import (
	"reflect"
	"strings"
	"testing"

	"github.com/coregx/strata/q"
)

func TestFilterCondition_Empty(t *testing.T) {
	cond, err := Filter{}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if cond != nil {
		t.Errorf("empty filter condition = %v, want nil", cond)
	}
}

// Keys render in sorted order so equal filters produce byte-identical SQL,
// which keeps the prepared statement cache effective.
func TestFilterCondition_SortedDeterministic(t *testing.T) {
	f := Filter{"zeta": 1, "alpha": 2, "mid": 3}
	cond, err := f.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	want := `"alpha" = ? and "mid" = ? and "zeta" = ?`
	if got := cond.String(); got != want {
		t.Errorf("sql = %q, want %q", got, want)
	}
	if params := cond.Params(); !reflect.DeepEqual(params, []any{2, 3, 1}) {
		t.Errorf("params = %v, want values in key order", params)
	}

	for i := 0; i < 20; i++ {
		again, err := f.Condition()
		if err != nil {
			t.Fatalf("condition: %v", err)
		}
		if again.String() != want {
			t.Fatalf("iteration %d rendered %q", i, again.String())
		}
	}
}

func TestFilterCondition_NilIsNull(t *testing.T) {
	cond, err := Filter{"deleted_at": nil}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if want := `"deleted_at" is null`; cond.String() != want {
		t.Errorf("sql = %q, want %q", cond.String(), want)
	}
	if params := cond.Params(); len(params) != 0 {
		t.Errorf("params = %v, want none", params)
	}
}

func TestFilterCondition_SliceBecomesIn(t *testing.T) {
	cond, err := Filter{"id": []int{1, 2, 3}}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if want := `"id" in (?, ?, ?)`; cond.String() != want {
		t.Errorf("sql = %q, want %q", cond.String(), want)
	}
	if params := cond.Params(); !reflect.DeepEqual(params, []any{1, 2, 3}) {
		t.Errorf("params = %v, want [1 2 3]", params)
	}
}

// An empty slice must not render "in ()", which most backends reject.
func TestFilterCondition_EmptySliceMatchesNothing(t *testing.T) {
	cond, err := Filter{"id": []string{}}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if want := "0=1"; cond.String() != want {
		t.Errorf("sql = %q, want %q", cond.String(), want)
	}
}

// []byte is a scalar blob value, not a list of candidate bytes.
func TestFilterCondition_ByteSliceIsScalar(t *testing.T) {
	blob := []byte{0x01, 0x02}
	cond, err := Filter{"digest": blob}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if want := `"digest" = ?`; cond.String() != want {
		t.Errorf("sql = %q, want %q", cond.String(), want)
	}
	if params := cond.Params(); !reflect.DeepEqual(params, []any{blob}) {
		t.Errorf("params = %v, want the blob itself", params)
	}
}

func TestFilterCondition_SubqueryBecomesIn(t *testing.T) {
	sub := q.SQL("select id from orders where total > ?", 100)
	cond, err := Filter{"id": sub, "status": "open"}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	want := `"id" in (select id from orders where total > ?) and "status" = ?`
	if got := cond.String(); got != want {
		t.Errorf("sql = %q, want %q", got, want)
	}
	if params := cond.Params(); !reflect.DeepEqual(params, []any{100, "open"}) {
		t.Errorf("params = %v, want subquery params first", params)
	}
}

func TestFilterCondition_DottedColumn(t *testing.T) {
	cond, err := Filter{"u.id": 7}.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if want := `"u"."id" = ?`; cond.String() != want {
		t.Errorf("sql = %q, want %q", cond.String(), want)
	}
}

func TestFilterCondition_InvalidKey(t *testing.T) {
	for _, key := range []string{"1starts_with_digit", "has space", `quo"te`, "semi;colon", ""} {
		_, err := Filter{key: 1}.Condition()
		if err == nil {
			t.Errorf("key %q accepted", key)
			continue
		}
		if !strings.Contains(err.Error(), "invalid column name") {
			t.Errorf("key %q error = %v", key, err)
		}
	}
}
