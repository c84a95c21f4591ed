package q

import (
	"reflect"
	"strconv"
	"testing"
)

func pgPlaceholder(i int) string {
	return "$" + strconv.Itoa(i+1)
}

func pgOptions() RenderOptions {
	return RenderOptions{Placeholder: pgPlaceholder}
}

func TestSQL_SingleParameter(t *testing.T) {
	query := SQL("select * from t where id = ?", 5)

	r := query.Render(pgOptions())
	if r.Text != "select * from t where id = $1" {
		t.Errorf("Expected SQL %q, got %q", "select * from t where id = $1", r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{5}) {
		t.Errorf("Expected args [5], got %v", r.Args)
	}
}

func TestSQL_FragmentInvariant(t *testing.T) {
	cases := []struct {
		name  string
		query *Query
	}{
		{"no params", SQL("select 1")},
		{"one param", SQL("select ?", 1)},
		{"three params", SQL("? + ? + ?", 1, 2, 3)},
		{"trailing param", SQL("select * from t where id = ?", 7)},
		{"nested", SQL("select * from t where id in ?", SQL("(?, ?)", 1, 2))},
		{"join", Join(" union ", SQL("select ?", 1), SQL("select ?", 2))},
		{"ident slots", SQL("select [[name]] from {{users}} where id = ?", 3)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := tc.query.Fragments(), tc.query.Slots()+1; got != want {
				t.Errorf("Fragments() = %d, want Slots()+1 = %d", got, want)
			}
		})
	}
}

func TestSQL_EscapedQuestionMark(t *testing.T) {
	query := SQL("select 'a??b' from t where x = ?", 1)

	r := query.Render(pgOptions())
	expected := "select 'a?b' from t where x = $1"
	if r.Text != expected {
		t.Errorf("Expected SQL %q, got %q", expected, r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{1}) {
		t.Errorf("Expected args [1], got %v", r.Args)
	}
}

func TestSQL_ArityMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic for placeholder/argument mismatch")
		}
	}()
	SQL("select * from t where id = ?", 1, 2)
}

func TestSQL_NestedQueryFlattening(t *testing.T) {
	inner := SQL("select id from roles where name = ?", "admin")
	outer := SQL("select * from users where role_id in (?) and active = ?", inner, true)

	r := outer.Render(pgOptions())
	expected := "select * from users where role_id in (select id from roles where name = $1) and active = $2"
	if r.Text != expected {
		t.Errorf("Expected SQL %q, got %q", expected, r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{"admin", true}) {
		t.Errorf("Expected args [admin true], got %v", r.Args)
	}
}

func TestRender_PlaceholderStylesDifferOnlyAtSlots(t *testing.T) {
	query := SQL("select * from t where a = ? and b = ? and c = ?", 1, "x", nil)

	pg := query.Render(pgOptions())
	my := query.Render(RenderOptions{Placeholder: func(int) string { return "?" }})

	if !reflect.DeepEqual(pg.Args, my.Args) {
		t.Errorf("Renders produced different args: %v vs %v", pg.Args, my.Args)
	}

	expectedPg := "select * from t where a = $1 and b = $2 and c = $3"
	expectedMy := "select * from t where a = ? and b = ? and c = ?"
	if pg.Text != expectedPg {
		t.Errorf("Expected %q, got %q", expectedPg, pg.Text)
	}
	if my.Text != expectedMy {
		t.Errorf("Expected %q, got %q", expectedMy, my.Text)
	}
}

func TestRender_SQLServerPlaceholders(t *testing.T) {
	query := SQL("update t set a = ? where id = ?", 1, 2)

	r := query.Render(RenderOptions{Placeholder: func(i int) string {
		return "@p" + strconv.Itoa(i+1)
	}})
	expected := "update t set a = @p1 where id = @p2"
	if r.Text != expected {
		t.Errorf("Expected %q, got %q", expected, r.Text)
	}
}

func TestIdentQuoting(t *testing.T) {
	query := SQL("select [[name]], [[u.role]] from {{public.users}} where id = ?", 1)

	r := query.Render(pgOptions())
	expected := `select "name", "u"."role" from "public"."users" where id = $1`
	if r.Text != expected {
		t.Errorf("Expected %q, got %q", expected, r.Text)
	}
}

func TestIdent_EmbeddedQuoteDoubling(t *testing.T) {
	r := Ident(`wei"rd`).Render(RenderOptions{})
	if r.Text != `"wei""rd"` {
		t.Errorf("Expected doubled embedded quote, got %q", r.Text)
	}
}

func TestRaw_BypassesParameterization(t *testing.T) {
	query := SQL("savepoint ?", Raw("_1_1"))

	r := query.Render(pgOptions())
	if r.Text != "savepoint _1_1" {
		t.Errorf("Expected %q, got %q", "savepoint _1_1", r.Text)
	}
	if len(r.Args) != 0 {
		t.Errorf("Expected no args for raw fragment, got %v", r.Args)
	}
}

func TestJoin_PreservesParameterOrder(t *testing.T) {
	parts := []*Query{
		SQL("a = ?", 1),
		SQL("b = ?", 2),
		SQL("c in (?, ?)", 3, 4),
	}
	query := Join(" and ", parts...)

	r := query.Render(pgOptions())
	expected := "a = $1 and b = $2 and c in ($3, $4)"
	if r.Text != expected {
		t.Errorf("Expected %q, got %q", expected, r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{1, 2, 3, 4}) {
		t.Errorf("Expected args [1 2 3 4], got %v", r.Args)
	}
}

func TestBatch_StatementCounting(t *testing.T) {
	cases := []struct {
		name       string
		query      *Query
		statements int
	}{
		{"single", SQL("select 1"), 1},
		{"two", Batch(SQL("select 1"), SQL("select 2")), 2},
		{"three with params", Batch(SQL("insert into t values (?)", 1), SQL("insert into t values (?)", 2), SQL("select * from t")), 3},
		{"trailing semicolon", SQL("select 1;"), 1},
		{"empty", SQL(""), 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.query.Render(pgOptions())
			if r.Statements != tc.statements {
				t.Errorf("Expected %d statements, got %d (text %q)", tc.statements, r.Statements, r.Text)
			}
			if got := tc.query.Statements(); got != tc.statements {
				t.Errorf("Expected Statements() %d, got %d", tc.statements, got)
			}
		})
	}
}

func TestBatch_ParameterIndexesSpanStatements(t *testing.T) {
	query := Batch(
		SQL("insert into t values (?)", "a"),
		SQL("insert into t values (?)", "b"),
	)

	r := query.Render(pgOptions())
	expected := "insert into t values ($1); insert into t values ($2)"
	if r.Text != expected {
		t.Errorf("Expected %q, got %q", expected, r.Text)
	}
}

func TestParams_FlattenedEncounterOrder(t *testing.T) {
	query := SQL("select * from t where a = ? and b in ? and c = ?",
		1, SQL("(?, ?)", 2, 3), 4)

	got := query.Params()
	if !reflect.DeepEqual(got, []any{1, 2, 3, 4}) {
		t.Errorf("Expected flattened params [1 2 3 4], got %v", got)
	}
}

func TestString_DebugRender(t *testing.T) {
	query := SQL("select * from t where id = ?", 9)
	if got := query.String(); got != "select * from t where id = ?" {
		t.Errorf("Expected debug render with ?, got %q", got)
	}
}
