package q

import (
	"reflect"
	"testing"
)

func TestNamed_SingleParameter(t *testing.T) {
	query, err := Named("select * from users where id={:id}", Params{"id": 1})
	if err != nil {
		t.Fatalf("Named failed: %v", err)
	}

	r := query.Render(pgOptions())
	if r.Text != "select * from users where id=$1" {
		t.Errorf("Expected SQL %q, got %q", "select * from users where id=$1", r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{1}) {
		t.Errorf("Expected args [1], got %v", r.Args)
	}
}

func TestNamed_MultipleParameters(t *testing.T) {
	query, err := Named("select * from users where id={:id} and status={:status} and role={:role}",
		Params{"id": 1, "status": "active", "role": "admin"})
	if err != nil {
		t.Fatalf("Named failed: %v", err)
	}

	r := query.Render(pgOptions())
	expected := "select * from users where id=$1 and status=$2 and role=$3"
	if r.Text != expected {
		t.Errorf("Expected SQL %q, got %q", expected, r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{1, "active", "admin"}) {
		t.Errorf("Expected args in appearance order, got %v", r.Args)
	}
}

func TestNamed_RepeatedParameter(t *testing.T) {
	query, err := Named("select * from logs where actor={:id} or target={:id}", Params{"id": 7})
	if err != nil {
		t.Fatalf("Named failed: %v", err)
	}

	r := query.Render(pgOptions())
	expected := "select * from logs where actor=$1 or target=$2"
	if r.Text != expected {
		t.Errorf("Expected SQL %q, got %q", expected, r.Text)
	}
	if !reflect.DeepEqual(r.Args, []any{7, 7}) {
		t.Errorf("Expected repeated value bound per occurrence, got %v", r.Args)
	}
}

func TestNamed_MissingParameter(t *testing.T) {
	_, err := Named("select * from users where id={:id}", Params{})
	if err == nil {
		t.Fatal("Expected error for missing parameter")
	}
	if err.Error() != "missing parameter: id" {
		t.Errorf("Expected missing parameter error, got %v", err)
	}
}

func TestNamed_QuotingMarkers(t *testing.T) {
	query, err := Named("select [[name]] from {{users}} where [[id]]={:id}", Params{"id": 1})
	if err != nil {
		t.Fatalf("Named failed: %v", err)
	}

	pg := query.Render(pgOptions())
	expectedPg := `select "name" from "users" where "id"=$1`
	if pg.Text != expectedPg {
		t.Errorf("Expected %q, got %q", expectedPg, pg.Text)
	}

	my := query.Render(RenderOptions{
		Placeholder: func(int) string { return "?" },
		QuoteIdent: func(name string) string {
			return "`" + name + "`"
		},
	})
	expectedMy := "select `name` from `users` where `id`=?"
	if my.Text != expectedMy {
		t.Errorf("Expected %q, got %q", expectedMy, my.Text)
	}
}

func TestNamed_SchemaPrefixedQuoting(t *testing.T) {
	query, err := Named("select count(*) from {{analytics.page_views}}", Params{})
	if err != nil {
		t.Fatalf("Named failed: %v", err)
	}

	r := query.Render(pgOptions())
	expected := `select count(*) from "analytics"."page_views"`
	if r.Text != expected {
		t.Errorf("Expected %q, got %q", expected, r.Text)
	}
}
