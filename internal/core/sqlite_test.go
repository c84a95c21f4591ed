package core

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite" // pure Go SQLite driver for tests

	"github.com/coregx/strata/q"
)

// TestUser mirrors the test_users table.
type TestUser struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

// openSQLitePool opens an in-memory SQLite pool on the pure Go driver.
// A single connection keeps every statement on the same memory database.
func openSQLitePool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	base := []Option{
		WithDriverName("sqlite"),
		WithMaxOpenConns(1),
		WithMaxIdleConns(1),
	}
	pool, err := Open("sqlite", ":memory:", append(base, opts...)...)
	if err != nil {
		t.Fatalf("open sqlite pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func createUsersTable(t *testing.T, pool *Pool) {
	t.Helper()
	_, err := pool.Execute(context.Background(), q.SQL(`CREATE TABLE IF NOT EXISTS test_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL
	)`))
	if err != nil {
		t.Fatalf("create test_users: %v", err)
	}
}

func insertUser(t *testing.T, pool *Pool, name, email string) int64 {
	t.Helper()
	res, err := pool.Execute(context.Background(),
		q.SQL("insert into test_users (name, email) values (?, ?)", name, email))
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, ok := res.RowKey.(int64)
	if !ok {
		t.Fatalf("RowKey = %v (%T), want generated int64", res.RowKey, res.RowKey)
	}
	return id
}

func TestSQLiteRoundTrip(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	id := insertUser(t, pool, "alice", "alice@example.com")
	if id == 0 {
		t.Fatal("generated key is zero")
	}

	res, err := pool.Execute(ctx, q.SQL("select id, name, email from test_users where id = ?", id))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	row := res.Map(0)
	if row["name"] != "alice" {
		t.Errorf("name = %v, want alice", row["name"])
	}
	if row["email"] != "alice@example.com" {
		t.Errorf("email = %v, want alice@example.com", row["email"])
	}
}

func TestSQLiteExecReportsAffectedRows(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	insertUser(t, pool, "alice", "a@example.com")
	insertUser(t, pool, "bob", "b@example.com")

	res, err := pool.Execute(ctx, q.SQL("update test_users set email = ?", "all@example.com"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.RowsAffected != 2 {
		t.Errorf("RowsAffected = %d, want 2", res.RowsAffected)
	}
}

func TestSQLiteMultiQuery(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	insertUser(t, pool, "alice", "a@example.com")

	results, err := pool.Query(ctx,
		q.SQL("select count(*) from test_users"),
		q.SQL("select name from test_users where name = ?", "alice"),
	)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	count, err := toInt64(results[0].Value())
	if err != nil || count != 1 {
		t.Errorf("count = %v (%v), want 1", results[0].Value(), err)
	}
	if results[1].Value() != "alice" {
		t.Errorf("name = %v, want alice", results[1].Value())
	}
}

func TestSQLiteBatchExecutes(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	_, err := pool.Execute(ctx, q.Batch(
		q.SQL("insert into test_users (name, email) values ('a', 'a@x')"),
		q.SQL("insert into test_users (name, email) values ('b', 'b@x')"),
	))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	res, err := pool.Execute(ctx, q.SQL("select count(*) from test_users"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n, _ := toInt64(res.Value()); n != 2 {
		t.Errorf("count = %v, want 2", res.Value())
	}
}

func TestSQLiteNoRowsSentinel(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	res, err := pool.Execute(ctx, q.SQL("select * from test_users where id = ?", 999))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !res.Empty() {
		t.Error("expected an empty result")
	}
	var u TestUser
	if err := res.ScanStruct(&u); !errors.Is(err, ErrNoRows) {
		t.Errorf("ScanStruct on empty result = %v, want ErrNoRows", err)
	}
}

func TestSQLiteNullStringMaps(t *testing.T) {
	pool := openSQLitePool(t)
	ctx := context.Background()

	_, err := pool.Execute(ctx, q.SQL(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := pool.Execute(ctx, q.SQL("insert into notes (id, body) values (1, 'hello'), (2, null)")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := pool.Execute(ctx, q.SQL("select id, body from notes order by id"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	maps := res.NullStringMaps()
	if len(maps) != 2 {
		t.Fatalf("maps = %d, want 2", len(maps))
	}
	if got := maps[0].String("body"); got != "hello" {
		t.Errorf("body[0] = %q, want hello", got)
	}
	if !maps[1].IsNull("body") {
		t.Error("body[1] should be null")
	}
	if maps[1].String("body") != "" {
		t.Errorf("null body renders %q, want empty", maps[1].String("body"))
	}
}

func TestSQLiteTransactionPersistsOnCommit(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	err := pool.Transaction(ctx, nil, func(tx *Tx) error {
		_, err := tx.Execute(ctx, q.SQL("insert into test_users (name, email) values (?, ?)", "alice", "a@x"))
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	res, err := pool.Execute(ctx, q.SQL("select count(*) from test_users"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n, _ := toInt64(res.Value()); n != 1 {
		t.Errorf("count = %v, want 1", res.Value())
	}
}

func TestSQLiteTransactionDiscardsOnError(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	boom := errors.New("abort")
	err := pool.Transaction(ctx, nil, func(tx *Tx) error {
		if _, err := tx.Execute(ctx, q.SQL("insert into test_users (name, email) values (?, ?)", "alice", "a@x")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transaction error = %v, want %v", err, boom)
	}

	res, err := pool.Execute(ctx, q.SQL("select count(*) from test_users"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n, _ := toInt64(res.Value()); n != 0 {
		t.Errorf("count = %v, want 0 after rollback", res.Value())
	}
}

func TestSQLiteNestedTransactionPartialRollback(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	boom := errors.New("inner abort")
	err := pool.Transaction(ctx, nil, func(tx *Tx) error {
		if _, err := tx.Execute(ctx, q.SQL("insert into test_users (name, email) values ('outer', 'o@x')")); err != nil {
			return err
		}
		inner := tx.Transaction(ctx, func(nested *Tx) error {
			if _, err := nested.Execute(ctx, q.SQL("insert into test_users (name, email) values ('inner', 'i@x')")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(inner, boom) {
			t.Errorf("nested error = %v, want %v", inner, boom)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	// Only the outer insert survives: the nested scope rolled back to its
	// savepoint, the outer transaction committed.
	res, err := pool.Execute(ctx, q.SQL("select name from test_users order by name"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	if res.Value() != "outer" {
		t.Errorf("surviving row = %v, want outer", res.Value())
	}
}

func TestSQLiteDeeplyNestedTransactions(t *testing.T) {
	pool := openSQLitePool(t)
	createUsersTable(t, pool)
	ctx := context.Background()

	err := pool.Transaction(ctx, nil, func(tx *Tx) error {
		return tx.Transaction(ctx, func(l2 *Tx) error {
			return l2.Transaction(ctx, func(l3 *Tx) error {
				_, err := l3.Execute(ctx, q.SQL("insert into test_users (name, email) values ('deep', 'd@x')"))
				return err
			})
		})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	res, err := pool.Execute(ctx, q.SQL("select count(*) from test_users"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n, _ := toInt64(res.Value()); n != 1 {
		t.Errorf("count = %v, want 1", res.Value())
	}
}
