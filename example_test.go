package strata_test

import (
	"context"
	"fmt"
	"log"

	"github.com/coregx/strata"
	"github.com/coregx/strata/q"
)

func Example() {
	pool, err := strata.Open("sqlite", ":memory:", strata.WithDriverName("sqlite"))
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	ctx := context.Background()
	if _, err := pool.Execute(ctx, q.SQL("create table books (id integer primary key, title text)")); err != nil {
		log.Fatal(err)
	}

	if _, err := pool.Reference("books").Append(ctx,
		map[string]any{"id": 1, "title": "The Go Programming Language"},
	); err != nil {
		log.Fatal(err)
	}

	res, err := pool.Reference("books").
		Columns("title").
		Where(strata.Filter{"id": 1}).
		One().
		Load(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Value())
	// Output: The Go Programming Language
}

func ExamplePool_Transaction() {
	pool, err := strata.Open("sqlite", ":memory:", strata.WithDriverName("sqlite"))
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	ctx := context.Background()
	if _, err := pool.Execute(ctx, q.SQL("create table accounts (id integer primary key, balance integer)")); err != nil {
		log.Fatal(err)
	}
	if _, err := pool.Reference("accounts").Append(ctx,
		map[string]any{"id": 1, "balance": 100},
		map[string]any{"id": 2, "balance": 0},
	); err != nil {
		log.Fatal(err)
	}

	// The function reruns on serialization conflicts, up to Retries times,
	// so it must be safe to repeat.
	opts := &strata.TxOptions{Retries: 10}
	err = pool.Transaction(ctx, opts, func(tx *strata.Tx) error {
		if _, err := tx.Execute(ctx, q.SQL("update accounts set balance = balance - ? where id = ?", 25, 1)); err != nil {
			return err
		}
		_, err := tx.Execute(ctx, q.SQL("update accounts set balance = balance + ? where id = ?", 25, 2))
		return err
	})
	if err != nil {
		log.Fatal(err)
	}

	res, err := pool.Execute(ctx, q.SQL("select balance from accounts order by id"))
	if err != nil {
		log.Fatal(err)
	}
	for _, row := range res.Rows {
		fmt.Println(row[0])
	}
	// Output:
	// 75
	// 25
}
