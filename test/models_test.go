//go:build integration
// +build integration

package test

// User mirrors the users table created by CreateUsersTable. Columns not
// listed here keep their defaults and are ignored on scan.
type User struct {
	ID    int64  `db:"id,pk"`
	Name  string `db:"name"`
	Email string `db:"email"`
}
