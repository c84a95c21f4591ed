//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coregx/strata"
	"github.com/coregx/strata/q"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// Setup encapsulates a pool and its backing container, if any.
type Setup struct {
	Pool      *strata.Pool
	Container testcontainers.Container
	Dialect   string
}

// Close cleans up database resources.
func (s *Setup) Close() {
	if s.Pool != nil {
		s.Pool.Close() //nolint:errcheck
	}
	if s.Container != nil {
		s.Container.Terminate(context.Background()) //nolint:errcheck
	}
}

// SetupPostgres creates a PostgreSQL test pool.
// Uses testcontainers if available, falls back to env DSN.
func SetupPostgres(t *testing.T, opts ...strata.Option) *Setup {
	ctx := context.Background()

	// Check for manual DSN first (allows testing without Docker)
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		pool, err := strata.Open("postgres", dsn, opts...)
		require.NoError(t, err)
		return &Setup{Pool: pool, Dialect: "postgres"}
	}

	pgContainer, err := postgres.Run(
		ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skip("Docker not available for PostgreSQL integration tests: " + err.Error())
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := strata.Open("postgres", dsn, opts...)
	require.NoError(t, err)

	return &Setup{
		Pool:      pool,
		Container: pgContainer,
		Dialect:   "postgres",
	}
}

// SetupMySQL creates a MySQL test pool.
// Uses testcontainers if available, falls back to env DSN.
func SetupMySQL(t *testing.T, opts ...strata.Option) *Setup {
	ctx := context.Background()

	if dsn := os.Getenv("MYSQL_TEST_DSN"); dsn != "" {
		// parseTime=true makes DATETIME columns scan as time.Time.
		if !strings.Contains(dsn, "parseTime=true") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		pool, err := strata.Open("mysql", dsn, opts...)
		require.NoError(t, err)
		return &Setup{Pool: pool, Dialect: "mysql"}
	}

	mysqlContainer, err := mysql.Run(
		ctx,
		"mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("user"),
		mysql.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skip("Docker not available for MySQL integration tests: " + err.Error())
	}

	dsn, err := mysqlContainer.ConnectionString(ctx)
	require.NoError(t, err)
	dsn += "?parseTime=true"

	pool, err := strata.Open("mysql", dsn, opts...)
	require.NoError(t, err)

	return &Setup{
		Pool:      pool,
		Container: mysqlContainer,
		Dialect:   "mysql",
	}
}

// SetupSQLite creates an in-memory SQLite pool.
// Always works, no external dependencies.
func SetupSQLite(t *testing.T, opts ...strata.Option) *Setup {
	base := []strata.Option{
		strata.WithDriverName("sqlite"),
		strata.WithMaxOpenConns(1),
		strata.WithMaxIdleConns(1),
	}
	pool, err := strata.Open("sqlite", ":memory:", append(base, opts...)...)
	require.NoError(t, err)

	return &Setup{
		Pool:    pool,
		Dialect: "sqlite",
	}
}

// CreateUsersTable creates the users table in the target dialect's DDL.
func CreateUsersTable(t *testing.T, s *Setup) {
	var createSQL string

	switch s.Dialect {
	case "postgres":
		createSQL = `
			CREATE TABLE IF NOT EXISTS users (
				id SERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				active BOOLEAN DEFAULT TRUE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`
	case "mysql":
		createSQL = `
			CREATE TABLE IF NOT EXISTS users (
				id INT AUTO_INCREMENT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				active BOOLEAN DEFAULT TRUE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`
	case "sqlite":
		createSQL = `
			CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				active BOOLEAN DEFAULT TRUE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`
	}

	_, err := s.Pool.Execute(context.Background(), q.SQL(createSQL))
	require.NoError(t, err)
}

// DropUsersTable removes the users table between subtests.
func DropUsersTable(t *testing.T, s *Setup) {
	_, err := s.Pool.Execute(context.Background(), q.SQL("DROP TABLE IF EXISTS users"))
	require.NoError(t, err)
}
