package dialects

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/coregx/strata/q"
)

func init() {
	d := &Dialect{
		Name:             "cockroach",
		Driver:           "pgx/v5",
		MultiStatement:   false,
		CockroachRestart: true,
		Returning:        ReturnReturning,
		Placeholder:      pgPlaceholder,
		QuoteIdent:       doubleQuoteIdent,
		Paging:           limitOffsetPaging,
		LockClause:       pgLockClause,
		ErrorInfo:        crdbErrorInfo,
		Retryable:        pgRetryable,
		Connector:        crdbConnector,
	}
	standardSavepoints(d)
	d.Upsert = func(spec UpsertSpec) (*q.Query, error) { return crdbUpsert(d, spec) }
	Register(d, "cockroach", "cockroachdb", "crdb")
}

// crdbUpsert prefers the ON CONFLICT form when key columns are known and
// falls back to CockroachDB's native unconditional UPSERT when they are
// not:
//
//	upsert into t (id, name) values ($1, $2) returning *
func crdbUpsert(d *Dialect, spec UpsertSpec) (*q.Query, error) {
	if len(spec.Keys) > 0 {
		return conflictUpsert(d, spec)
	}
	var sb strings.Builder
	sb.WriteString("upsert into ")
	sb.WriteString(d.SafeIdent(spec.Table))
	sb.WriteString(" (")
	sb.WriteString(d.SafeIdentList(spec.Columns))
	sb.WriteString(") values ? returning *")
	return q.SQL(sb.String(), q.Values(spec.Values...)), nil
}

// crdbErrorInfo maps a pgx error to its SQLSTATE. pgx exposes no separate
// driver-local code, so both fields carry the SQLSTATE.
func crdbErrorInfo(err error) (string, string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.Code, true
}

// crdbConnector builds a pgx stdlib connector with per-connection
// credentials applied to the parsed config.
func crdbConnector(dsn, identity, secret string) (driver.Connector, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if identity != "" {
		cfg.User = identity
		cfg.Password = secret
	}
	return stdlib.GetConnector(*cfg), nil
}
