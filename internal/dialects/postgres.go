package dialects

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"

	"github.com/coregx/strata/q"
)

func init() {
	d := &Dialect{
		Name:           "postgres",
		Driver:         "postgres",
		MultiStatement: false,
		Returning:      ReturnReturning,
		Placeholder:    pgPlaceholder,
		QuoteIdent:     doubleQuoteIdent,
		Paging:         limitOffsetPaging,
		LockClause:     pgLockClause,
		ErrorInfo:      pgErrorInfo,
		Retryable:      pgRetryable,
		Connector:      pgConnector,
	}
	standardSavepoints(d)
	d.Upsert = func(spec UpsertSpec) (*q.Query, error) { return conflictUpsert(d, spec) }
	Register(d, "postgres", "postgresql", "pg")
}

func pgPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index+1)
}

func pgLockClause(mode LockMode) (string, string, error) {
	switch mode {
	case LockNone:
		return "", "", nil
	case LockUpdate:
		return "", "for update", nil
	case LockShare:
		return "", "for share", nil
	}
	return "", "", fmt.Errorf("unknown lock mode %d", mode)
}

// pgErrorInfo maps a lib/pq error to its condition name and SQLSTATE.
func pgErrorInfo(err error) (string, string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", "", false
	}
	return pqErr.Code.Name(), string(pqErr.Code), true
}

// pgRetryable classifies serialization_failure and deadlock_detected.
func pgRetryable(_, state string) bool {
	return state == "40001" || state == "40P01"
}

// pgConnector builds a lib/pq connector with the credentials resolved for
// this physical connection applied to the conninfo.
func pgConnector(dsn, identity, secret string) (driver.Connector, error) {
	dsn, err := postgresDSNWithCredentials(dsn, identity, secret)
	if err != nil {
		return nil, err
	}
	return pq.NewConnector(dsn)
}

// PostgresDSN injects identity/secret into a PostgreSQL conninfo. Used by
// notification listeners, which open their own dedicated connection
// outside the pool's connector.
func PostgresDSN(dsn, identity, secret string) (string, error) {
	return postgresDSNWithCredentials(dsn, identity, secret)
}

// postgresDSNWithCredentials injects identity/secret into a PostgreSQL
// conninfo, handling both the URL and the key=value forms. An empty
// identity leaves the DSN untouched.
func postgresDSNWithCredentials(dsn, identity, secret string) (string, error) {
	if identity == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid postgres DSN: %w", err)
		}
		if secret == "" {
			u.User = url.User(identity)
		} else {
			u.User = url.UserPassword(identity, secret)
		}
		return u.String(), nil
	}
	var sb strings.Builder
	sb.WriteString(dsn)
	if dsn != "" {
		sb.WriteString(" ")
	}
	sb.WriteString("user=")
	sb.WriteString(conninfoQuote(identity))
	if secret != "" {
		sb.WriteString(" password=")
		sb.WriteString(conninfoQuote(secret))
	}
	return sb.String(), nil
}

// conninfoQuote single-quotes a conninfo value when it needs it.
func conninfoQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
