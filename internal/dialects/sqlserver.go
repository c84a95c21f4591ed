package dialects

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/coregx/strata/q"
)

func init() {
	d := &Dialect{
		Name:           "sqlserver",
		Driver:         "sqlserver",
		MultiStatement: false,
		Returning:      ReturnOutput,
		Placeholder:    mssqlPlaceholder,
		QuoteIdent:     bracketIdent,
		Paging:         mssqlPaging,
		LockClause:     mssqlLockClause,
		SavepointSQL:   func(name string) string { return "save transaction " + name },
		RollbackToSQL:  func(name string) string { return "rollback transaction " + name },
		// SQL Server has no RELEASE; savepoints are left behind.
		ReleaseSQL: func(string) string { return "" },
		Upsert:     func(UpsertSpec) (*q.Query, error) { return nil, ErrUpsertUnsupported },
		ErrorInfo:  mssqlErrorInfo,
		Retryable:  mssqlRetryable,
		Connector:  mssqlConnector,
	}
	Register(d, "sqlserver", "mssql")
}

func mssqlPlaceholder(index int) string {
	return "@p" + strconv.Itoa(index+1)
}

func bracketIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlPaging renders OFFSET ... FETCH, which requires an ORDER BY clause
// on the statement it is attached to.
func mssqlPaging(limit, offset int64) string {
	if limit < 0 && offset <= 0 {
		return ""
	}
	if offset < 0 {
		offset = 0
	}
	clause := "offset " + strconv.FormatInt(offset, 10) + " rows"
	if limit >= 0 {
		clause += " fetch next " + strconv.FormatInt(limit, 10) + " rows only"
	}
	return clause
}

// mssqlLockClause renders table hints instead of a statement suffix.
func mssqlLockClause(mode LockMode) (string, string, error) {
	switch mode {
	case LockNone:
		return "", "", nil
	case LockUpdate:
		return "with (updlock, holdlock)", "", nil
	case LockShare:
		return "with (holdlock)", "", nil
	}
	return "", "", errors.New("unknown lock mode")
}

// mssqlStates maps the few server error numbers this layer normalizes to
// SQLSTATE. 1205 is the deadlock victim, 3960 the snapshot isolation
// update conflict.
var mssqlStates = map[int32]string{
	1205: "40001",
	3960: "40001",
}

func mssqlErrorInfo(err error) (string, string, bool) {
	var msErr mssql.Error
	if !errors.As(err, &msErr) {
		return "", "", false
	}
	return strconv.Itoa(int(msErr.Number)), mssqlStates[msErr.Number], true
}

func mssqlRetryable(code, state string) bool {
	return code == "1205" || code == "3960" || state == "40001"
}

// mssqlConnector applies per-connection credentials to the DSN before
// building the driver connector. Both the URL form and the semicolon
// separated ADO form are handled.
func mssqlConnector(dsn, identity, secret string) (driver.Connector, error) {
	if identity != "" {
		var err error
		dsn, err = mssqlDSNWithCredentials(dsn, identity, secret)
		if err != nil {
			return nil, err
		}
	}
	return mssql.NewConnector(dsn)
}

func mssqlDSNWithCredentials(dsn, identity, secret string) (string, error) {
	if strings.HasPrefix(dsn, "sqlserver://") || strings.HasPrefix(dsn, "mssql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid sqlserver DSN: %w", err)
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
	if dsn != "" && !strings.HasSuffix(dsn, ";") {
		sb.WriteString(";")
	}
	sb.WriteString("user id=")
	sb.WriteString(identity)
	sb.WriteString(";password=")
	sb.WriteString(secret)
	return sb.String(), nil
}
