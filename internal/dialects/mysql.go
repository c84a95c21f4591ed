package dialects

import (
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/coregx/strata/q"
)

func init() {
	my := &Dialect{
		Name:           "mysql",
		Driver:         "mysql",
		MultiStatement: true,
		Returning:      ReturnNone,
		Placeholder:    questionPlaceholder,
		QuoteIdent:     backtickIdent,
		Paging:         limitOffsetPaging,
		LockClause:     mysqlLockClause,
		ErrorInfo:      mysqlErrorInfo,
		Retryable:      mysqlRetryable,
		Connector:      mysqlConnector,
	}
	standardSavepoints(my)
	my.Upsert = func(spec UpsertSpec) (*q.Query, error) { return mysqlUpsert(my, spec, false) }
	Register(my, "mysql")

	// MariaDB shares the driver and wire syntax but supports RETURNING on
	// INSERT since 10.5.
	maria := &Dialect{
		Name:           "mariadb",
		Driver:         "mysql",
		MultiStatement: true,
		Returning:      ReturnReturning,
		Placeholder:    questionPlaceholder,
		QuoteIdent:     backtickIdent,
		Paging:         limitOffsetPaging,
		LockClause:     mysqlLockClause,
		ErrorInfo:      mysqlErrorInfo,
		Retryable:      mysqlRetryable,
		Connector:      mysqlConnector,
	}
	standardSavepoints(maria)
	maria.Upsert = func(spec UpsertSpec) (*q.Query, error) { return mysqlUpsert(maria, spec, true) }
	Register(maria, "mariadb")
}

func questionPlaceholder(int) string {
	return "?"
}

func backtickIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func mysqlLockClause(mode LockMode) (string, string, error) {
	switch mode {
	case LockNone:
		return "", "", nil
	case LockUpdate:
		return "", "for update", nil
	case LockShare:
		return "", "lock in share mode", nil
	}
	return "", "", errors.New("unknown lock mode")
}

// mysqlUpsert builds the ON DUPLICATE KEY form:
//
//	insert into t (id, name) values (?, ?) on duplicate key update name = values(name)
//
// MySQL resolves the conflict target from any unique key itself, so the
// statement is valid even when no key columns were determined; in that
// case every column is updated. withReturning appends "returning *" for
// MariaDB 10.5+.
func mysqlUpsert(d *Dialect, spec UpsertSpec, withReturning bool) (*q.Query, error) {
	var sb strings.Builder
	sb.WriteString("insert into ")
	sb.WriteString(d.SafeIdent(spec.Table))
	sb.WriteString(" (")
	sb.WriteString(d.SafeIdentList(spec.Columns))
	sb.WriteString(") values ? on duplicate key update ")

	updates := spec.Columns
	if len(spec.Keys) > 0 {
		updates = without(spec.Columns, spec.Keys)
	}
	if len(updates) == 0 {
		// Every column is a key; assign one to itself to keep the
		// statement well-formed without changing the row.
		ident := d.SafeIdent(spec.Columns[0])
		sb.WriteString(ident)
		sb.WriteString(" = ")
		sb.WriteString(ident)
	} else {
		for i, col := range updates {
			if i > 0 {
				sb.WriteString(", ")
			}
			ident := d.SafeIdent(col)
			sb.WriteString(ident)
			sb.WriteString(" = values(")
			sb.WriteString(ident)
			sb.WriteString(")")
		}
	}
	if withReturning {
		sb.WriteString(" returning *")
	}
	return q.SQL(sb.String(), q.Values(spec.Values...)), nil
}

// mysqlErrorInfo extracts the server error number and, when the server
// sent one, the SQLSTATE.
func mysqlErrorInfo(err error) (string, string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return "", "", false
	}
	state := string(myErr.SQLState[:])
	if state == "\x00\x00\x00\x00\x00" {
		state = ""
	}
	return strconv.Itoa(int(myErr.Number)), state, true
}

// mysqlRetryable classifies deadlocks (1213) and lock wait timeouts
// (1205) as retryable alongside the standard serialization state.
func mysqlRetryable(code, state string) bool {
	return code == "1213" || code == "1205" || state == "40001"
}

// mysqlConnector parses the DSN into a mysql.Config and applies the
// per-connection credentials before building the connector.
func mysqlConnector(dsn, identity, secret string) (driver.Connector, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if identity != "" {
		cfg.User = identity
		cfg.Passwd = secret
	}
	return mysql.NewConnector(cfg)
}
