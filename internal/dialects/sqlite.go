package dialects

import (
	"errors"
	"strconv"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/coregx/strata/q"
)

func init() {
	d := &Dialect{
		Name:           "sqlite",
		Driver:         "sqlite3",
		MultiStatement: true,
		Returning:      ReturnReturning,
		Placeholder:    questionPlaceholder,
		QuoteIdent:     doubleQuoteIdent,
		Paging:         limitOffsetPaging,
		LockClause:     sqliteLockClause,
		ErrorInfo:      sqliteErrorInfo,
		Retryable:      sqliteRetryable,
		// No Connector: SQLite is file or memory backed and trust-based,
		// so the pool opens by driver name and credentials do not apply.
	}
	standardSavepoints(d)
	d.Upsert = func(spec UpsertSpec) (*q.Query, error) { return conflictUpsert(d, spec) }
	Register(d, "sqlite", "sqlite3")
}

// sqliteLockClause validates the mode but emits nothing: SQLite has no
// row-locking syntax, the whole database locks on write.
func sqliteLockClause(mode LockMode) (string, string, error) {
	switch mode {
	case LockNone, LockUpdate, LockShare:
		return "", "", nil
	}
	return "", "", errors.New("unknown lock mode")
}

// sqliteErrorInfo extracts the SQLite result code. SQLite has no SQLSTATE
// concept, so the state is empty and classification keys on the code.
func sqliteErrorInfo(err error) (string, string, bool) {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return "", "", false
	}
	return strconv.Itoa(int(sqErr.Code)), "", true
}

// sqliteRetryable classifies SQLITE_BUSY (5) and SQLITE_LOCKED (6).
func sqliteRetryable(code, _ string) bool {
	return code == "5" || code == "6"
}
