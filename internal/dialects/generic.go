package dialects

import (
	"errors"
	"strings"

	"github.com/coregx/strata/q"
)

func init() {
	d := &Dialect{
		Name:           "generic",
		Driver:         "generic",
		MultiStatement: true,
		Returning:      ReturnNone,
		Placeholder:    questionPlaceholder,
		QuoteIdent:     doubleQuoteIdent,
		Paging:         limitOffsetPaging,
		LockClause:     genericLockClause,
		ErrorInfo:      func(error) (string, string, bool) { return "", "", false },
		Retryable:      func(_, state string) bool { return state == "40001" },
		// No Connector: the bridge driver is registered by the embedding
		// application, so the pool opens by driver name.
	}
	standardSavepoints(d)
	d.Upsert = func(spec UpsertSpec) (*q.Query, error) { return mergeUpsert(d, spec) }
	Register(d, "generic", "h2")
}

func genericLockClause(mode LockMode) (string, string, error) {
	switch mode {
	case LockNone:
		return "", "", nil
	case LockUpdate:
		return "", "for update", nil
	case LockShare:
		return "", "", errors.New("share locks not supported by dialect")
	}
	return "", "", errors.New("unknown lock mode")
}

// mergeUpsert builds the H2-style MERGE ... KEY form:
//
//	merge into t (id, name) key (id) values (?, ?)
func mergeUpsert(d *Dialect, spec UpsertSpec) (*q.Query, error) {
	if len(spec.Keys) == 0 {
		return nil, ErrUpsertNeedsKeys
	}
	var sb strings.Builder
	sb.WriteString("merge into ")
	sb.WriteString(d.SafeIdent(spec.Table))
	sb.WriteString(" (")
	sb.WriteString(d.SafeIdentList(spec.Columns))
	sb.WriteString(") key (")
	sb.WriteString(d.SafeIdentList(spec.Keys))
	sb.WriteString(") values ?")
	return q.SQL(sb.String(), q.Values(spec.Values...)), nil
}
