package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/coregx/strata/internal/dialects"
	"github.com/coregx/strata/internal/util"
	"github.com/coregx/strata/q"
)

// Scope constrains how many rows a reference expects to address.
type Scope int

const (
	// ScopeAll addresses any number of rows.
	ScopeAll Scope = iota
	// ScopeOne addresses exactly one row: zero rows is ErrNoRows, more
	// than one is ErrTooManyRows.
	ScopeOne
	// ScopeUnique addresses at most one row.
	ScopeUnique
)

// runQueryFunc executes a generated query against the pool, a pinned
// connection, or a transaction.
type runQueryFunc func(ctx context.Context, query *q.Query) (*Result, error)

// Reference binds one table for generated CRUD. Configuration methods
// mutate and return the reference for chaining:
//
//	users := pool.Reference("users").Keys("id")
//	res, err := users.Where(strata.Filter{"status": "active"}).Load(ctx)
//
// The Load/Save/Append/Modify/Remove verbs execute; each has a *Query
// counterpart that only generates, for inspection or manual execution.
type Reference struct {
	pool *Pool
	run  runQueryFunc

	table    string
	scope    Scope
	keys     []string
	columns  []string
	orderBy  []string
	filter   Filter
	limit    int64
	offset   int64
	distinct bool
	lock     dialects.LockMode
}

func newReference(p *Pool, table string, run runQueryFunc) *Reference {
	return &Reference{pool: p, run: run, table: table, limit: -1}
}

// Scope sets the row cardinality the reference addresses.
func (r *Reference) Scope(s Scope) *Reference {
	r.scope = s
	return r
}

// One is shorthand for Scope(ScopeOne).
func (r *Reference) One() *Reference {
	r.scope = ScopeOne
	return r
}

// Unique is shorthand for Scope(ScopeUnique).
func (r *Reference) Unique() *Reference {
	r.scope = ScopeUnique
	return r
}

// Keys binds the key columns used for upserts and modifies. Without an
// explicit binding the executing verbs discover the primary key from
// catalog metadata.
func (r *Reference) Keys(columns ...string) *Reference {
	r.keys = columns
	return r
}

// Columns restricts loads and row binding to the named columns.
func (r *Reference) Columns(columns ...string) *Reference {
	r.columns = columns
	return r
}

// Where replaces the reference's filter.
func (r *Reference) Where(f Filter) *Reference {
	r.filter = f
	return r
}

// OrderBy sets ordering columns, each optionally suffixed "asc" or "desc".
func (r *Reference) OrderBy(columns ...string) *Reference {
	r.orderBy = columns
	return r
}

// Limit bounds the number of loaded rows. Negative means no limit.
func (r *Reference) Limit(n int64) *Reference {
	r.limit = n
	return r
}

// Offset skips the first n rows.
func (r *Reference) Offset(n int64) *Reference {
	r.offset = n
	return r
}

// Distinct deduplicates loaded rows.
func (r *Reference) Distinct() *Reference {
	r.distinct = true
	return r
}

// Lock adds the dialect's row-locking clause to loads.
func (r *Reference) Lock(mode dialects.LockMode) *Reference {
	r.lock = mode
	return r
}

func validateIdent(name string) error {
	if !filterKeyRegex.MatchString(name) {
		return fmt.Errorf("reference: invalid identifier %q", name)
	}
	return nil
}

// LoadQuery generates the select statement the current configuration
// describes, without executing it.
func (r *Reference) LoadQuery() (*q.Query, error) {
	if err := validateIdent(r.table); err != nil {
		return nil, err
	}
	d := r.pool.dialect
	tableHint, lockSuffix, err := d.LockClause(r.lock)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", r.table, err)
	}

	var sb strings.Builder
	sb.WriteString("select ")
	if r.distinct {
		sb.WriteString("distinct ")
	}
	if len(r.columns) == 0 {
		sb.WriteString("*")
	} else {
		for i, col := range r.columns {
			if err := validateIdent(col); err != nil {
				return nil, err
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("[[" + col + "]]")
		}
	}
	sb.WriteString(" from {{" + r.table + "}}")
	if tableHint != "" {
		sb.WriteString(" " + tableHint)
	}

	parts := []*q.Query{q.SQL(sb.String())}
	cond, err := r.filter.Condition()
	if err != nil {
		return nil, err
	}
	if cond != nil {
		parts = append(parts, q.SQL("where ?", cond))
	}
	if len(r.orderBy) > 0 {
		order, err := orderByClause(r.orderBy)
		if err != nil {
			return nil, err
		}
		parts = append(parts, order)
	}
	if paging := d.Paging(r.limit, r.offset); paging != "" {
		parts = append(parts, q.Raw(paging))
	}
	if lockSuffix != "" {
		parts = append(parts, q.Raw(lockSuffix))
	}
	return q.Join(" ", parts...), nil
}

func orderByClause(tokens []string) (*q.Query, error) {
	var sb strings.Builder
	sb.WriteString("order by ")
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteString(", ")
		}
		name := tok
		dir := ""
		if sp := strings.IndexByte(tok, ' '); sp > 0 {
			name = tok[:sp]
			switch strings.ToLower(strings.TrimSpace(tok[sp+1:])) {
			case "asc":
				dir = " asc"
			case "desc":
				dir = " desc"
			default:
				return nil, fmt.Errorf("reference: invalid order direction in %q", tok)
			}
		}
		if err := validateIdent(name); err != nil {
			return nil, err
		}
		sb.WriteString("[[" + name + "]]")
		sb.WriteString(dir)
	}
	return q.SQL(sb.String()), nil
}

// Load executes the generated select and enforces the scope: ScopeOne
// demands exactly one row, ScopeUnique at most one.
func (r *Reference) Load(ctx context.Context) (*Result, error) {
	query, err := r.LoadQuery()
	if err != nil {
		return nil, err
	}
	res, err := r.run(ctx, query)
	if err != nil {
		return nil, err
	}
	res.ForTable(r.table)
	if err := r.checkScope(len(res.Rows)); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reference) checkScope(n int) error {
	switch r.scope {
	case ScopeOne:
		if n == 0 {
			return ErrNoRows
		}
		if n > 1 {
			return fmt.Errorf("reference %s: %d rows: %w", r.table, n, ErrTooManyRows)
		}
	case ScopeUnique:
		if n > 1 {
			return fmt.Errorf("reference %s: %d rows: %w", r.table, n, ErrTooManyRows)
		}
	}
	return nil
}

// LoadStruct loads and scans the first row into dest. Returns ErrNoRows
// when nothing matches.
func (r *Reference) LoadStruct(ctx context.Context, dest any) error {
	res, err := r.Load(ctx)
	if err != nil {
		return err
	}
	return res.ScanStruct(dest)
}

// rowGrid binds row maps to a shared column list. Explicit Columns win;
// otherwise the first row's sorted keys define the list and every row must
// bind exactly those columns.
func (r *Reference) rowGrid(rows []map[string]any) ([]string, [][]any, error) {
	if err := validateIdent(r.table); err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("reference %s: at least one row required", r.table)
	}
	columns := r.columns
	if len(columns) == 0 {
		columns = q.ColumnsOf(rows[0])
	}
	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("reference %s: rows bind no columns", r.table)
	}
	for _, col := range columns {
		if err := validateIdent(col); err != nil {
			return nil, nil, err
		}
	}
	grid := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, nil, fmt.Errorf("reference %s: row %d binds %d columns, expected %d",
				r.table, i, len(row), len(columns))
		}
		vals := make([]any, len(columns))
		for j, col := range columns {
			v, ok := row[col]
			if !ok {
				return nil, nil, fmt.Errorf("reference %s: row %d missing column %s", r.table, i, col)
			}
			vals[j] = v
		}
		grid[i] = vals
	}
	return columns, grid, nil
}

// SaveQuery generates the dialect's upsert for the given rows using the
// bound key columns. Dialects that need explicit conflict targets fail
// with ErrKeysUndetermined when no keys are bound; Save resolves keys from
// the catalog before generating.
func (r *Reference) SaveQuery(rows ...map[string]any) (*q.Query, error) {
	columns, grid, err := r.rowGrid(rows)
	if err != nil {
		return nil, err
	}
	query, err := r.pool.dialect.Upsert(dialects.UpsertSpec{
		Table:   r.table,
		Columns: columns,
		Keys:    r.keys,
		Values:  grid,
	})
	if err != nil {
		if errors.Is(err, dialects.ErrUpsertNeedsKeys) {
			return nil, fmt.Errorf("reference %s: %w", r.table, ErrKeysUndetermined)
		}
		return nil, fmt.Errorf("reference %s: %w", r.table, err)
	}
	return query, nil
}

// Save upserts the given rows: insert new, update existing by key.
func (r *Reference) Save(ctx context.Context, rows ...map[string]any) (*Result, error) {
	ref := r.withResolvedKeys(ctx)
	query, err := ref.SaveQuery(rows...)
	if err != nil {
		return nil, err
	}
	res, err := r.run(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.ForTable(r.table), nil
}

// withResolvedKeys returns a reference with key columns filled from the
// catalog when none were bound explicitly. Discovery failures are logged
// and ignored; the dialect decides whether keyless generation works.
func (r *Reference) withResolvedKeys(ctx context.Context) *Reference {
	if len(r.keys) > 0 || r.pool == nil || r.pool.catalog == nil {
		return r
	}
	keys, err := r.pool.catalog.Keys(ctx, r.table)
	if err != nil {
		r.pool.logger.Debug("key discovery failed", "table", r.table, "error", err)
		return r
	}
	if len(keys) == 0 {
		return r
	}
	clone := *r
	clone.keys = keys
	return &clone
}

// AppendQuery generates a plain insert for the given rows. Backends with a
// returning mechanism return the inserted rows.
func (r *Reference) AppendQuery(rows ...map[string]any) (*q.Query, error) {
	columns, grid, err := r.rowGrid(rows)
	if err != nil {
		return nil, err
	}
	d := r.pool.dialect
	parts := []*q.Query{
		q.SQL("insert into {{" + r.table + "}}"),
		q.Names(columns...),
	}
	if d.Returning == dialects.ReturnOutput {
		parts = append(parts, q.Raw("output inserted.*"))
	}
	parts = append(parts, q.SQL("values ?", q.Values(grid...)))
	if d.Returning == dialects.ReturnReturning {
		parts = append(parts, q.Raw("returning *"))
	}
	return q.Join(" ", parts...), nil
}

// Append inserts the given rows without update semantics.
func (r *Reference) Append(ctx context.Context, rows ...map[string]any) (*Result, error) {
	query, err := r.AppendQuery(rows...)
	if err != nil {
		return nil, err
	}
	res, err := r.run(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.ForTable(r.table), nil
}

// ModifyQuery generates an update for one row: non-key columns become the
// set list, key columns the where clause. Requires bound keys.
func (r *Reference) ModifyQuery(row map[string]any) (*q.Query, error) {
	if err := validateIdent(r.table); err != nil {
		return nil, err
	}
	if len(r.keys) == 0 {
		return nil, fmt.Errorf("reference %s: %w", r.table, ErrKeysUndetermined)
	}
	keySet := make(map[string]bool, len(r.keys))
	for _, k := range r.keys {
		keySet[k] = true
	}
	var setCols []string
	for _, col := range q.ColumnsOf(row) {
		if !keySet[col] {
			setCols = append(setCols, col)
		}
	}
	if len(setCols) == 0 {
		return nil, fmt.Errorf("reference %s: no non-key columns to update", r.table)
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("update {{" + r.table + "}} set ")
	for i, col := range setCols {
		if err := validateIdent(col); err != nil {
			return nil, err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("[[" + col + "]] = ?")
		args = append(args, row[col])
	}
	sb.WriteString(" where ")
	for i, k := range r.keys {
		if err := validateIdent(k); err != nil {
			return nil, err
		}
		v, ok := row[k]
		if !ok {
			return nil, fmt.Errorf("reference %s: row missing key column %s", r.table, k)
		}
		if i > 0 {
			sb.WriteString(" and ")
		}
		sb.WriteString("[[" + k + "]] = ?")
		args = append(args, v)
	}
	return q.SQL(sb.String(), args...), nil
}

// Modify updates the given rows by key, one statement per row, and
// returns the summed affected count.
func (r *Reference) Modify(ctx context.Context, rows ...map[string]any) (*Result, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("reference %s: at least one row required", r.table)
	}
	ref := r.withResolvedKeys(ctx)
	total := &Result{pool: r.pool, table: r.table}
	for _, row := range rows {
		query, err := ref.ModifyQuery(row)
		if err != nil {
			return nil, err
		}
		res, err := r.run(ctx, query)
		if err != nil {
			return nil, err
		}
		total.RowsAffected += res.RowsAffected
	}
	return total, nil
}

// RemoveQuery generates a delete constrained by the reference's filter.
// An empty filter deletes every row in the table.
func (r *Reference) RemoveQuery() (*q.Query, error) {
	if err := validateIdent(r.table); err != nil {
		return nil, err
	}
	parts := []*q.Query{q.SQL("delete from {{" + r.table + "}}")}
	cond, err := r.filter.Condition()
	if err != nil {
		return nil, err
	}
	if cond != nil {
		parts = append(parts, q.SQL("where ?", cond))
	}
	return q.Join(" ", parts...), nil
}

// Remove deletes the rows the filter addresses.
func (r *Reference) Remove(ctx context.Context) (*Result, error) {
	query, err := r.RemoveQuery()
	if err != nil {
		return nil, err
	}
	res, err := r.run(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.ForTable(r.table), nil
}

// SaveStruct upserts a struct by its db tags. Key columns come from the
// reference binding, the struct's pk tags, or the catalog, in that order.
func (r *Reference) SaveStruct(ctx context.Context, model any) error {
	row, err := util.StructToMap(model)
	if err != nil {
		return err
	}
	ref := r
	if len(r.keys) == 0 {
		if info, kerr := util.FindKeyFields(reflect.Indirect(reflect.ValueOf(model))); kerr == nil {
			clone := *r
			clone.keys = info.Columns
			ref = &clone
		}
	}
	_, err = ref.Save(ctx, row)
	return err
}

// AppendStruct inserts a struct and backfills its generated key. A zero
// single-column key is left out of the insert so the backend assigns it;
// the assigned value is read back from the driver's generated key or the
// returned row.
func (r *Reference) AppendStruct(ctx context.Context, model any) error {
	rv := reflect.ValueOf(model)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("reference %s: model must be a non-nil struct pointer", r.table)
	}
	row, err := util.StructToMap(model)
	if err != nil {
		return err
	}
	info, kerr := util.FindKeyFields(rv.Elem())
	generated := kerr == nil && info.IsSingle() && util.IsKeyZero(info.Values[0])
	if generated {
		delete(row, info.Columns[0])
	}
	res, err := r.Append(ctx, row)
	if err != nil {
		return err
	}
	if !generated {
		return nil
	}
	if id, ok := res.RowKey.(int64); ok {
		return util.SetKeyValue(info.Values[0], id)
	}
	if !res.Empty() {
		if idx := res.ColumnIndex(info.Columns[0]); idx >= 0 {
			if id, err := toInt64(res.Rows[0][idx]); err == nil {
				return util.SetKeyValue(info.Values[0], id)
			}
		}
	}
	return nil
}
