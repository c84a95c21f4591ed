// Package q builds dialect-neutral SQL statements for Strata.
//
// A Query is an immutable sequence of literal text fragments interleaved
// with parameter values or nested sub-queries. It carries no connection or
// dialect state; rendering for a concrete backend happens through Render,
// which receives the backend's placeholder and identifier-quoting functions.
//
// Example:
//
//	query := q.SQL("select * from users where id = ? and status = ?", 42, "active")
//	r := query.Render(q.RenderOptions{Placeholder: postgresPlaceholder})
//	// r.Text == `select * from users where id = $1 and status = $2`
//	// r.Args == []any{42, "active"}
package q

import (
	"fmt"
	"strings"
)

// Query is an immutable SQL statement template: literal text fragments
// interleaved with parameter slots. The number of text fragments is always
// one more than the number of slots, at every nesting level.
type Query struct {
	texts []string
	parts []part
}

type partKind uint8

const (
	partValue partKind = iota
	partQuery
	partIdent
)

// part is one interpolated slot: a bound parameter value, a nested
// sub-query flattened inline, or an identifier quoted at render time.
type part struct {
	kind  partKind
	value any
	query *Query
	ident string
}

// builder assembles texts/parts keeping the fragment invariant intact:
// texts always has exactly one more entry than parts.
type builder struct {
	texts []string
	parts []part
}

func newBuilder() *builder {
	return &builder{texts: []string{""}}
}

func (b *builder) addText(s string) {
	b.texts[len(b.texts)-1] += s
}

func (b *builder) addPart(p part) {
	b.parts = append(b.parts, p)
	b.texts = append(b.texts, "")
}

func (b *builder) query() *Query {
	return &Query{texts: b.texts, parts: b.parts}
}

// emitFragment appends literal text, expanding {{table}} and [[column]]
// markers into identifier slots quoted at render time.
func emitFragment(b *builder, text string) {
	last := 0
	for _, loc := range quoteRegex.FindAllStringIndex(text, -1) {
		b.addText(text[last:loc[0]])
		b.addPart(part{kind: partIdent, ident: text[loc[0]+2 : loc[1]-2]})
		last = loc[1]
	}
	b.addText(text[last:])
}

func partFor(arg any) part {
	if sub, ok := arg.(*Query); ok {
		return part{kind: partQuery, query: sub}
	}
	return part{kind: partValue, value: arg}
}

// SQL builds a Query from a template with `?` parameter markers.
// A `??` renders as a literal question mark. An argument that is itself a
// *Query is flattened inline at render time, its parameters keeping their
// encounter order. Literal fragments may use {{table}} and [[column]]
// markers for dialect-quoted identifiers.
//
// Panics if the number of `?` markers does not match the number of
// arguments (fail fast; this is a programmer error, not runtime input).
func SQL(text string, args ...any) *Query {
	if n := countSlots(text); n != len(args) {
		panic(fmt.Sprintf("q: template has %d placeholders, got %d arguments", n, len(args)))
	}
	b := newBuilder()
	next := 0
	var frag strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '?' {
			frag.WriteByte(c)
			continue
		}
		if i+1 < len(text) && text[i+1] == '?' {
			frag.WriteByte('?')
			i++
			continue
		}
		emitFragment(b, frag.String())
		frag.Reset()
		b.addPart(partFor(args[next]))
		next++
	}
	emitFragment(b, frag.String())
	return b.query()
}

// countSlots counts unescaped `?` markers in a template.
func countSlots(text string) int {
	n := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '?' {
			if i+1 < len(text) && text[i+1] == '?' {
				i++
				continue
			}
			n++
		}
	}
	return n
}

// Raw embeds text verbatim, bypassing parameterization entirely. The
// caller is responsible for safety; intended for fragments that must be
// generated by the layer itself, such as savepoint names and dialect
// keywords, never for user input.
func Raw(text string) *Query {
	return &Query{texts: []string{text}}
}

// Ident quotes a single identifier using the rendering dialect's quoting
// style. Dotted names ("schema.table") are quoted per segment.
func Ident(name string) *Query {
	b := newBuilder()
	b.addPart(part{kind: partIdent, ident: name})
	return b.query()
}

// Join concatenates sub-queries with a literal separator, preserving each
// sub-query's parameters in encounter order.
func Join(sep string, queries ...*Query) *Query {
	b := newBuilder()
	for i, sub := range queries {
		if i > 0 {
			b.addText(sep)
		}
		b.addPart(part{kind: partQuery, query: sub})
	}
	return b.query()
}

// Batch chains statements into one multi-statement Query separated by
// semicolons. Backends that forbid multi-statement execution reject such
// queries at execution time.
func Batch(queries ...*Query) *Query {
	return Join("; ", queries...)
}

// RenderOptions supplies the backend-specific rendering strategy.
type RenderOptions struct {
	// Placeholder returns the positional placeholder text for a parameter
	// slot. The index is 0-based and counts slots in encounter order, so a
	// PostgreSQL implementation returns "$1" for index 0.
	Placeholder func(index int) string

	// QuoteIdent quotes one bare identifier segment. Dotted identifiers
	// are split and quoted per segment before joining with dots.
	QuoteIdent func(name string) string
}

// Rendered is the outcome of rendering a Query for one backend.
type Rendered struct {
	// Text is the SQL with backend placeholders and quoted identifiers.
	Text string

	// Args holds the parameter values in placeholder order.
	Args []any

	// Statements counts the top-level statements in Text. More than one
	// means the query is a batch.
	Statements int
}

type renderState struct {
	opts RenderOptions
	buf  strings.Builder
	args []any
}

// Render walks fragments and slots in order, producing backend SQL text
// and the flat positional parameter list for it. Rendering the same Query
// with two different placeholder styles yields texts differing only at
// placeholder positions, with identical parameter arrays.
func (query *Query) Render(opts RenderOptions) Rendered {
	if opts.Placeholder == nil {
		opts.Placeholder = func(int) string { return "?" }
	}
	if opts.QuoteIdent == nil {
		opts.QuoteIdent = defaultQuote
	}
	r := &renderState{opts: opts}
	r.walk(query)
	text := r.buf.String()
	return Rendered{Text: text, Args: r.args, Statements: countStatements(text)}
}

func (r *renderState) walk(query *Query) {
	for i, text := range query.texts {
		r.buf.WriteString(text)
		if i >= len(query.parts) {
			continue
		}
		p := query.parts[i]
		switch p.kind {
		case partValue:
			r.buf.WriteString(r.opts.Placeholder(len(r.args)))
			r.args = append(r.args, p.value)
		case partQuery:
			r.walk(p.query)
		case partIdent:
			r.buf.WriteString(quoteQualified(p.ident, r.opts.QuoteIdent))
		}
	}
}

// quoteQualified quotes an identifier segment by segment, so
// "public.users" becomes `"public"."users"` under double-quote rules.
func quoteQualified(identifier string, quote func(string) string) string {
	if !strings.Contains(identifier, ".") {
		return quote(strings.TrimSpace(identifier))
	}
	segs := strings.Split(identifier, ".")
	for i, seg := range segs {
		segs[i] = quote(strings.TrimSpace(seg))
	}
	return strings.Join(segs, ".")
}

func defaultQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// countStatements counts non-empty statements split on semicolons. The
// count is structural: semicolons inside string literals are not parsed
// out, matching the layer's no-SQL-parser contract.
func countStatements(text string) int {
	n := 0
	for _, seg := range strings.Split(text, ";") {
		if strings.TrimSpace(seg) != "" {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// Fragments returns the number of top-level literal text fragments.
// It is always Slots()+1.
func (query *Query) Fragments() int {
	return len(query.texts)
}

// Slots returns the number of top-level interpolated slots (parameter
// values, nested queries, and identifiers).
func (query *Query) Slots() int {
	return len(query.parts)
}

// Statements counts the top-level statements the query renders to. More
// than one means the query is a batch.
func (query *Query) Statements() int {
	return query.Render(RenderOptions{}).Statements
}

// Params returns the flattened parameter values in encounter order,
// including those of nested sub-queries.
func (query *Query) Params() []any {
	var out []any
	var collect func(*Query)
	collect = func(sub *Query) {
		for _, p := range sub.parts {
			switch p.kind {
			case partValue:
				out = append(out, p.value)
			case partQuery:
				collect(p.query)
			}
		}
	}
	collect(query)
	return out
}

// String renders the query with `?` placeholders and default quoting.
// Intended for logs and debugging, not for execution.
func (query *Query) String() string {
	return query.Render(RenderOptions{}).Text
}
