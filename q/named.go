package q

import (
	"fmt"
	"regexp"
)

// Params represents named parameter values for query binding.
// Named parameters are specified in SQL using {:name} syntax.
//
// Example:
//
//	query, err := q.Named("select * from users where id = {:id} and status = {:status}",
//	    q.Params{"id": 1, "status": "active"})
type Params map[string]any

var (
	// namedPlaceholderRegex matches named parameter placeholders {:name}.
	namedPlaceholderRegex = regexp.MustCompile(`\{:(\w+)\}`)

	// quoteRegex matches table and column quoting syntax.
	// {{table_name}} - quotes table name (double curly braces)
	// [[column_name]] - quotes column name (double square brackets)
	// Pattern matches word characters, hyphens, dots, and spaces to support schema.table format.
	quoteRegex = regexp.MustCompile(`(\{\{[\w\-. ]+\}\}|\[\[[\w\-. ]+\]\])`)
)

// Named builds a Query from a template with {:name} parameter markers,
// resolving each marker against params. The same name may appear multiple
// times; each occurrence becomes its own positional slot at render time.
// {{table}} and [[column]] quoting markers are honored as in SQL.
//
// Returns an error if any {:name} in the template is missing from params.
func Named(text string, params Params) (*Query, error) {
	b := newBuilder()
	last := 0
	for _, loc := range namedPlaceholderRegex.FindAllStringSubmatchIndex(text, -1) {
		emitFragment(b, text[last:loc[0]])
		name := text[loc[2]:loc[3]]
		value, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter: %s", name)
		}
		b.addPart(part{kind: partValue, value: value})
		last = loc[1]
	}
	emitFragment(b, text[last:])
	return b.query(), nil
}
