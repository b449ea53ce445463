package reachability

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/region-engine/internal/model"
)

// DefaultCodeColumn is the column BuildSQLFilter compares against.
const DefaultCodeColumn = "territory_code"

// SQLFilter is a parameterized WHERE fragment.
type SQLFilter struct {
	Clause string
	Args   []any
}

type sqlOptions struct {
	column    string
	argOffset int
}

// SQLOption configures BuildSQLFilter.
type SQLOption func(*sqlOptions)

// WithColumn sets the compared column. Dotted names are quoted per part.
func WithColumn(column string) SQLOption {
	return func(o *sqlOptions) { o.column = column }
}

// WithArgOffset starts placeholders after n existing arguments.
func WithArgOffset(n int) SQLOption {
	return func(o *sqlOptions) { o.argOffset = n }
}

// BuildSQLFilter compiles coverage into a predicate with the same semantics
// as CheckReachability: an exact entry matches itself and its descendants,
// a trailing-wildcard entry matches by prefix. Empty coverage matches all
// rows.
func BuildSQLFilter(coverage []string, opts ...SQLOption) SQLFilter {
	o := sqlOptions{column: DefaultCodeColumn}
	for _, opt := range opts {
		opt(&o)
	}
	col := pgx.Identifier(strings.Split(o.column, ".")).Sanitize()

	var (
		preds []string
		args  []any
	)
	next := func(v string) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", o.argOffset+len(args))
	}
	for _, c := range coverage {
		c = model.NormalizeCode(c)
		if c == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(c, "*"); ok {
			preds = append(preds, fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, col, next(escapeLike(prefix)+"%")))
			continue
		}
		preds = append(preds, fmt.Sprintf(`(%s = %s OR %s LIKE %s ESCAPE '\')`, col, next(c), col, next(escapeLike(c)+"-%")))
	}

	if len(preds) == 0 {
		return SQLFilter{Clause: "TRUE"}
	}
	return SQLFilter{Clause: "(" + strings.Join(preds, " OR ") + ")", Args: args}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
