package masking

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"pganon/internal/catalog"
	"pganon/internal/pgsql"
)

// Subquery is the generated SELECT that stands in for a masked relation.
//
//	SELECT <outer> FROM (SELECT <masking exprs> FROM <rel> [TABLESAMPLE <ratio>]) AS <rel name>
//
// The outer list recomputes generated columns from the masked inner columns
// unless an explicit rule replaced them. Columns come out in attribute order,
// one per live column.
type Subquery struct {
	SQL      string
	Relation *catalog.Relation
	Columns  []ColumnExpr
	Ratio    string
	// Masked reports whether at least one column is masked. A subquery may
	// exist only for sampling.
	Masked bool
}

// Subquery builds the masking subquery of rel. It returns nil when the
// relation has neither a masked column nor a sampling ratio.
func (s *Synthesizer) Subquery(ctx context.Context, rel *catalog.Relation, policy string) (*Subquery, error) {
	cols, masked, err := s.ColumnExprs(ctx, rel, policy)
	if err != nil {
		return nil, err
	}
	ratio, sampled, err := s.RatioForTable(ctx, rel, policy)
	if err != nil {
		return nil, err
	}
	if !masked && !sampled {
		return nil, nil
	}

	var inner strings.Builder
	inner.WriteString("SELECT ")
	inner.WriteString(joinAliased(cols))
	inner.WriteString(" FROM ")
	inner.WriteString(rel.QualifiedName())
	if sampled {
		inner.WriteString(" TABLESAMPLE ")
		inner.WriteString(ratio)
	}

	outer := make([]string, len(cols))
	for i, c := range cols {
		name := pgsql.QuoteIdentifier(c.Column.Name)
		if c.Column.IsGenerated() && c.Source != SourceRule {
			outer[i] = "(" + c.Column.Generated + ") AS " + name
			continue
		}
		outer[i] = name
	}

	sql := "SELECT " + strings.Join(outer, ", ") + " FROM (" + inner.String() + ") AS " + pgsql.QuoteIdentifier(rel.Name)
	s.logger.Debug("built masking subquery", "relation", rel.QualifiedName(), "policy", policy, "sql", sql)
	return &Subquery{SQL: sql, Relation: rel, Columns: cols, Ratio: ratio, Masked: masked}, nil
}

// MaskedColumns returns the columns a static UPDATE must assign: masked and
// not generated.
func (q *Subquery) MaskedColumns() []ColumnExpr {
	return lo.Filter(q.Columns, func(c ColumnExpr, _ int) bool {
		return c.Masked && !c.Column.IsGenerated()
	})
}
