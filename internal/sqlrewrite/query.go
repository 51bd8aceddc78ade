// Package sqlrewrite substitutes masked relations in parsed statements with
// masking subqueries, and refuses statements a masked role may not run.
//
// Statements are parsed with the PostgreSQL parser (pg_query_go), rewritten
// at the AST level and deparsed back to SQL for execution.
package sqlrewrite

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/pgsql"
)

// Query is a parse tree plus the provenance of the masking subqueries that
// were spliced into it. The walker never descends into a generated subquery,
// so rewriting a Query twice is a no-op.
type Query struct {
	Tree      *pg_query.ParseResult
	generated map[*pg_query.SelectStmt]struct{}
	masked    []MaskedRelation
}

// MaskedRelation records one substitution.
type MaskedRelation struct {
	Relation *catalog.Relation
	// Alias is the range name the substitute is visible under.
	Alias string
	// Attnums maps each output column of the substitute, in order, to the
	// attribute number it stands for in the original relation.
	Attnums  []int16
	Sampling string
	Subquery *pg_query.SelectStmt
}

// Parse parses SQL text into a Query.
func Parse(sql string) (*Query, error) {
	tree, err := pgsql.Parse(sql)
	if err != nil {
		return nil, domain.ErrInvalidInput("%v", err)
	}
	return NewQuery(tree), nil
}

// NewQuery wraps an existing parse tree.
func NewQuery(tree *pg_query.ParseResult) *Query {
	return &Query{Tree: tree, generated: make(map[*pg_query.SelectStmt]struct{})}
}

// SQL deparses the tree.
func (q *Query) SQL() (string, error) {
	return pgsql.Deparse(q.Tree)
}

// IsGenerated reports whether sel is a masking subquery spliced in by a
// previous rewrite.
func (q *Query) IsGenerated(sel *pg_query.SelectStmt) bool {
	_, ok := q.generated[sel]
	return ok
}

// MaskedRelations lists the substitutions made so far, in walk order.
func (q *Query) MaskedRelations() []MaskedRelation {
	return append([]MaskedRelation(nil), q.masked...)
}
