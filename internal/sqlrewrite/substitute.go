package sqlrewrite

import (
	"context"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/samber/lo"

	"pganon/internal/catalog"
	"pganon/internal/domain"
	"pganon/internal/masking"
	"pganon/internal/pgsql"
)

// maskRelation plans the replacement of the FROM item in slot with the
// masking subquery of the relation rv names. ts is the user's TABLESAMPLE
// clause, if any.
func (w *TreeWalker) maskRelation(ctx context.Context, slot *pg_query.Node, rv *pg_query.RangeVar, ts *pg_query.RangeTableSample, sc *scope) error {
	if rv.Schemaname == "" && sc.hasCTE(rv.Relname) {
		return nil
	}
	rel, err := w.catalog.Relation(ctx, rv.Schemaname, rv.Relname)
	if err != nil {
		if isNotFound(err) {
			w.logger.Debug("relation not in catalog, left as is", "relation", rv.Relname)
			return nil
		}
		return err
	}
	if catalog.IsSystemSchema(rel.Schema) || rel.Schema == w.ownSchema {
		return nil
	}

	sub, err := w.synth.Subquery(ctx, rel, w.policy)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	sel, inner, err := parseSubquery(sub)
	if err != nil {
		return err
	}
	innerFrom := inner.FromClause[0]
	innerRV := innerFrom.GetRangeVar()
	if innerRV == nil {
		innerRV = innerFrom.GetRangeTableSample().GetRelation().GetRangeVar()
	}
	innerRV.Inh = rv.Inh

	if ts != nil {
		if sub.Ratio != "" {
			w.logger.Debug("sampling rule overrides TABLESAMPLE clause", "relation", rel.QualifiedName(), "ratio", sub.Ratio)
		} else {
			inner.FromClause[0] = &pg_query.Node{Node: &pg_query.Node_RangeTableSample{RangeTableSample: &pg_query.RangeTableSample{
				Relation:   innerFrom,
				Method:     ts.Method,
				Args:       ts.Args,
				Repeatable: ts.Repeatable,
				Location:   ts.Location,
			}}}
		}
	}

	alias := rv.Alias
	if alias == nil {
		alias = &pg_query.Alias{Aliasname: rv.Relname}
	}

	w.generated[sel] = struct{}{}
	w.generated[inner] = struct{}{}
	w.masked = append(w.masked, MaskedRelation{
		Relation: rel,
		Alias:    alias.Aliasname,
		Attnums:  lo.Map(sub.Columns, func(c masking.ColumnExpr, _ int) int16 { return c.Column.Attnum }),
		Sampling: sub.Ratio,
		Subquery: sel,
	})
	w.plan = append(w.plan, func() {
		slot.Node = &pg_query.Node_RangeSubselect{RangeSubselect: &pg_query.RangeSubselect{
			Subquery: &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}},
			Alias:    alias,
		}}
	})
	w.logger.Debug("masked relation", "relation", rel.QualifiedName(), "alias", alias.Aliasname, "policy", w.policy)
	return nil
}

// parseSubquery parses the SQL of a masking subquery and checks its shape:
// one output column per live column and a single scan of the relation in the
// inner query.
func parseSubquery(sub *masking.Subquery) (outer, inner *pg_query.SelectStmt, err error) {
	outer, err = pgsql.ParseSelect(sub.SQL)
	if err != nil {
		return nil, nil, domain.ErrInvalidInput("masking rules of %s do not form a valid query: %v", sub.Relation.QualifiedName(), err)
	}
	if len(outer.TargetList) != len(sub.Columns) {
		return nil, nil, domain.ErrInternal("masking subquery of %s returns %d columns, want %d",
			sub.Relation.QualifiedName(), len(outer.TargetList), len(sub.Columns))
	}
	if len(outer.FromClause) != 1 {
		return nil, nil, domain.ErrInternal("masking subquery of %s has an unexpected FROM clause", sub.Relation.QualifiedName())
	}
	inner = outer.FromClause[0].GetRangeSubselect().GetSubquery().GetSelectStmt()
	if inner == nil || len(inner.FromClause) != 1 {
		return nil, nil, domain.ErrInternal("masking subquery of %s has an unexpected inner query", sub.Relation.QualifiedName())
	}
	from := inner.FromClause[0]
	if from.GetRangeVar() == nil && from.GetRangeTableSample().GetRelation().GetRangeVar() == nil {
		return nil, nil, domain.ErrInternal("masking subquery of %s does not scan the relation", sub.Relation.QualifiedName())
	}
	return outer, inner, nil
}
