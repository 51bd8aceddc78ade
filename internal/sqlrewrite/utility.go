package sqlrewrite

import (
	"context"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/samber/lo"

	"pganon/internal/domain"
	"pganon/internal/pgsql"
)

// rewriteUtility turns "COPY rel [(cols)] TO ..." into
// "COPY (SELECT cols FROM rel) TO ..." when rel has to be masked, so the
// regular walk can substitute it.
func (w *TreeWalker) rewriteUtility(ctx context.Context, node *pg_query.Node) error {
	cp := node.GetCopyStmt()
	if cp == nil || cp.IsFrom || cp.Query != nil || cp.Relation == nil {
		return nil
	}
	rv := cp.Relation
	rel, err := w.catalog.Relation(ctx, rv.Schemaname, rv.Relname)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	cols := "*"
	if len(cp.Attlist) > 0 {
		names := lo.Map(cp.Attlist, func(n *pg_query.Node, _ int) string {
			return pgsql.QuoteIdentifier(n.GetString_().GetSval())
		})
		cols = strings.Join(names, ", ")
	}
	only := ""
	if !rv.Inh {
		only = "ONLY "
	}
	sel, err := pgsql.ParseSelect("SELECT " + cols + " FROM " + only + rel.QualifiedName())
	if err != nil {
		return domain.ErrInternal("cannot build COPY query for %s: %v", rel.QualifiedName(), err)
	}

	planned := len(w.plan)
	if err := w.walkSelect(ctx, sel, nil); err != nil {
		return err
	}
	if len(w.plan) == planned {
		return nil
	}
	w.plan = append(w.plan, func() {
		cp.Query = &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}
		cp.Relation = nil
		cp.Attlist = nil
	})
	return nil
}
