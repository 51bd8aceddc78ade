package sqlrewrite

import (
	"context"
	"errors"
	"log/slog"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"pganon/internal/catalog"
	"pganon/internal/config"
	"pganon/internal/domain"
	"pganon/internal/label"
	"pganon/internal/masking"
	"pganon/internal/pgsql"
)

// TreeWalker rewrites the statements of one pass under one policy.
//
// The walk has two phases. The first visits every range table entry of every
// (sub)query and plans substitutions without touching the tree; the second
// applies the plan. An error in the first phase is kept in the error slot and
// leaves the tree as it was.
type TreeWalker struct {
	policy    string
	ownSchema string
	catalog   catalog.Reader
	synth     *masking.Synthesizer
	logger    *slog.Logger

	err       error
	query     *Query
	plan      []func()
	generated map[*pg_query.SelectStmt]struct{}
	masked    []MaskedRelation
}

// NewTreeWalker creates a walker for one pass. Rules are memoized for the
// lifetime of the walker.
func NewTreeWalker(policy string, settings config.Settings, cat catalog.Reader, labels label.Store, logger *slog.Logger) *TreeWalker {
	if logger == nil {
		logger = slog.Default()
	}
	resolver := masking.NewResolver(labels)
	return &TreeWalker{
		policy:    policy,
		ownSchema: settings.OwnSchema,
		catalog:   cat,
		synth:     masking.NewSynthesizer(settings, cat, resolver, logger),
		logger:    logger,
	}
}

// Policy returns the policy the walker masks with.
func (w *TreeWalker) Policy() string { return w.policy }

// Err returns the error that aborted the last rewrite, if any.
func (w *TreeWalker) Err() error { return w.err }

// Rewrite applies the utility rewrite and the statement-tree rewrite to
// every statement of q. It reports whether the tree changed.
func (w *TreeWalker) Rewrite(ctx context.Context, q *Query) (bool, error) {
	w.err = nil
	w.query = q
	w.plan = nil
	w.generated = make(map[*pg_query.SelectStmt]struct{})
	w.masked = nil

	for _, raw := range q.Tree.Stmts {
		if err := w.rewriteUtility(ctx, raw.Stmt); err != nil {
			w.err = err
			return false, err
		}
		if err := w.walkNode(ctx, raw.Stmt, nil); err != nil {
			w.err = err
			return false, err
		}
	}

	for _, apply := range w.plan {
		apply()
	}
	for sel := range w.generated {
		q.generated[sel] = struct{}{}
	}
	q.masked = append(q.masked, w.masked...)
	return len(w.plan) > 0, nil
}

// RewriteSQL parses, rewrites and deparses. Text that needs no change is
// returned as is.
func (w *TreeWalker) RewriteSQL(ctx context.Context, sql string) (string, error) {
	q, err := Parse(sql)
	if err != nil {
		w.err = err
		return "", err
	}
	changed, err := w.Rewrite(ctx, q)
	if err != nil {
		return "", err
	}
	if !changed {
		return sql, nil
	}
	return q.SQL()
}

func (w *TreeWalker) isGenerated(sel *pg_query.SelectStmt) bool {
	if w.query.IsGenerated(sel) {
		return true
	}
	_, ok := w.generated[sel]
	return ok
}

// walkNode dispatches on statement kind.
func (w *TreeWalker) walkNode(ctx context.Context, node *pg_query.Node, sc *scope) error {
	if node == nil || node.Node == nil {
		return nil
	}
	if kind := refusedStatement(node); kind != "" {
		return domain.ErrInsufficientPrivilege("role is masked: %s is not allowed", kind)
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return w.walkSelect(ctx, n.SelectStmt, sc)
	case *pg_query.Node_CopyStmt:
		return w.walkNode(ctx, n.CopyStmt.Query, sc)
	case *pg_query.Node_DeclareCursorStmt:
		return w.walkNode(ctx, n.DeclareCursorStmt.Query, sc)
	case *pg_query.Node_PrepareStmt:
		return w.walkNode(ctx, n.PrepareStmt.Query, sc)
	}
	return nil
}

// walkSelect visits a (sub)query: its CTEs, set-operation arms, FROM items
// and every expression that may hold a sublink.
func (w *TreeWalker) walkSelect(ctx context.Context, sel *pg_query.SelectStmt, sc *scope) error {
	if sel == nil || w.isGenerated(sel) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if sel.IntoClause != nil {
		return domain.ErrInsufficientPrivilege("role is masked: SELECT INTO is not allowed")
	}

	if sel.WithClause != nil {
		var err error
		if sc, err = w.walkWith(ctx, sel.WithClause, sc); err != nil {
			return err
		}
	}
	if err := w.walkSelect(ctx, sel.Larg, sc); err != nil {
		return err
	}
	if err := w.walkSelect(ctx, sel.Rarg, sc); err != nil {
		return err
	}
	for _, from := range sel.FromClause {
		if err := w.walkFrom(ctx, from, sc); err != nil {
			return err
		}
	}
	for _, child := range pgsql.FieldChildren(sel, "with_clause", "larg", "rarg", "from_clause", "into_clause") {
		if err := w.walkExpr(ctx, child, sc); err != nil {
			return err
		}
	}
	return nil
}

// walkWith visits CTE bodies. A non-recursive CTE only sees the CTEs listed
// before it; in WITH RECURSIVE every name is visible everywhere.
func (w *TreeWalker) walkWith(ctx context.Context, with *pg_query.WithClause, parent *scope) (*scope, error) {
	sc := parent.child()
	ctes := make([]*pg_query.CommonTableExpr, 0, len(with.Ctes))
	for _, n := range with.Ctes {
		if cte := n.GetCommonTableExpr(); cte != nil {
			ctes = append(ctes, cte)
		}
	}
	if with.Recursive {
		for _, cte := range ctes {
			sc.add(cte.Ctename)
		}
	}
	for _, cte := range ctes {
		if err := w.walkNode(ctx, cte.Ctequery, sc); err != nil {
			return nil, err
		}
		sc.add(cte.Ctename)
	}
	return sc, nil
}

// walkFrom visits one FROM item.
func (w *TreeWalker) walkFrom(ctx context.Context, node *pg_query.Node, sc *scope) error {
	if node == nil {
		return nil
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		return w.maskRelation(ctx, node, n.RangeVar, nil, sc)
	case *pg_query.Node_RangeTableSample:
		ts := n.RangeTableSample
		for _, arg := range ts.Args {
			if err := w.walkExpr(ctx, arg, sc); err != nil {
				return err
			}
		}
		if err := w.walkExpr(ctx, ts.Repeatable, sc); err != nil {
			return err
		}
		if rv := ts.Relation.GetRangeVar(); rv != nil {
			return w.maskRelation(ctx, node, rv, ts, sc)
		}
		return w.walkFrom(ctx, ts.Relation, sc)
	case *pg_query.Node_JoinExpr:
		if err := w.walkFrom(ctx, n.JoinExpr.Larg, sc); err != nil {
			return err
		}
		if err := w.walkFrom(ctx, n.JoinExpr.Rarg, sc); err != nil {
			return err
		}
		return w.walkExpr(ctx, n.JoinExpr.Quals, sc)
	case *pg_query.Node_RangeSubselect:
		return w.walkNode(ctx, n.RangeSubselect.Subquery, sc)
	}
	return w.walkExpr(ctx, node, sc)
}

// walkExpr searches an expression for sublinks and walks their queries.
func (w *TreeWalker) walkExpr(ctx context.Context, node *pg_query.Node, sc *scope) error {
	if node == nil || node.Node == nil {
		return nil
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		if err := w.walkExpr(ctx, n.SubLink.Testexpr, sc); err != nil {
			return err
		}
		return w.walkNode(ctx, n.SubLink.Subselect, sc)
	case *pg_query.Node_SelectStmt:
		return w.walkSelect(ctx, n.SelectStmt, sc)
	case *pg_query.Node_RangeVar:
		return nil
	}
	if kind := refusedStatement(node); kind != "" {
		return domain.ErrInsufficientPrivilege("role is masked: %s is not allowed", kind)
	}
	for _, child := range pgsql.Children(node) {
		if err := w.walkExpr(ctx, child, sc); err != nil {
			return err
		}
	}
	return nil
}

// refusedStatement names the statement kinds a masked role may not run.
// Procedural bodies are never rewritten, so statements that store one are
// refused along with DO.
func refusedStatement(node *pg_query.Node) string {
	switch n := node.Node.(type) {
	case *pg_query.Node_InsertStmt:
		return "INSERT"
	case *pg_query.Node_UpdateStmt:
		return "UPDATE"
	case *pg_query.Node_DeleteStmt:
		return "DELETE"
	case *pg_query.Node_MergeStmt:
		return "MERGE"
	case *pg_query.Node_TruncateStmt:
		return "TRUNCATE"
	case *pg_query.Node_CreateStmt:
		return "CREATE TABLE"
	case *pg_query.Node_CreateTableAsStmt:
		return "CREATE TABLE AS"
	case *pg_query.Node_ViewStmt:
		return "CREATE VIEW"
	case *pg_query.Node_DropStmt:
		return "DROP"
	case *pg_query.Node_SecLabelStmt:
		return "SECURITY LABEL"
	case *pg_query.Node_DoStmt:
		return "DO"
	case *pg_query.Node_CreateFunctionStmt:
		if n.CreateFunctionStmt.IsProcedure {
			return "CREATE PROCEDURE"
		}
		return "CREATE FUNCTION"
	case *pg_query.Node_RuleStmt:
		return "CREATE RULE"
	case *pg_query.Node_CreateTrigStmt:
		return "CREATE TRIGGER"
	case *pg_query.Node_ExplainStmt:
		return "EXPLAIN"
	}
	return ""
}

// scope tracks the CTE names visible at a point of the walk.
type scope struct {
	parent *scope
	ctes   map[string]struct{}
}

func (s *scope) child() *scope {
	return &scope{parent: s, ctes: make(map[string]struct{})}
}

func (s *scope) add(name string) { s.ctes[name] = struct{}{} }

func (s *scope) hasCTE(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.ctes[name]; ok {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var notFound *domain.NotFoundError
	return errors.As(err, &notFound)
}
