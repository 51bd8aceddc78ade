// Package pgsql wraps the PostgreSQL parser: statement and expression
// parsing, deparsing, identifier quoting and ordered traversal of parse trees.
package pgsql

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"pganon/internal/domain"
)

// Parse parses one or more SQL statements.
func Parse(sql string) (*pg_query.ParseResult, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse SQL: %w", err)
	}
	return tree, nil
}

// Deparse turns a parse tree back into SQL text.
func Deparse(tree *pg_query.ParseResult) (string, error) {
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("deparse: %w", err)
	}
	return out, nil
}

// ParseSelect parses text that must hold exactly one SELECT statement.
func ParseSelect(sql string) (*pg_query.SelectStmt, error) {
	tree, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(tree.Stmts) != 1 {
		return nil, domain.ErrInvalidInput("expected a single statement, got %d", len(tree.Stmts))
	}
	sel := tree.Stmts[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return nil, domain.ErrInvalidInput("expected a SELECT statement")
	}
	return sel, nil
}

// ParseExpression parses a single scalar expression by wrapping it in
// SELECT. Anything that would widen the statement beyond one bare target,
// such as a second target, an alias or a FROM clause, is rejected.
func ParseExpression(expr string) (*pg_query.Node, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, domain.ErrInvalidInput("empty expression")
	}
	sel, err := ParseSelect("SELECT " + expr)
	if err != nil {
		return nil, domain.ErrInvalidInput("%s is not a valid expression: %v", expr, err)
	}
	if !bareSelect(sel) || len(sel.TargetList) != 1 {
		return nil, domain.ErrInvalidInput("%s is not a single expression", expr)
	}
	target := sel.TargetList[0].GetResTarget()
	if target == nil || target.Name != "" || target.Val == nil {
		return nil, domain.ErrInvalidInput("%s is not a single expression", expr)
	}
	return target.Val, nil
}

// ParseTablesample parses a sampling clause such as "BERNOULLI(10)".
func ParseTablesample(clause string) (*pg_query.RangeTableSample, error) {
	if strings.TrimSpace(clause) == "" {
		return nil, domain.ErrInvalidInput("empty TABLESAMPLE clause")
	}
	sel, err := ParseSelect("SELECT 1 FROM sampled TABLESAMPLE " + clause)
	if err != nil {
		return nil, domain.ErrInvalidInput("%s is not a valid TABLESAMPLE clause: %v", clause, err)
	}
	if len(sel.FromClause) != 1 || sel.WhereClause != nil || len(sel.GroupClause) != 0 ||
		sel.HavingClause != nil || len(sel.SortClause) != 0 || sel.LimitCount != nil ||
		sel.LimitOffset != nil || len(sel.LockingClause) != 0 || len(sel.WindowClause) != 0 {
		return nil, domain.ErrInvalidInput("%s is not a valid TABLESAMPLE clause", clause)
	}
	ts := sel.FromClause[0].GetRangeTableSample()
	if ts == nil || ts.Relation.GetRangeVar() == nil {
		return nil, domain.ErrInvalidInput("%s is not a valid TABLESAMPLE clause", clause)
	}
	return ts, nil
}

// ParseQualifiedName splits a possibly schema-qualified, possibly quoted
// relation name.
func ParseQualifiedName(name string) (schema, relname string, err error) {
	if strings.TrimSpace(name) == "" {
		return "", "", domain.ErrInvalidObject("empty relation name")
	}
	sel, perr := ParseSelect("SELECT 1 FROM " + name)
	if perr != nil {
		return "", "", domain.ErrInvalidObject("%s is not a valid relation name", name)
	}
	if !bareSelectFrom(sel) || len(sel.FromClause) != 1 {
		return "", "", domain.ErrInvalidObject("%s is not a valid relation name", name)
	}
	rv := sel.FromClause[0].GetRangeVar()
	if rv == nil || rv.Alias != nil || rv.Catalogname != "" || !rv.Inh {
		return "", "", domain.ErrInvalidObject("%s is not a valid relation name", name)
	}
	return rv.Schemaname, rv.Relname, nil
}

// FunctionSchema returns the schema qualifier of a function call, or "" when
// the call is unqualified.
func FunctionSchema(call string) (string, error) {
	node, err := ParseExpression(call)
	if err != nil {
		return "", err
	}
	fc := node.GetFuncCall()
	if fc == nil {
		return "", domain.ErrInvalidInput("%s is not a function call", call)
	}
	names := FuncName(fc)
	if len(names) < 2 {
		return "", nil
	}
	return names[len(names)-2], nil
}

// FuncName returns the name parts of a function call.
func FuncName(fc *pg_query.FuncCall) []string {
	names := make([]string, 0, len(fc.Funcname))
	for _, n := range fc.Funcname {
		names = append(names, n.GetString_().GetSval())
	}
	return names
}

// bareSelect reports whether sel carries nothing but a target list.
func bareSelect(sel *pg_query.SelectStmt) bool {
	return len(sel.FromClause) == 0 && bareSelectFrom(sel)
}

func bareSelectFrom(sel *pg_query.SelectStmt) bool {
	return sel.WhereClause == nil && len(sel.GroupClause) == 0 && sel.HavingClause == nil &&
		len(sel.WindowClause) == 0 && len(sel.SortClause) == 0 && sel.LimitCount == nil &&
		sel.LimitOffset == nil && len(sel.LockingClause) == 0 && sel.WithClause == nil &&
		sel.IntoClause == nil && len(sel.DistinctClause) == 0 && len(sel.ValuesLists) == 0 &&
		sel.Larg == nil && sel.Rarg == nil
}
