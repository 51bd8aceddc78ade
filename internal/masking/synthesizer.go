package masking

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"pganon/internal/catalog"
	"pganon/internal/config"
	"pganon/internal/pgsql"
	"pganon/internal/rule"
)

// Source tells where a column's substitute came from.
type Source int

// Column expression sources.
const (
	// SourceColumn is the authentic column value.
	SourceColumn Source = iota
	// SourceRule is a VALUE or FUNCTION rule.
	SourceRule
	// SourceFallback is the default expression, generation expression or
	// NULL used when a column is masked without an explicit substitute.
	SourceFallback
)

// ColumnExpr is the masking expression chosen for one live column.
type ColumnExpr struct {
	Column catalog.Column
	Expr   string
	Masked bool
	Source Source
}

// Aliased renders "<expr> AS <column>".
func (c ColumnExpr) Aliased() string {
	return c.Expr + " AS " + pgsql.QuoteIdentifier(c.Column.Name)
}

// Synthesizer computes masking expressions for a rewrite pass.
type Synthesizer struct {
	settings config.Settings
	resolver *Resolver
	catalog  catalog.Reader
	logger   *slog.Logger
}

// NewSynthesizer creates a synthesizer reading rules through resolver.
func NewSynthesizer(settings config.Settings, cat catalog.Reader, resolver *Resolver, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{settings: settings, resolver: resolver, catalog: cat, logger: logger}
}

// ValueForColumn decides the substitute of a column. First match wins:
//  1. no rule and privacy by default off: the column itself, unmasked
//  2. FUNCTION rule: the call, cast to the column type in strict mode
//  3. VALUE rule: the value, cast the same way
//  4. NOT MASKED: the column itself, unmasked
//  5. anything else: the default or generation expression, else NULL
func (s *Synthesizer) ValueForColumn(ctx context.Context, rel *catalog.Relation, col catalog.Column, policy string) (ColumnExpr, error) {
	r, err := s.resolver.Rule(ctx, rel.ColumnRef(col), policy)
	if err != nil {
		return ColumnExpr{}, err
	}
	self := ColumnExpr{Column: col, Expr: pgsql.QuoteIdentifier(col.Name), Source: SourceColumn}

	switch {
	case r.Kind == rule.KindNone && !s.settings.PrivacyByDefault:
		return self, nil
	case r.Kind == rule.KindFunction, r.Kind == rule.KindValue:
		return ColumnExpr{Column: col, Expr: s.cast(r.Arg, col), Masked: true, Source: SourceRule}, nil
	case r.Kind == rule.KindNotMasked:
		return self, nil
	}

	expr := "NULL"
	switch {
	case col.Default != "":
		expr = col.Default
	case col.Generated != "":
		expr = col.Generated
	}
	return ColumnExpr{Column: col, Expr: expr, Masked: true, Source: SourceFallback}, nil
}

func (s *Synthesizer) cast(expr string, col catalog.Column) string {
	if !s.settings.StrictMode {
		return expr
	}
	return CastAsType(expr, col.Type)
}

// CastAsType wraps expr in CAST(... AS typ).
func CastAsType(expr, typ string) string {
	return "CAST(" + expr + " AS " + typ + ")"
}

// ColumnExprs applies ValueForColumn to every live column and reports
// whether any column is masked.
func (s *Synthesizer) ColumnExprs(ctx context.Context, rel *catalog.Relation, policy string) ([]ColumnExpr, bool, error) {
	out := make([]ColumnExpr, 0, len(rel.Columns))
	var masked bool
	for _, col := range rel.Columns {
		ce, err := s.ValueForColumn(ctx, rel, col, policy)
		if err != nil {
			return nil, false, err
		}
		masked = masked || ce.Masked
		out = append(out, ce)
	}
	return out, masked, nil
}

// TableMaskingExpressions returns "<expr> AS <name>" for every live column,
// comma joined, and whether any column is masked.
func (s *Synthesizer) TableMaskingExpressions(ctx context.Context, rel *catalog.Relation, policy string) (string, bool, error) {
	exprs, masked, err := s.ColumnExprs(ctx, rel, policy)
	if err != nil {
		return "", false, err
	}
	return joinAliased(exprs), masked, nil
}

func joinAliased(exprs []ColumnExpr) string {
	return strings.Join(lo.Map(exprs, func(e ColumnExpr, _ int) string { return e.Aliased() }), ", ")
}
