// Package engine wires the masking components together and exposes the
// administration operations and the masked query path.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"pganon/internal/catalog"
	"pganon/internal/config"
	"pganon/internal/domain"
	"pganon/internal/label"
	"pganon/internal/masking"
	"pganon/internal/metrics"
	"pganon/internal/pgsql"
	"pganon/internal/policy"
	"pganon/internal/provider"
	"pganon/internal/sqlrewrite"
	"pganon/internal/static"
	"pganon/internal/trust"
)

// Options holds the optional collaborators of an Engine.
type Options struct {
	// DB enables static masking. Without it the Anonymize operations
	// report a feature not supported error.
	DB                static.Beginner
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	StaticParallelism int
	// Policies is the raw, comma separated list of extra policies.
	Policies string
}

// Engine is the masking engine bound to one database.
//
// Rule lookups are memoized per operation: every call builds fresh
// resolvers, so label changes are visible to the next call.
type Engine struct {
	settings config.Settings
	catalog  catalog.Reader
	labels   label.ReadWriter
	policies *policy.Registry
	applier  *static.Applier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Engine.
func New(settings config.Settings, cat catalog.Reader, labels label.ReadWriter, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	raw := opts.Policies
	if raw == "" {
		raw = settings.MaskingPolicies
	}
	e := &Engine{
		settings: settings,
		catalog:  cat,
		labels:   labels,
		policies: policy.NewRegistry(raw, cat, labels),
		metrics:  opts.Metrics,
		logger:   logger,
	}
	if opts.DB != nil {
		e.applier = static.NewApplier(opts.DB, cat, labels, settings, logger, opts.Metrics, opts.StaticParallelism)
	}
	return e
}

// Settings returns the configuration snapshot of the engine.
func (e *Engine) Settings() config.Settings { return e.settings }

// Policies lists the declared masking policies, default first.
func (e *Engine) Policies() []string { return e.policies.List() }

// ReloadPolicies replaces the extra masking policies with the raw comma
// separated list.
func (e *Engine) ReloadPolicies(raw string) {
	e.policies.Reload(raw)
	e.logger.Info("masking policies reloaded", "policies", e.policies.List())
}

// MaskingPolicyOf returns the first policy in which the named role is
// masked.
func (e *Engine) MaskingPolicyOf(ctx context.Context, role string) (string, bool, error) {
	return e.policies.MaskingPolicyOfRole(ctx, role)
}

func (e *Engine) synthesizer() *masking.Synthesizer {
	return masking.NewSynthesizer(e.settings, e.catalog, masking.NewResolver(e.labels), e.logger)
}

func (e *Engine) relation(ctx context.Context, table string) (*catalog.Relation, error) {
	schema, name, err := pgsql.ParseQualifiedName(table)
	if err != nil {
		return nil, err
	}
	return e.catalog.Relation(ctx, schema, name)
}

// TableMaskingExpressions returns the masking expression of every column
// of table, and whether any column is masked.
func (e *Engine) TableMaskingExpressions(ctx context.Context, table, policyName string) (string, bool, error) {
	rel, err := e.relation(ctx, table)
	if err != nil {
		return "", false, err
	}
	return e.synthesizer().TableMaskingExpressions(ctx, rel, policyName)
}

// ValueForColumn returns the masking expression of one column.
func (e *Engine) ValueForColumn(ctx context.Context, table, column, policyName string) (masking.ColumnExpr, error) {
	rel, err := e.relation(ctx, table)
	if err != nil {
		return masking.ColumnExpr{}, err
	}
	col, ok := rel.Column(column)
	if !ok {
		return masking.ColumnExpr{}, domain.ErrNotFound("column %q of relation %s does not exist", column, rel.QualifiedName())
	}
	return e.synthesizer().ValueForColumn(ctx, rel, col, policyName)
}

// CheckFunction verifies that a masking function call only uses trusted
// functions.
func (e *Engine) CheckFunction(ctx context.Context, call, policyName string) error {
	err := e.verifier().CheckFunction(ctx, call, policyName)
	var te *trust.Error
	if errors.As(err, &te) {
		e.logger.Warn("untrusted masking function", "call", call, "policy", policyName, "reason", te.Reason.String())
		if e.metrics != nil {
			e.metrics.ObserveTrustRejection(te.Reason.String())
		}
	}
	return err
}

func (e *Engine) verifier() *trust.Verifier {
	return trust.NewVerifier(e.catalog, masking.NewResolver(e.labels), e.settings.RestrictToTrustedSchemas)
}

func (e *Engine) validator() *provider.Validator {
	return provider.NewValidator(e.policies, e.verifier(), e.settings.KAnonymityProvider)
}

// Rewritten is the outcome of a masked rewrite.
type Rewritten struct {
	SQL    string
	Policy string
	// Masked lists the relations replaced by a masking subquery.
	Masked  []string
	Changed bool
}

// Rewrite rewrites sql for a role. Statements of unmasked roles come back
// unchanged.
func (e *Engine) Rewrite(ctx context.Context, role, sql string) (Rewritten, error) {
	policyName, masked, err := e.MaskingPolicyOf(ctx, role)
	if err != nil {
		return Rewritten{}, err
	}
	if !masked {
		e.observeRewrite(metrics.ResultUnchanged, 0)
		return Rewritten{SQL: sql}, nil
	}
	return e.RewriteForPolicy(ctx, policyName, sql)
}

// RewriteForPolicy rewrites sql as if the caller were masked in policyName.
func (e *Engine) RewriteForPolicy(ctx context.Context, policyName, sql string) (Rewritten, error) {
	if !e.policies.Has(policyName) {
		return Rewritten{}, domain.ErrInvalidInput("'%s' is not a masking policy", policyName)
	}
	out := Rewritten{SQL: sql, Policy: policyName}

	q, err := sqlrewrite.Parse(sql)
	if err != nil {
		e.observeRewrite(metrics.ResultError, 0)
		return out, err
	}
	w := sqlrewrite.NewTreeWalker(policyName, e.settings, e.catalog, e.labels, e.logger)
	changed, err := w.Rewrite(ctx, q)
	if err != nil {
		var denied *domain.InsufficientPrivilegeError
		if errors.As(err, &denied) {
			e.observeRewrite(metrics.ResultRefused, 0)
		} else {
			e.observeRewrite(metrics.ResultError, 0)
		}
		return out, err
	}

	relations := q.MaskedRelations()
	for _, m := range relations {
		out.Masked = append(out.Masked, m.Relation.QualifiedName())
	}
	if !changed {
		e.observeRewrite(metrics.ResultUnchanged, 0)
		return out, nil
	}
	if out.SQL, err = q.SQL(); err != nil {
		e.observeRewrite(metrics.ResultError, 0)
		return out, domain.ErrInternal("deparse rewritten statement: %v", err)
	}
	out.Changed = true
	e.observeRewrite(metrics.ResultRewritten, len(relations))
	return out, nil
}

func (e *Engine) observeRewrite(result string, masked int) {
	if e.metrics != nil {
		e.metrics.ObserveRewrite(result, masked)
	}
}

func (e *Engine) staticApplier() (*static.Applier, error) {
	if e.applier == nil {
		return nil, domain.ErrFeatureNotSupported("static masking requires a database connection")
	}
	return e.applier, nil
}

// AnonymizeColumn masks the stored values of one column.
func (e *Engine) AnonymizeColumn(ctx context.Context, table, column, policyName string) (bool, error) {
	a, err := e.staticApplier()
	if err != nil {
		return false, err
	}
	return a.AnonymizeColumn(ctx, table, column, policyName)
}

// AnonymizeTable masks the stored rows of one table.
func (e *Engine) AnonymizeTable(ctx context.Context, table, policyName string) (static.Result, error) {
	a, err := e.staticApplier()
	if err != nil {
		return static.Result{Table: table}, err
	}
	return a.AnonymizeTable(ctx, table, policyName)
}

// AnonymizeDatabase masks every user table.
func (e *Engine) AnonymizeDatabase(ctx context.Context, policyName string) ([]static.Result, error) {
	a, err := e.staticApplier()
	if err != nil {
		return nil, err
	}
	return a.AnonymizeDatabase(ctx, policyName)
}
