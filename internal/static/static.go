// Package static rewrites stored data in place with the masking rules of a
// policy.
package static

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"pganon/internal/catalog"
	"pganon/internal/config"
	"pganon/internal/label"
	"pganon/internal/masking"
	"pganon/internal/metrics"
	"pganon/internal/pgsql"
)

// Beginner starts transactions. *pgxpool.Pool and *pgx.Conn satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Outcome of a table anonymization.
type Outcome int

const (
	// OutcomeNoRule means neither a masked column nor a sampling rule was
	// found; nothing ran.
	OutcomeNoRule Outcome = iota
	// OutcomeMasked means the masking statements ran. RowsAffected tells
	// whether they had any effect.
	OutcomeMasked
)

func (o Outcome) String() string {
	if o == OutcomeMasked {
		return metrics.OutcomeMasked
	}
	return metrics.OutcomeNoRule
}

// Result describes one table anonymization.
type Result struct {
	Table        string
	Outcome      Outcome
	Sampled      bool
	RowsAffected int64
}

// Applied reports whether masking statements ran.
func (r Result) Applied() bool { return r.Outcome == OutcomeMasked }

// Applier runs static masking against a database.
type Applier struct {
	db          Beginner
	catalog     catalog.Reader
	labels      label.Store
	settings    config.Settings
	logger      *slog.Logger
	metrics     *metrics.Metrics
	parallelism int
}

// NewApplier creates an Applier. m may be nil.
func NewApplier(db Beginner, cat catalog.Reader, labels label.Store, settings config.Settings, logger *slog.Logger, m *metrics.Metrics, parallelism int) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Applier{
		db:          db,
		catalog:     cat,
		labels:      labels,
		settings:    settings,
		logger:      logger,
		metrics:     m,
		parallelism: parallelism,
	}
}

func (a *Applier) synthesizer() *masking.Synthesizer {
	return masking.NewSynthesizer(a.settings, a.catalog, masking.NewResolver(a.labels), a.logger)
}

func (a *Applier) relation(ctx context.Context, table string) (*catalog.Relation, error) {
	schema, name, err := pgsql.ParseQualifiedName(table)
	if err != nil {
		return nil, err
	}
	return a.catalog.Relation(ctx, schema, name)
}

func (a *Applier) observe(operation string, err error, outcome string) {
	if a.metrics == nil {
		return
	}
	if err != nil {
		outcome = metrics.OutcomeError
	}
	a.metrics.ObserveStatic(operation, outcome)
}

// AnonymizeColumn replaces every value of one column with its masking
// expression. It returns false, without touching the data, when the column
// does not exist or is not masked. A sampling rule on the table is ignored.
func (a *Applier) AnonymizeColumn(ctx context.Context, table, column, policy string) (bool, error) {
	applied, err := a.anonymizeColumn(ctx, table, column, policy)
	outcome := metrics.OutcomeNoRule
	if applied {
		outcome = metrics.OutcomeMasked
	}
	a.observe("column", err, outcome)
	return applied, err
}

func (a *Applier) anonymizeColumn(ctx context.Context, table, column, policy string) (bool, error) {
	rel, err := a.relation(ctx, table)
	if err != nil {
		return false, err
	}
	synth := a.synthesizer()

	if _, sampled, err := synth.RatioForTable(ctx, rel, policy); err != nil {
		return false, err
	} else if sampled {
		a.logger.Warn("TABLESAMPLE rule ignored, only table and database anonymization apply sampling",
			"table", rel.QualifiedName(), "policy", policy)
	}

	col, ok := rel.Column(column)
	if !ok || col.IsGenerated() {
		a.logger.Warn("no masking rule for column", "table", rel.QualifiedName(), "column", column, "policy", policy)
		return false, nil
	}
	ce, err := synth.ValueForColumn(ctx, rel, col, policy)
	if err != nil {
		return false, err
	}
	if !ce.Masked {
		a.logger.Warn("no masking rule for column", "table", rel.QualifiedName(), "column", column, "policy", policy)
		return false, nil
	}

	stmts := []string{
		"SET CONSTRAINTS ALL DEFERRED",
		fmt.Sprintf("UPDATE %s SET %s", rel.QualifiedName(), assignment(ce)),
	}
	if _, err := a.inTx(ctx, stmts, -1); err != nil {
		return false, fmt.Errorf("anonymize column %s.%s: %w", rel.QualifiedName(), column, err)
	}
	return true, nil
}

// AnonymizeTable applies the policy to a whole table. With a sampling rule
// the table is rebuilt from its masking subquery through a temporary table;
// otherwise one UPDATE assigns every masked column.
func (a *Applier) AnonymizeTable(ctx context.Context, table, policy string) (Result, error) {
	rel, err := a.relation(ctx, table)
	if err != nil {
		a.observe("table", err, "")
		return Result{Table: table}, err
	}
	res, err := a.anonymizeRelation(ctx, rel, policy)
	a.observe("table", err, res.Outcome.String())
	return res, err
}

func (a *Applier) anonymizeRelation(ctx context.Context, rel *catalog.Relation, policy string) (Result, error) {
	res := Result{Table: rel.QualifiedName()}
	sub, err := a.synthesizer().Subquery(ctx, rel, policy)
	if err != nil {
		return res, err
	}
	if sub == nil {
		a.logger.Debug("no masking rule for table", "table", res.Table, "policy", policy)
		return res, nil
	}

	var stmts []string
	affected := -1
	if sub.Ratio != "" {
		stmts = swapStatements(sub)
		affected = 2
		res.Sampled = true
	} else {
		cols := sub.MaskedColumns()
		if len(cols) == 0 {
			return res, nil
		}
		stmts = []string{fmt.Sprintf("UPDATE %s SET %s", res.Table,
			strings.Join(lo.Map(cols, func(c masking.ColumnExpr, _ int) string { return assignment(c) }), ", "))}
	}

	rows, err := a.inTx(ctx, stmts, affected)
	if err != nil {
		return res, fmt.Errorf("anonymize table %s: %w", res.Table, err)
	}
	res.Outcome = OutcomeMasked
	res.RowsAffected = rows
	a.logger.Info("table anonymized", "table", res.Table, "policy", policy, "sampled", res.Sampled, "rows", rows)
	return res, nil
}

// AnonymizeDatabase anonymizes every user table outside the own schema,
// each in its own transaction. Results come back in catalog order; the first
// error cancels the remaining tables.
func (a *Applier) AnonymizeDatabase(ctx context.Context, policy string) ([]Result, error) {
	tables, err := a.catalog.Tables(ctx)
	if err != nil {
		return nil, err
	}
	tables = lo.Filter(tables, func(rel *catalog.Relation, _ int) bool {
		return rel.Schema != a.settings.OwnSchema && !catalog.IsSystemSchema(rel.Schema)
	})

	results := make([]Result, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for i, rel := range tables {
		g.Go(func() error {
			res, err := a.anonymizeRelation(gctx, rel, policy)
			a.observe("table", err, res.Outcome.String())
			results[i] = res
			return err
		})
	}
	err = g.Wait()
	a.observe("database", err, metrics.OutcomeMasked)
	return results, err
}

// inTx runs stmts in one transaction and returns the rows affected by the
// statement at index counted, or by the last one when counted is negative.
func (a *Applier) inTx(ctx context.Context, stmts []string, counted int) (int64, error) {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if counted < 0 {
		counted = len(stmts) - 1
	}
	var rows int64
	for i, sql := range stmts {
		a.logger.Debug("static masking", "sql", sql)
		tag, err := tx.Exec(ctx, sql)
		if err != nil {
			return 0, err
		}
		if i == counted {
			rows = tag.RowsAffected()
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return rows, nil
}

// swapStatements rebuilds a sampled table: copy the masked sample aside,
// empty the table and insert the sample back. Generated columns are left for
// the server to recompute.
func swapStatements(sub *masking.Subquery) []string {
	rel := sub.Relation
	swap := pgsql.QuoteIdentifier(fmt.Sprintf("anon_swap_%d_%s", rel.OID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]))
	cols := strings.Join(lo.FilterMap(sub.Columns, func(c masking.ColumnExpr, _ int) (string, bool) {
		return pgsql.QuoteIdentifier(c.Column.Name), !c.Column.IsGenerated()
	}), ", ")
	return []string{
		fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s", swap, sub.SQL),
		fmt.Sprintf("TRUNCATE TABLE %s", rel.QualifiedName()),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", rel.QualifiedName(), cols, cols, swap),
		fmt.Sprintf("DROP TABLE %s", swap),
	}
}

func assignment(c masking.ColumnExpr) string {
	return pgsql.QuoteIdentifier(c.Column.Name) + " = " + c.Expr
}
