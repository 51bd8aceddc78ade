package engine_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pganon/internal/catalog"
	"pganon/internal/config"
	"pganon/internal/domain"
	"pganon/internal/engine"
	"pganon/internal/fixture"
	"pganon/internal/metrics"
	"pganon/internal/static"
	"pganon/internal/testutil"
	"pganon/internal/trust"
)

var ctx = context.Background()

func setupEngine(t *testing.T, opts engine.Options) (*engine.Engine, *fixture.Loaded) {
	t.Helper()
	l := testutil.LoadPeople(t)
	if opts.Policies == "" {
		opts.Policies = "devtests"
	}
	return engine.New(config.DefaultSettings(), l.Catalog, l.Labels, opts), l
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestEngine_ReloadPolicies(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})

	e.ReloadPolicies("analytics")
	assert.Equal(t, []string{"anon", "analytics"}, e.Policies())
	_, masked, err := e.MaskingPolicyOf(ctx, "robin")
	require.NoError(t, err)
	assert.False(t, masked, "robin is only masked in a policy that is gone")

	e.ReloadPolicies("devtests")
	p, masked, err := e.MaskingPolicyOf(ctx, "robin")
	require.NoError(t, err)
	assert.True(t, masked)
	assert.Equal(t, "devtests", p)
}

func TestEngine_Policies(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})
	assert.Equal(t, []string{"anon", "devtests"}, e.Policies())

	tests := []struct {
		role   string
		policy string
		masked bool
	}{
		{"batman", "anon", true},
		{"robin", "devtests", true},
		{"alfred", "", false},
		{"nobody", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			p, masked, err := e.MaskingPolicyOf(ctx, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.masked, masked)
			assert.Equal(t, tt.policy, p)
		})
	}
}

func TestEngine_TableMaskingExpressions(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})

	exprs, masked, err := e.TableMaskingExpressions(ctx, "invoice", "anon")
	require.NoError(t, err)
	assert.False(t, masked, "sampling alone does not mask a column")
	assert.Equal(t, "id AS id, amount AS amount", exprs)

	_, masked, err = e.TableMaskingExpressions(ctx, "public.person", "anon")
	require.NoError(t, err)
	assert.True(t, masked)

	_, _, err = e.TableMaskingExpressions(ctx, "ghost", "anon")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_ValueForColumn(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})

	ce, err := e.ValueForColumn(ctx, "person", "lastname", "anon")
	require.NoError(t, err)
	assert.True(t, ce.Masked)
	assert.Equal(t, "CAST(NULL AS text)", ce.Expr)

	ce, err = e.ValueForColumn(ctx, "person", "lastname", "devtests")
	require.NoError(t, err)
	assert.False(t, ce.Masked)
	assert.Equal(t, "lastname", ce.Expr)

	_, err = e.ValueForColumn(ctx, "person", "nope", "anon")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestEngine_CheckFunction(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, _ := setupEngine(t, engine.Options{Metrics: metrics.New(reg)})

	require.NoError(t, e.CheckFunction(ctx, "anon.lower('A')", "anon"))

	err := e.CheckFunction(ctx, "foo()", "anon")
	var te *trust.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, trust.FunctionUnqualified, te.Reason)

	err = e.CheckFunction(ctx, "anon.lower(pg_catalog.pg_ls_dir('.'))", "anon")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, trust.SchemaNotTrusted, te.Reason)

	assert.InDelta(t, 1, counterValue(t, reg, "anon_trust_rejections_total", map[string]string{"reason": trust.FunctionUnqualified.String()}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "anon_trust_rejections_total", map[string]string{"reason": trust.SchemaNotTrusted.String()}), 0)
}

func TestEngine_Rewrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, _ := setupEngine(t, engine.Options{Metrics: metrics.New(reg)})

	out, err := e.Rewrite(ctx, "alfred", "SELECT * FROM person")
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, "SELECT * FROM person", out.SQL)

	out, err = e.Rewrite(ctx, "batman", "SELECT * FROM person")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, "anon", out.Policy)
	assert.Equal(t, []string{"public.person"}, out.Masked)
	assert.Contains(t, out.SQL, "anon.partial(")

	_, err = e.Rewrite(ctx, "batman", "DELETE FROM person")
	var denied *domain.InsufficientPrivilegeError
	require.ErrorAs(t, err, &denied)

	assert.InDelta(t, 1, counterValue(t, reg, "anon_rewrite_statements_total", map[string]string{"result": metrics.ResultRewritten}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "anon_rewrite_statements_total", map[string]string{"result": metrics.ResultUnchanged}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "anon_rewrite_statements_total", map[string]string{"result": metrics.ResultRefused}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "anon_rewrite_masked_relations_total", nil), 0)
}

func TestEngine_RewriteForPolicy(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})

	_, err := e.RewriteForPolicy(ctx, "unknown", "SELECT 1")
	var invalid *domain.InvalidInputError
	require.ErrorAs(t, err, &invalid)

	_, err = e.RewriteForPolicy(ctx, "anon", "SELEC 1")
	require.ErrorAs(t, err, &invalid)

	out, err := e.RewriteForPolicy(ctx, "devtests", "SELECT * FROM invoice")
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Masked)
}

func TestEngine_SetLabel(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})
	str := func(s string) *string { return &s }

	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindColumn, Name: "pet", Column: "name"}, "anon", str("MASKED WITH VALUE 'rex'")))
	exprs, masked, err := e.TableMaskingExpressions(ctx, "pet", "anon")
	require.NoError(t, err)
	assert.True(t, masked)
	assert.Equal(t, "CAST('rex' AS text) AS name", exprs)

	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindColumn, Name: "pet", Column: "name"}, "anon", nil))
	_, masked, err = e.TableMaskingExpressions(ctx, "pet", "anon")
	require.NoError(t, err)
	assert.False(t, masked)

	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindRole, Name: "alfred"}, "anon", str("MASKED")))
	p, ok, err := e.MaskingPolicyOf(ctx, "alfred")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "anon", p)

	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindSchema, Name: "dangerous"}, "anon", str("TRUSTED")))
	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindFunction, Name: "anon.lower(text)"}, "anon", str("UNTRUSTED")))
	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindTable, Name: "pet"}, "anon", str("TABLESAMPLE SYSTEM(20)")))
	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindDatabase}, "anon", str("TABLESAMPLE BERNOULLI(1)")))
	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindColumn, Name: "person", Column: "id"}, "k_anonymity", str("QUASI IDENTIFIER")))
}

func TestEngine_SetLabelRejects(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})
	str := func(s string) *string { return &s }
	column := engine.Target{Kind: domain.KindColumn, Name: "pet", Column: "name"}

	err := e.SetLabel(ctx, column, "anon", str("MASKED WITH FUNCTION dangerous.leak(name)"))
	var te *trust.Error
	require.ErrorAs(t, err, &te)

	var invalid *domain.InvalidInputError
	require.ErrorAs(t, e.SetLabel(ctx, column, "anon", str("TRUSTED")), &invalid)
	require.ErrorAs(t, e.SetLabel(ctx, column, "nope", str("NOT MASKED")), &invalid)

	var unsupported *domain.FeatureNotSupportedError
	require.ErrorAs(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindRole, Name: "alfred"}, "k_anonymity", str("QUASI IDENTIFIER")), &unsupported)
	require.ErrorAs(t, e.SetLabel(ctx, engine.Target{Kind: "index", Name: "x"}, "anon", nil), &unsupported)

	var notFound *domain.NotFoundError
	require.ErrorAs(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindColumn, Name: "pet", Column: "ghost"}, "anon", nil), &notFound)

	exprs, _, err := e.TableMaskingExpressions(ctx, "pet", "anon")
	require.NoError(t, err)
	assert.Equal(t, "name AS name", exprs, "rejected labels are not stored")
}

func TestEngine_SetLabelChecksTarget(t *testing.T) {
	e, l := setupEngine(t, engine.Options{})
	str := func(s string) *string { return &s }
	l.Catalog.AddRelation("public", "pet_view", catalog.KindView, []catalog.Column{{Name: "name", Type: "text"}})

	var invalid *domain.InvalidInputError
	view := engine.Target{Kind: domain.KindTable, Name: "pet_view"}
	require.ErrorAs(t, e.SetLabel(ctx, view, "anon", str("TABLESAMPLE SYSTEM(10)")), &invalid)
	require.NoError(t, e.SetLabel(ctx, view, "anon", nil))

	var notFound *domain.NotFoundError
	other := engine.Target{Kind: domain.KindDatabase, Name: "other"}
	require.ErrorAs(t, e.SetLabel(ctx, other, "anon", str("TABLESAMPLE SYSTEM(10)")), &notFound)
	require.NoError(t, e.SetLabel(ctx, engine.Target{Kind: domain.KindDatabase, Name: "postgres"}, "anon", str("TABLESAMPLE SYSTEM(10)")))
}

func TestEngine_Anonymize(t *testing.T) {
	e, _ := setupEngine(t, engine.Options{})
	var unsupported *domain.FeatureNotSupportedError
	_, err := e.AnonymizeTable(ctx, "person", "anon")
	require.ErrorAs(t, err, &unsupported)
	_, err = e.AnonymizeColumn(ctx, "person", "lastname", "anon")
	require.ErrorAs(t, err, &unsupported)
	_, err = e.AnonymizeDatabase(ctx, "anon")
	require.ErrorAs(t, err, &unsupported)

	db := &testutil.FakeBeginner{}
	e, _ = setupEngine(t, engine.Options{DB: db, StaticParallelism: 1})
	res, err := e.AnonymizeTable(ctx, "person", "anon")
	require.NoError(t, err)
	assert.Equal(t, static.OutcomeMasked, res.Outcome)
	ok, err := e.AnonymizeColumn(ctx, "person", "firstname", "anon")
	require.NoError(t, err)
	assert.False(t, ok)
	results, err := e.AnonymizeDatabase(ctx, "anon")
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

type recordingQuerier struct {
	sql []string
}

func (q *recordingQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.sql = append(q.sql, sql)
	return nil, nil
}

func TestSession_Query(t *testing.T) {
	l := testutil.LoadPeople(t)

	settings := config.DefaultSettings()
	db := &recordingQuerier{}
	s := engine.New(settings, l.Catalog, l.Labels, engine.Options{}).NewSession(db)
	_, err := s.Query(ctx, "batman", "SELECT * FROM person")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT * FROM person"}, db.sql, "masking is off")

	settings.TransparentDynamicMasking = true
	db = &recordingQuerier{}
	s = engine.New(settings, l.Catalog, l.Labels, engine.Options{}).NewSession(db)

	_, err = s.Query(ctx, "alfred", "SELECT * FROM person")
	require.NoError(t, err)
	_, err = s.Query(ctx, "batman", "SELECT * FROM person WHERE id = $1", 1)
	require.NoError(t, err)
	require.Len(t, db.sql, 2)
	assert.Equal(t, "SELECT * FROM person", db.sql[0])
	assert.NotEqual(t, "SELECT * FROM person WHERE id = $1", db.sql[1])
	assert.Contains(t, db.sql[1], "$1")

	_, err = s.Query(ctx, "batman", "TRUNCATE person")
	var denied *domain.InsufficientPrivilegeError
	require.ErrorAs(t, err, &denied)
	assert.Len(t, db.sql, 2)
}
