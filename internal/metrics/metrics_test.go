package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRewrite(ResultRewritten, 2)
	m.ObserveRewrite(ResultUnchanged, 0)
	m.ObserveRewrite(ResultRewritten, 1)
	m.ObserveTrustRejection("schema_not_trusted")
	m.ObserveStatic("table", OutcomeMasked)

	assert.InDelta(t, 2, testutil.ToFloat64(m.rewriteStatements.WithLabelValues(ResultRewritten)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rewriteStatements.WithLabelValues(ResultUnchanged)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.maskedRelations), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.trustRejections.WithLabelValues("schema_not_trusted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.staticOperations.WithLabelValues("table", OutcomeMasked)), 0)

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
