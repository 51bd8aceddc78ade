package trust

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pganon/internal/domain"
	"pganon/internal/masking"
	"pganon/internal/testutil"
)

func newVerifier(t *testing.T, restrict bool) *Verifier {
	t.Helper()
	l := testutil.LoadPeople(t)
	return NewVerifier(l.Catalog, masking.NewResolver(l.Labels), restrict)
}

func TestFold(t *testing.T) {
	assert.Equal(t, Unknown, Fold(nil))
	assert.Equal(t, Unknown, Fold([]string{"", "junk"}))
	assert.Equal(t, Trusted, Fold([]string{"", "TRUSTED"}))
	assert.Equal(t, Untrusted, Fold([]string{"TRUSTED", "UNTRUSTED", "TRUSTED"}))
	assert.Equal(t, Untrusted, Fold([]string{"untrusted"}))
}

func TestCheckFunction(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, true)

	tests := []struct {
		call    string
		reason  Reason
		culprit string
	}{
		{"anon.lower('A')", 0, ""},
		{"dangerous.vetted(firstname)", 0, ""},
		{"anon.partial(phone, 2, $$***$$, 2)", 0, ""},
		{"anon.lower(pg_catalog.pg_ls_dir('/'))", SchemaNotTrusted, "pg_catalog.pg_ls_dir"},
		{"foo()", FunctionUnqualified, "foo"},
		{"anon.lower(foo())", FunctionUnqualified, "foo"},
		{"outfit.mask('x')", FunctionUntrusted, "outfit.mask"},
		{"dangerous.leak('x')", SchemaNotTrusted, "dangerous.leak"},
		{"anon.lower(dangerous.leak(x))", SchemaNotTrusted, "dangerous.leak"},
		{"nope.f()", SchemaNotTrusted, "nope.f"},
		{"db.anon.lower('x')", FunctionUnqualified, "db.anon.lower"},
		{"anon.partial(outfit.mask(1), 1, foo(), 2)", FunctionUntrusted, "outfit.mask"},
	}
	for _, tc := range tests {
		t.Run(tc.call, func(t *testing.T) {
			err := v.CheckFunction(ctx, tc.call, "anon")
			if tc.reason == 0 {
				require.NoError(t, err)
				return
			}
			var terr *Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.reason, terr.Reason)
			assert.Equal(t, tc.culprit, terr.Call)
		})
	}
}

func TestCheckFunction_Messages(t *testing.T) {
	assert.Equal(t, "foo is not qualified", (&Error{Reason: FunctionUnqualified, Call: "foo"}).Error())
	assert.Equal(t, "s.f is UNTRUSTED", (&Error{Reason: FunctionUntrusted, Call: "s.f"}).Error())
	assert.Equal(t, "s.f does not belong in a TRUSTED schema", (&Error{Reason: SchemaNotTrusted, Call: "s.f"}).Error())
	assert.Equal(t, "function_untrusted", FunctionUntrusted.String())
}

func TestCheckFunction_PolicyScoped(t *testing.T) {
	v := newVerifier(t, true)
	err := v.CheckFunction(context.Background(), "anon.lower('A')", "devtests")
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, SchemaNotTrusted, terr.Reason)
}

func TestCheckFunction_NotACall(t *testing.T) {
	v := newVerifier(t, true)
	for _, call := range []string{"1", "foo(), bar()", "x FROM y", "("} {
		err := v.CheckFunction(context.Background(), call, "anon")
		var invalid *domain.InvalidInputError
		assert.ErrorAs(t, err, &invalid, call)
	}
}

func TestCheckFunction_Unrestricted(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, false)
	require.NoError(t, v.CheckFunction(ctx, "foo()", "anon"))
	require.NoError(t, v.CheckFunction(ctx, "outfit.mask('x')", "anon"))

	var invalid *domain.InvalidInputError
	assert.ErrorAs(t, v.CheckFunction(ctx, "42", "anon"), &invalid)
}

func TestCheckFunction_DepthBound(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, true)
	nested := func(n int) string {
		return strings.Repeat("anon.lower(", n) + "'x'" + strings.Repeat(")", n)
	}
	require.NoError(t, v.CheckFunction(ctx, nested(5), "anon"))
	require.NoError(t, v.CheckFunction(ctx, nested(MaxDepth), "anon"))

	err := v.CheckFunction(ctx, nested(MaxDepth+1), "anon")
	var invalid *domain.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestCheckFunction_OperatorsDoNotNest(t *testing.T) {
	terms := make([]string, 40)
	for i := range terms {
		terms[i] = "'x'"
	}
	call := "anon.lower(" + strings.Join(terms, " || ") + ")"
	require.NoError(t, newVerifier(t, true).CheckFunction(context.Background(), call, "anon"))
}

func TestCheckFunction_Cancelled(t *testing.T) {
	v := newVerifier(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, v.CheckFunction(ctx, "anon.lower('A')", "anon"), context.Canceled)
}

func TestCheckValue(t *testing.T) {
	for _, ok := range []string{"NULL", "'CONFIDENTIAL'", "0", "-1", "firstname", "t.c"} {
		assert.NoError(t, CheckValue(ok), ok)
	}
	for _, bad := range []string{"", "lower(x)", "'x'::text", "1, 2", "1 FROM pg_authid", "(SELECT 1)"} {
		assert.Error(t, CheckValue(bad), bad)
	}
}

func TestCheckTablesample(t *testing.T) {
	assert.NoError(t, CheckTablesample("BERNOULLI(10)"))
	assert.NoError(t, CheckTablesample("SYSTEM(33) REPEATABLE(1)"))
	assert.Error(t, CheckTablesample("BERNOULLI"))
	assert.Error(t, CheckTablesample("10"))
}
