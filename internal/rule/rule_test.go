package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicates(t *testing.T) {
	assert.True(t, IsMasked("MASKED"))
	assert.True(t, IsMasked("  masked  "))
	assert.False(t, IsMasked("MASKED WITH VALUE NULL"))
	assert.False(t, IsMasked("NOT MASKED"))

	assert.True(t, IsNotMasked("not   Masked"))
	assert.False(t, IsNotMasked("NOTMASKED"))

	assert.True(t, IsTrusted(" trusted "))
	assert.False(t, IsTrusted("UNTRUSTED"))
	assert.True(t, IsUntrusted("UnTrusted"))
	assert.False(t, IsUntrusted("TRUSTED"))

	assert.True(t, IsIndirectIdentifier("INDIRECT IDENTIFIER"))
	assert.True(t, IsIndirectIdentifier("quasi  identifier"))
	assert.False(t, IsIndirectIdentifier("IDENTIFIER"))

	assert.True(t, IsTablesample("TABLESAMPLE SYSTEM(10)"))
	assert.False(t, IsTablesample("SAMPLE SYSTEM(10)"))
}

func TestCaptures(t *testing.T) {
	tests := []struct {
		name    string
		capture func(string) (string, bool)
		text    string
		want    string
		ok      bool
	}{
		{"value", CaptureValue, "MASKED WITH VALUE NULL", "NULL", true},
		{"value mixed case", CaptureValue, " masked  WITH vaLue  NULL ", "NULL", true},
		{"value string", CaptureValue, "MASKED WITH VALUE 'CONFIDENTIAL'", "'CONFIDENTIAL'", true},
		{"value missing arg", CaptureValue, "MASKED WITH VALUE", "", false},
		{"function", CaptureFunction, "MASKED WITH FUNCTION public.lower(firstname)", "public.lower(firstname)", true},
		{"function multiline", CaptureFunction, "masked with function\n  anon.fake(\n1)", "anon.fake(\n1)", true},
		{"function is not value", CaptureValue, "MASKED WITH FUNCTION f()", "", false},
		{"tablesample", CaptureTablesample, "TABLESAMPLE BERNOULLI(10)", "BERNOULLI(10)", true},
		{"tablesample lower", CaptureTablesample, "tablesample system(33) ", "system(33)", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.capture(tc.text)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		kind Kind
		arg  string
	}{
		{"", KindNone, ""},
		{"   ", KindNone, ""},
		{"MASKED", KindMasked, ""},
		{"NOT MASKED", KindNotMasked, ""},
		{"MASKED WITH VALUE 0", KindValue, "0"},
		{"MASKED WITH FUNCTION s.f()", KindFunction, "s.f()"},
		{"TRUSTED", KindTrusted, ""},
		{"UNTRUSTED", KindUntrusted, ""},
		{"TABLESAMPLE SYSTEM(5)", KindTablesample, "SYSTEM(5)"},
		{"QUASI IDENTIFIER", KindIndirectIdentifier, ""},
		{"MASKED WITH SOMETHING", KindUnknown, ""},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			r := Parse(tc.text)
			assert.Equal(t, tc.kind, r.Kind)
			assert.Equal(t, tc.arg, r.Arg)
		})
	}
}

func TestParse_Cached(t *testing.T) {
	require.NoError(t, SetCacheSize(2))
	t.Cleanup(func() { _ = SetCacheSize(defaultCacheSize) })

	first := Parse("MASKED WITH VALUE 42")
	second := Parse("MASKED WITH VALUE 42")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestSetCacheSize_Invalid(t *testing.T) {
	assert.Error(t, SetCacheSize(0))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not masked", KindNotMasked.String())
	assert.Equal(t, "tablesample", KindTablesample.String())
}
