package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pganon/internal/testutil"
)

// writeFixture stores the people fixture in a temporary file.
func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.PeopleYAML), 0o600))
	return path
}

// runCLI executes the root command against the people fixture and returns
// what it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"ANON_MASKING_POLICIES", "ANON_RESTRICT_TO_TRUSTED_SCHEMAS", "ANON_SCHEMA", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--fixture", writeFixture(t), "--masking-policies", "devtests", "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeJSON(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestPolicies(t *testing.T) {
	out, err := runCLI(t, "policies", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"anon", "devtests"}, decodeJSON(t, out)["policies"])

	out, err = runCLI(t, "policies")
	require.NoError(t, err)
	assert.Contains(t, out, "POLICY")
	assert.Contains(t, out, "devtests")
}

func TestRolePolicy(t *testing.T) {
	out, err := runCLI(t, "role-policy", "robin", "-o", "json")
	require.NoError(t, err)
	v := decodeJSON(t, out)
	assert.Equal(t, true, v["masked"])
	assert.Equal(t, "devtests", v["policy"])

	out, err = runCLI(t, "role-policy", "alfred", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, false, decodeJSON(t, out)["masked"])
}

func TestExpressions(t *testing.T) {
	out, err := runCLI(t, "expressions", "invoice")
	require.NoError(t, err)
	assert.Equal(t, "id AS id, amount AS amount\n", out)
}

func TestValue(t *testing.T) {
	out, err := runCLI(t, "value", "person", "lastname", "-o", "json")
	require.NoError(t, err)
	v := decodeJSON(t, out)
	assert.Equal(t, "CAST(NULL AS text)", v["expression"])
	assert.Equal(t, true, v["masked"])

	out, err = runCLI(t, "value", "person", "lastname", "--policy", "devtests", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "lastname", decodeJSON(t, out)["expression"])

	_, err = runCLI(t, "value", "person", "nope")
	require.Error(t, err)
	assert.Equal(t, "not_found", errorCode(err))
}

func TestCheckFunction(t *testing.T) {
	out, err := runCLI(t, "check-function", "anon.lower('A')")
	require.NoError(t, err)
	assert.Equal(t, "trusted (schema anon)\n", out)

	_, err = runCLI(t, "check-function", "dangerous.leak('A')")
	require.Error(t, err)
	assert.Equal(t, "untrusted_function", errorCode(err))
	assert.Contains(t, err.Error(), "untrusted (")
}

func TestRewrite(t *testing.T) {
	out, err := runCLI(t, "rewrite", "SELECT * FROM person", "-o", "json")
	require.NoError(t, err)
	v := decodeJSON(t, out)
	assert.Equal(t, true, v["changed"])
	assert.Equal(t, []interface{}{"public.person"}, v["masked_relations"])
	assert.Contains(t, v["sql"], "anon.partial(")

	out, err = runCLI(t, "rewrite", "SELECT * FROM person", "--role", "alfred")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM person\n", out)

	_, err = runCLI(t, "rewrite", "DELETE FROM person", "--role", "batman")
	require.Error(t, err)
	assert.Equal(t, "insufficient_privilege", errorCode(err))

	_, err = runCLI(t, "rewrite", "SELECT 1", "--role", "batman", "--policy", "anon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLabel(t *testing.T) {
	out, err := runCLI(t, "label", "column", "public.pet", "--column", "name", "--label", "MASKED WITH VALUE NULL")
	require.NoError(t, err)
	assert.Equal(t, "label of column public.pet set\n", out)

	_, err = runCLI(t, "label", "column", "public.pet", "--column", "name", "--label", "MASKED WITH FUNCTION dangerous.leak(name)")
	require.Error(t, err)
	assert.Equal(t, "untrusted_function", errorCode(err))

	_, err = runCLI(t, "label", "table", "public.pet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of --label and --remove")

	out, err = runCLI(t, "label", "table", "public.invoice", "--remove")
	require.NoError(t, err)
	assert.Equal(t, "label of table public.invoice removed\n", out)
}

func TestAnonymizeWithoutDatabase(t *testing.T) {
	_, err := runCLI(t, "anonymize", "table", "person")
	require.Error(t, err)
	assert.Equal(t, "feature_not_supported", errorCode(err))
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := runCLI(t, "policies", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "dev", decodeJSON(t, out)["version"])
}

func TestErrorObject(t *testing.T) {
	_, err := runCLI(t, "expressions", "ghost")
	require.Error(t, err)
	obj := errorObject(err)
	assert.Equal(t, "not_found", obj["code"])
	assert.NotEmpty(t, obj["error"])
}

func TestOutputFormatValue(t *testing.T) {
	var f outputFormat
	require.NoError(t, f.Set("json"))
	assert.Equal(t, "json", f.String())
	require.Error(t, f.Set("xml"))
	assert.Equal(t, "json", f.String(), "rejected values leave the flag unchanged")
}

func TestQueryNeedsDatabase(t *testing.T) {
	_, err := runCLI(t, "query", "SELECT 1", "--role", "batman")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a database")
}

func TestPolicySetting(t *testing.T) {
	dotEnv := filepath.Join(t.TempDir(), ".env")
	t.Setenv(policiesEnv, "from_env")
	a := &app{}

	got, err := a.policySetting(dotEnv)
	require.NoError(t, err)
	assert.Equal(t, "from_env", got, "no .env file")

	require.NoError(t, os.WriteFile(dotEnv, []byte(policiesEnv+"=analytics,devtests\n"), 0o600))
	got, err = a.policySetting(dotEnv)
	require.NoError(t, err)
	assert.Equal(t, "analytics,devtests", got)

	a.flags.policies = "devtests"
	got, err = a.policySetting(dotEnv)
	require.NoError(t, err)
	assert.Equal(t, "devtests", got)
}
