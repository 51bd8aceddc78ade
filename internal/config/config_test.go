package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearMaskingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ANON_MASKING_POLICIES", "ANON_PRIVACY_BY_DEFAULT", "ANON_STRICT_MODE",
		"ANON_RESTRICT_TO_TRUSTED_SCHEMAS", "ANON_TRANSPARENT_DYNAMIC_MASKING",
		"ANON_K_ANONYMITY_PROVIDER", "ANON_SCHEMA", "ANON_STATIC_PARALLELISM",
		"ANON_RULE_CACHE_SIZE", "DATABASE_URL", "LISTEN_ADDR", "LOG_LEVEL",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "JWT_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearMaskingEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.StaticParallelism)
	assert.Equal(t, 1024, cfg.RuleCacheSize)

	s := cfg.Settings()
	assert.False(t, s.PrivacyByDefault)
	assert.True(t, s.StrictMode)
	assert.True(t, s.RestrictToTrustedSchemas)
	assert.False(t, s.TransparentDynamicMasking)
	assert.Equal(t, "k_anonymity", s.KAnonymityProvider)
	assert.Equal(t, "anon", s.OwnSchema)
	assert.Contains(t, cfg.Warnings, "DATABASE_URL not set; only offline fixture mode is available")
}

func TestLoadFromEnv_MaskingVars(t *testing.T) {
	clearMaskingEnv(t)
	t.Setenv("ANON_MASKING_POLICIES", "devtests, analytics")
	t.Setenv("ANON_PRIVACY_BY_DEFAULT", "on")
	t.Setenv("ANON_STRICT_MODE", "false")
	t.Setenv("ANON_RESTRICT_TO_TRUSTED_SCHEMAS", "0")
	t.Setenv("ANON_TRANSPARENT_DYNAMIC_MASKING", "yes")
	t.Setenv("ANON_SCHEMA", "mask")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "devtests, analytics", s.MaskingPolicies)
	assert.True(t, s.PrivacyByDefault)
	assert.False(t, s.StrictMode)
	assert.False(t, s.RestrictToTrustedSchemas)
	assert.True(t, s.TransparentDynamicMasking)
	assert.Equal(t, "mask", s.OwnSchema)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadFromEnv_JWTSecret(t *testing.T) {
	clearMaskingEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://localhost/app")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_InvalidParallelism(t *testing.T) {
	clearMaskingEnv(t)
	t.Setenv("ANON_STATIC_PARALLELISM", "zero")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANON_STATIC_PARALLELISM")
}

func TestParseBoolEnvDefault(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"TRUE", false, true},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("ANON_TEST_BOOL", tc.value)
			assert.Equal(t, tc.want, parseBoolEnvDefault("ANON_TEST_BOOL", tc.def))
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "DEBUG"}
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
	cfg.LogLevel = "warning"
	assert.Equal(t, "WARN", cfg.SlogLevel().String())
	cfg.LogLevel = "bogus"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nANON_DOTENV_A=\"quoted\"\nANON_DOTENV_B=plain\n\nbroken-line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ANON_DOTENV_A", "")
	t.Setenv("ANON_DOTENV_B", "preset")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "quoted", os.Getenv("ANON_DOTENV_A"))
	assert.Equal(t, "preset", os.Getenv("ANON_DOTENV_B"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestReadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n# skip\nB = 'two'\n"), 0o600))
	t.Setenv("A", "preset")

	vars, err := ReadDotEnv(path)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"A", "1"}, {"B", "two"}}, vars)
	assert.Equal(t, "preset", os.Getenv("A"), "the environment is left alone")

	vars, err = ReadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	assert.Empty(t, vars)
}
