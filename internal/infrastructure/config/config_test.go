package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	t.Setenv("TEST_SCHOOL_TOKEN", "secret-token")

	path := writeConfig(t, `
backend: school_api
storage:
  database_path: data/reconciler.db
school_api:
  base_url: https://school.example.com
  api_token: ${TEST_SCHOOL_TOKEN}
  timeout: 10s
matching:
  amount_tolerance: 0.5
  policy: first_rule
workflow:
  cache_ttl: 2m
  reconciled_by: bursar
server:
  port: 9000
  allowed_origins:
    - http://localhost:5173
observability:
  logging:
    level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSchoolAPI, cfg.Backend)
	assert.Equal(t, "data/reconciler.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "secret-token", cfg.SchoolAPI.APIToken, "env vars are expanded")
	assert.Equal(t, 10*time.Second, cfg.SchoolAPI.Timeout)
	assert.Equal(t, 0.5, cfg.Matching.AmountTolerance)
	assert.Equal(t, "first_rule", cfg.Matching.Policy)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.CacheTTL)
	assert.Equal(t, "bursar", cfg.Workflow.ReconciledBy)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)

	// Defaults fill what the file leaves out
	assert.Equal(t, 7.0, cfg.Matching.DateToleranceDays)
	assert.Equal(t, 3.0, cfg.Matching.MinConfidence)
	assert.Equal(t, "254", cfg.Matching.CountryCode)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  database_path: test.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "best_rule", cfg.Matching.Policy)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.CacheTTL)
	assert.Equal(t, "system", cfg.Workflow.ReconciledBy)
	assert.Equal(t, 8085, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "backend: mongo\n"},
		{"api backend without url", "backend: school_api\n"},
		{"unknown policy", "matching:\n  policy: random\n"},
		{"bad yaml", "storage: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECONCILER_DB_PATH", "test.db")
	t.Setenv("SCHOOL_API_TOKEN", "test-token")
	t.Setenv("MATCH_AMOUNT_TOLERANCE", "1.5")
	t.Setenv("BANK_CACHE_TTL", "90s")
	t.Setenv("PORT", "9999")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := LoadFromEnv()
	assert.Equal(t, "test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "test-token", cfg.SchoolAPI.APIToken)
	assert.Equal(t, 1.5, cfg.Matching.AmountTolerance)
	assert.Equal(t, 90*time.Second, cfg.Workflow.CacheTTL)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
}

func TestLoadFromEnv_BadNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("BANK_CACHE_TTL", "soon")

	cfg := LoadFromEnv()
	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.CacheTTL)
}

func TestLoadOrEnvWithPath_FallsBack(t *testing.T) {
	t.Setenv("RECONCILER_DB_PATH", "from-env.db")

	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, "from-env.db", cfg.Storage.DatabasePath)
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("SECOND_TOKEN", "from-env")
	cfg := &Config{}

	assert.Equal(t, "from-config", cfg.GetAPIKey("from-config", "SECOND_TOKEN"))
	assert.Equal(t, "from-env", cfg.GetAPIKey("", "FIRST_TOKEN_UNSET", "SECOND_TOKEN"))
	assert.Equal(t, "", cfg.GetAPIKey(""))
}
