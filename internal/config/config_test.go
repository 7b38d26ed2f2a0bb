package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// inTempDir runs the test from an empty directory so no config.yaml or
// .env is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "BASE_URL", "AZURE_OPENAI_KEY", "AZURE_OPENAI_ENDPOINT"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	clearCredentialEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-3.5-turbo-1106", cfg.Query.Model)
	assert.Equal(t, "local", cfg.Query.Client)
	assert.Equal(t, 20, cfg.Query.ChunkSize)
	assert.Equal(t, 10, cfg.Query.FailureLimit)
	assert.Equal(t, 0, cfg.Query.Concurrency)
	assert.Equal(t, 100, cfg.Query.ProgressEvery)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 10000, cfg.Retry.MaxBackoffMs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.InDelta(t, 0.25, cfg.Retry.Jitter, 0.001)
	assert.Equal(t, "2023-05-15", cfg.Azure.APIVersion)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Status.Addr)
	assert.Empty(t, cfg.OpenAI.APIKey)
}

func TestLoadFromYAML(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
query:
  model: gpt-4
  client: azure
  chunk_size: 50
ledger:
  driver: postgres
  dsn: postgres://localhost/runs
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", cfg.Query.Model)
	assert.Equal(t, "azure", cfg.Query.Client)
	assert.Equal(t, 50, cfg.Query.ChunkSize)
	assert.Equal(t, "postgres", cfg.Ledger.Driver)
	assert.Equal(t, "postgres://localhost/runs", cfg.Ledger.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Query.FailureLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
query:
  failure_limit: 5
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("BATCHQUERY_QUERY_FAILURE_LIMIT", "7")
	t.Setenv("BATCHQUERY_LOG_LEVEL", "warn")
	t.Setenv("BATCHQUERY_STATUS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Query.FailureLimit)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Status.Addr)
}

func TestLoadCredentialEnv(t *testing.T) {
	inTempDir(t)
	clearCredentialEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BASE_URL", "http://localhost:8000/v1")
	t.Setenv("AZURE_OPENAI_KEY", "az-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:8000/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, "az-key", cfg.Azure.APIKey)
	assert.Equal(t, "https://example.openai.azure.com", cfg.Azure.Endpoint)
}

func TestLoadPrefixedCredentialWins(t *testing.T) {
	inTempDir(t)
	clearCredentialEnv(t)
	t.Setenv("OPENAI_API_KEY", "plain")
	t.Setenv("BATCHQUERY_OPENAI_API_KEY", "prefixed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.OpenAI.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	clearCredentialEnv(t)
	require.NoError(t, os.Unsetenv("AZURE_OPENAI_KEY"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AZURE_OPENAI_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("AZURE_OPENAI_KEY") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Azure.APIKey)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Query.Client = "local"
	cfg.Query.ChunkSize = 20
	cfg.Query.FailureLimit = 10
	cfg.Retry.Multiplier = 2
	cfg.Ledger.Driver = "sqlite"
	return cfg
}

func TestValidateQuery_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("query"))
}

func TestValidateQuery_Invalid(t *testing.T) {
	cfg := validDefaults()
	cfg.Query.Client = "bedrock"
	cfg.Query.ChunkSize = 0
	cfg.Query.FailureLimit = -1
	cfg.Query.Concurrency = 5000

	err := cfg.Validate("query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.client must be local or azure")
	assert.Contains(t, err.Error(), "query.chunk_size must be > 0")
	assert.Contains(t, err.Error(), "query.failure_limit must be > 0")
	assert.Contains(t, err.Error(), "query.concurrency must be between 0 and 1024")
}

func TestValidateLedger(t *testing.T) {
	cfg := validDefaults()
	cfg.Ledger.Driver = "postgres"
	err := cfg.Validate("query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.dsn is required")

	cfg.Ledger.DSN = "postgres://localhost/runs"
	assert.NoError(t, cfg.Validate("query"))

	cfg.Ledger.Driver = "mongo"
	assert.Error(t, cfg.Validate("runs"))
}

func TestValidateRuns_NoneDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Ledger.Driver = "none"
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeps no runs")
}

func TestValidateRecover(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.Validate("recover"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
