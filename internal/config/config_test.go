package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/cost"
	"github.com/sells-group/discovery-cli/internal/validate"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "discovery.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentEntities)
	assert.Equal(t, "jina", cfg.Search.Backend)
	assert.Equal(t, 3, cfg.Search.BudgetPerEntity)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.InDelta(t, 1.0, cfg.Search.RateLimitRPS, 0.001)
	assert.Equal(t, 2000, cfg.Scrape.DynamicWaitMS)
	assert.True(t, cfg.Scrape.RespectRobots)
	assert.Equal(t, []string{"/blog/*", "/news/*", "/careers/*"}, cfg.Scrape.ExcludePaths)
	assert.True(t, cfg.Validation.MXCheck)
	assert.False(t, cfg.Validation.SMTPProbe)
	assert.Equal(t, 30, cfg.Validation.MinStoreConfidence)
	assert.Equal(t, validate.DefaultWeights(), cfg.Validation.Weights)
	assert.Equal(t, 30, cfg.Knowledge.StaleAfterDays)
	assert.False(t, cfg.Reasoner.UseLLM)
	assert.Equal(t, "anthropic", cfg.Reasoner.Provider)
	assert.InDelta(t, 0.2, cfg.Reasoner.Temperature, 0.001)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/discovery
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  max_concurrent_entities: 10
validation:
  weights:
    mx: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/discovery", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Batch.MaxConcurrentEntities)
	assert.Equal(t, 30, cfg.Validation.Weights.MX)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Search.BudgetPerEntity)
	assert.Equal(t, 25, cfg.Validation.Weights.Authoritative)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DISCOVERY_STORE_DRIVER", "postgres")
	t.Setenv("DISCOVERY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("DISCOVERY_SERVER_PORT", "3000")
	t.Setenv("DISCOVERY_SEARCH_BUDGET_PER_ENTITY", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Search.BudgetPerEntity)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestRates_OverlayOnDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Pricing.Search.Backends = map[string]float64{"jina": 0.005}
	cfg.Pricing.Anthropic = map[string]cost.ModelRate{"custom-model": {Input: 1, Output: 2}}

	r := cfg.Rates()
	assert.Equal(t, cost.DefaultCurrency, r.Currency)
	assert.InDelta(t, 0.005, r.Search.Backends["jina"], 1e-9)
	assert.InDelta(t, 0.001, r.Search.Default, 1e-9)
	assert.Contains(t, r.Anthropic, "custom-model")
	assert.Contains(t, r.Anthropic, "claude-haiku-4-5-20251001")

	// The package defaults are not mutated.
	assert.InDelta(t, 0.002, cost.DefaultRates().Search.Backends["jina"], 1e-9)
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
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "discovery.db"
	cfg.Batch.MaxConcurrentEntities = 4
	cfg.Search.Backend = "jina"
	cfg.Search.BudgetPerEntity = 3
	cfg.Jina.Key = "jina_key"
	cfg.Validation.Weights = validate.DefaultWeights()
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Jina.Key = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "jina.key is required")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateKnowledge_OnlyNeedsStore(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/discovery"

	assert.NoError(t, cfg.Validate("knowledge"))
	assert.NoError(t, cfg.Validate("migrate"))
	assert.Error(t, cfg.Validate("run"))
}

func TestValidate_PageBackendNeedsTemplate(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.Backend = "page"
	cfg.Jina.Key = ""
	cfg.Search.EngineURL = "https://search.example/html"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "search.engine_url must contain {query}")

	cfg.Search.EngineURL = "https://search.example/html?q={query}"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_LLMProviderKeys(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		setKey   func(*Config)
		wantErr  string
	}{
		{"anthropic missing key", "anthropic", func(*Config) {}, "anthropic.key is required"},
		{"anthropic ok", "anthropic", func(c *Config) { c.Anthropic.Key = "sk-ant" }, ""},
		{"gemini missing key", "gemini", func(*Config) {}, "gemini.key is required"},
		{"gemini ok", "gemini", func(c *Config) { c.Gemini.Key = "g-key" }, ""},
		{"unknown provider", "openai", func(*Config) {}, "reasoner.provider must be anthropic or gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			cfg.Reasoner.UseLLM = true
			cfg.Reasoner.Provider = tt.provider
			tt.setKey(cfg)

			err := cfg.Validate("run")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentEntities = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_entities must be between 1 and 50")

	cfg.Batch.MaxConcurrentEntities = 51
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_entities must be between 1 and 50")

	cfg.Batch.MaxConcurrentEntities = 50
	err = cfg.Validate("serve")
	assert.NoError(t, err)
}

func TestValidateWeights(t *testing.T) {
	cfg := validDefaults()
	cfg.Validation.Weights.DomainMatch = 40

	err := cfg.Validate("batch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation.weights")
}

func TestValidateSMTPProbeNeedsSender(t *testing.T) {
	cfg := validDefaults()
	cfg.Validation.SMTPProbe = true

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation.smtp_from is required")

	cfg.Validation.SMTPFrom = "verify@discovery.example"
	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
allow:
  - azroc.gov
  - bbb.org
deny:
  - spamdirectory.example
`), 0644))

	s, err := LoadSources(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"azroc.gov", "bbb.org"}, s.Allow)
	assert.Equal(t, []string{"spamdirectory.example"}, s.Deny)
}

func TestLoadSources_EmptyPath(t *testing.T) {
	s, err := LoadSources("")
	require.NoError(t, err)
	assert.Empty(t, s.Allow)
	assert.Empty(t, s.Deny)
}

func TestLoadSources_Errors(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allow: {"), 0644))
	_, err = LoadSources(path)
	assert.Error(t, err)
}
