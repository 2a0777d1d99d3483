package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/discovery-cli/internal/cost"
	"github.com/sells-group/discovery-cli/internal/knowledge"
	"github.com/sells-group/discovery-cli/internal/validate"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini      GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Jina        JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Reasoner    ReasonerConfig   `yaml:"reasoner" mapstructure:"reasoner"`
	Search      SearchConfig     `yaml:"search" mapstructure:"search"`
	Scrape      ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Registry    RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Validation  ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Knowledge   KnowledgeConfig  `yaml:"knowledge" mapstructure:"knowledge"`
	Batch       BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Pricing     cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
	SourcesFile string           `yaml:"sources_file" mapstructure:"sources_file"`
}

// StoreConfig configures the knowledge store backend.
type StoreConfig struct {
	Driver      string                `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string                `yaml:"database_url" mapstructure:"database_url"`
	Pool        *knowledge.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// ReasonerConfig selects and tunes the strategy reasoner.
type ReasonerConfig struct {
	UseLLM      bool    `yaml:"use_llm" mapstructure:"use_llm"`
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SearchConfig configures the search provider adapter.
type SearchConfig struct {
	// Backend is "jina" or "page". The page backend fetches EngineURL and
	// extracts results from the HTML.
	Backend         string  `yaml:"backend" mapstructure:"backend"`
	EngineURL       string  `yaml:"engine_url" mapstructure:"engine_url"`
	MaxResults      int     `yaml:"max_results" mapstructure:"max_results"`
	BudgetPerEntity int     `yaml:"budget_per_entity" mapstructure:"budget_per_entity"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	PageTimeoutSecs int      `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	DynamicWaitMS   int      `yaml:"dynamic_wait_ms" mapstructure:"dynamic_wait_ms"`
	RespectRobots   bool     `yaml:"respect_robots" mapstructure:"respect_robots"`
	MaxBodyKB       int      `yaml:"max_body_kb" mapstructure:"max_body_kb"`
	ExcludePaths    []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// RegistryConfig configures registry resolution.
type RegistryConfig struct {
	PortalURL   string `yaml:"portal_url" mapstructure:"portal_url"`
	DatasetPath string `yaml:"dataset_path" mapstructure:"dataset_path"`
}

// ValidationConfig configures email validation.
type ValidationConfig struct {
	MXCheck            bool             `yaml:"mx_check" mapstructure:"mx_check"`
	SMTPProbe          bool             `yaml:"smtp_probe" mapstructure:"smtp_probe"`
	SMTPHelo           string           `yaml:"smtp_helo" mapstructure:"smtp_helo"`
	SMTPFrom           string           `yaml:"smtp_from" mapstructure:"smtp_from"`
	TimeoutSecs        int              `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinStoreConfidence int              `yaml:"min_store_confidence" mapstructure:"min_store_confidence"`
	Weights            validate.Weights `yaml:"weights" mapstructure:"weights"`
}

// KnowledgeConfig configures the knowledge store freshness policy.
type KnowledgeConfig struct {
	StaleAfterDays int `yaml:"stale_after_days" mapstructure:"stale_after_days"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentEntities int `yaml:"max_concurrent_entities" mapstructure:"max_concurrent_entities"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "discovery.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_entities", 4)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("reasoner.use_llm", false)
	v.SetDefault("reasoner.provider", "anthropic")
	v.SetDefault("reasoner.temperature", 0.2)
	v.SetDefault("reasoner.timeout_secs", 30)
	v.SetDefault("search.backend", "jina")
	v.SetDefault("search.engine_url", "https://html.duckduckgo.com/html/?q={query}")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.budget_per_entity", 3)
	v.SetDefault("search.rate_limit_rps", 1.0)
	v.SetDefault("search.timeout_secs", 15)
	v.SetDefault("search.user_agent", "discovery-cli/1.0")
	v.SetDefault("scrape.page_timeout_secs", 20)
	v.SetDefault("scrape.dynamic_wait_ms", 2000)
	v.SetDefault("scrape.respect_robots", true)
	v.SetDefault("scrape.max_body_kb", 2048)
	v.SetDefault("scrape.exclude_paths", []string{"/blog/*", "/news/*", "/careers/*"})
	v.SetDefault("validation.mx_check", true)
	v.SetDefault("validation.smtp_probe", false)
	v.SetDefault("validation.smtp_helo", "localhost")
	v.SetDefault("validation.smtp_from", "verify@localhost")
	v.SetDefault("validation.timeout_secs", 5)
	v.SetDefault("validation.min_store_confidence", knowledge.DefaultMinEmailConfidence)
	v.SetDefault("knowledge.stale_after_days", 30)
	setWeightDefaults(v, validate.DefaultWeights())

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setWeightDefaults(v *viper.Viper, w validate.Weights) {
	v.SetDefault("validation.weights.format", w.Format)
	v.SetDefault("validation.weights.domain", w.Domain)
	v.SetDefault("validation.weights.mx", w.MX)
	v.SetDefault("validation.weights.smtp_accepted", w.SMTPAccepted)
	v.SetDefault("validation.weights.smtp_rejected", w.SMTPRejected)
	v.SetDefault("validation.weights.authoritative", w.Authoritative)
	v.SetDefault("validation.weights.per_extra_source", w.PerExtraSource)
	v.SetDefault("validation.weights.max_corroboration", w.MaxCorroboration)
	v.SetDefault("validation.weights.domain_match", w.DomainMatch)
	v.SetDefault("validation.weights.free_mail", w.FreeMail)
}

// Rates returns the pricing table: the built-in rates overlaid with any
// configured entries.
func (c *Config) Rates() cost.Rates {
	r := cost.DefaultRates()
	p := c.Pricing
	if p.Currency != "" {
		r.Currency = p.Currency
	}
	for k, v := range p.Anthropic {
		r.Anthropic[k] = v
	}
	for k, v := range p.Gemini {
		r.Gemini[k] = v
	}
	if p.Search.Default > 0 {
		r.Search.Default = p.Search.Default
	}
	for k, v := range p.Search.Backends {
		r.Search.Backends[k] = v
	}
	for k, v := range p.Scrape {
		r.Scrape[k] = v
	}
	if p.Validation.MXLookup > 0 {
		r.Validation.MXLookup = p.Validation.MXLookup
	}
	if p.Validation.SMTPProbe > 0 {
		r.Validation.SMTPProbe = p.Validation.SMTPProbe
	}
	return r
}

// Validate checks that the keys a command needs are present and in range.
// mode is one of run, batch, serve, knowledge, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "batch", "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateDiscovery()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "knowledge", "migrate":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if strings.TrimSpace(c.Store.DatabaseURL) == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateDiscovery() []string {
	var errs []string

	if c.Batch.MaxConcurrentEntities < 1 || c.Batch.MaxConcurrentEntities > 50 {
		errs = append(errs, "batch.max_concurrent_entities must be between 1 and 50")
	}
	if c.Search.BudgetPerEntity < 1 {
		errs = append(errs, "search.budget_per_entity must be >= 1")
	}
	if c.Search.RateLimitRPS < 0 {
		errs = append(errs, "search.rate_limit_rps must be >= 0")
	}
	switch c.Search.Backend {
	case "jina":
		if c.Jina.Key == "" {
			errs = append(errs, "jina.key is required for search.backend=jina")
		}
	case "page":
		if !strings.Contains(c.Search.EngineURL, "{query}") {
			errs = append(errs, "search.engine_url must contain {query}")
		}
	default:
		errs = append(errs, fmt.Sprintf("search.backend must be jina or page, got %q", c.Search.Backend))
	}

	if c.Reasoner.UseLLM {
		switch c.Reasoner.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required when reasoner.use_llm is set")
			}
		case "gemini":
			if c.Gemini.Key == "" {
				errs = append(errs, "gemini.key is required when reasoner.use_llm is set")
			}
		default:
			errs = append(errs, fmt.Sprintf("reasoner.provider must be anthropic or gemini, got %q", c.Reasoner.Provider))
		}
	}

	if err := c.Validation.Weights.Validate(); err != nil {
		errs = append(errs, "validation.weights: "+err.Error())
	}
	if c.Validation.SMTPProbe && strings.TrimSpace(c.Validation.SMTPFrom) == "" {
		errs = append(errs, "validation.smtp_from is required when validation.smtp_probe is set")
	}
	return errs
}

// Sources is the process-wide domain policy file.
type Sources struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadSources reads a sources.yaml file. An empty path yields an empty
// policy.
func LoadSources(path string) (*Sources, error) {
	if path == "" {
		return &Sources{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read sources file %s", path)
	}
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "config: parse sources file %s", path)
	}
	return &s, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
