package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Query   QueryConfig   `yaml:"query" mapstructure:"query"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	OpenAI  OpenAIConfig  `yaml:"openai" mapstructure:"openai"`
	Azure   AzureConfig   `yaml:"azure" mapstructure:"azure"`
	Pricing PricingConfig `yaml:"pricing" mapstructure:"pricing"`
	Ledger  LedgerConfig  `yaml:"ledger" mapstructure:"ledger"`
	Status  StatusConfig  `yaml:"status" mapstructure:"status"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// QueryConfig configures a batch run. CLI flags override every field.
type QueryConfig struct {
	Model         string  `yaml:"model" mapstructure:"model"`
	Client        string  `yaml:"client" mapstructure:"client"`
	ChunkSize     int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	FailureLimit  int     `yaml:"failure_limit" mapstructure:"failure_limit"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	RetryLimit    int     `yaml:"retry_limit" mapstructure:"retry_limit"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	ProgressEvery int     `yaml:"progress_every" mapstructure:"progress_every"`
}

// RetryConfig tunes backoff between attempts of one request.
type RetryConfig struct {
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

// OpenAIConfig holds credentials for the "local" client flavor.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AzureConfig holds credentials for the "azure" client flavor.
type AzureConfig struct {
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
}

// PricingConfig points at an optional price override file.
type PricingConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// LedgerConfig selects where run summaries are recorded.
type LedgerConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Path     string `yaml:"path" mapstructure:"path"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StatusConfig configures the optional status server. Empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BATCHQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional credential variables.
	for key, env := range map[string]string{
		"openai.api_key":  "OPENAI_API_KEY",
		"openai.base_url": "BASE_URL",
		"azure.api_key":   "AZURE_OPENAI_KEY",
		"azure.endpoint":  "AZURE_OPENAI_ENDPOINT",
	} {
		prefixed := "BATCHQUERY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	// Defaults
	v.SetDefault("query.model", "gpt-3.5-turbo-1106")
	v.SetDefault("query.client", "local")
	v.SetDefault("query.chunk_size", 20)
	v.SetDefault("query.failure_limit", 10)
	v.SetDefault("query.concurrency", 0)
	v.SetDefault("query.retry_limit", 0)
	v.SetDefault("query.rate_limit", 0)
	v.SetDefault("query.progress_every", 100)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)
	v.SetDefault("azure.api_version", "2023-05-15")
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.path", "")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.max_conns", 0)
	v.SetDefault("ledger.min_conns", 0)
	v.SetDefault("pricing.file", "")
	v.SetDefault("status.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command depends on. mode is "query",
// "recover" or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "query":
		switch c.Query.Client {
		case "local", "azure":
		default:
			errs = append(errs, "query.client must be local or azure")
		}
		if c.Query.ChunkSize <= 0 {
			errs = append(errs, "query.chunk_size must be > 0")
		}
		if c.Query.FailureLimit <= 0 {
			errs = append(errs, "query.failure_limit must be > 0")
		}
		if c.Query.Concurrency < 0 || c.Query.Concurrency > 1024 {
			errs = append(errs, "query.concurrency must be between 0 and 1024")
		}
		if c.Query.RetryLimit < 0 {
			errs = append(errs, "query.retry_limit must be >= 0")
		}
		if c.Query.RateLimit < 0 {
			errs = append(errs, "query.rate_limit must be >= 0")
		}
		if c.Retry.Multiplier < 1 {
			errs = append(errs, "retry.multiplier must be >= 1")
		}
		errs = append(errs, c.validateLedger()...)
	case "recover":
	case "runs":
		errs = append(errs, c.validateLedger()...)
		if c.Ledger.Driver == "none" {
			errs = append(errs, "ledger.driver none keeps no runs to list")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLedger() []string {
	switch c.Ledger.Driver {
	case "sqlite", "none":
		return nil
	case "postgres":
		if c.Ledger.DSN == "" {
			return []string{"ledger.dsn is required for the postgres driver"}
		}
		return nil
	default:
		return []string{"ledger.driver must be sqlite, postgres or none"}
	}
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
