// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds the tunables of the background loops. DispatchInterval
// and ReconcileInterval are the two polling intervals of the job subsystem.
type WorkerConfig struct {
	DispatchInterval  time.Duration `yaml:"dispatch_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	BatchSize         int           `yaml:"batch_size"`
	PoolSize          int           `yaml:"pool_size"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout"`
	ClaimTTL          time.Duration `yaml:"claim_ttl"`
	WatchdogCron      string        `yaml:"watchdog_cron"`
	ReconcileLease    time.Duration `yaml:"reconcile_lease"`
}

type VeoConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SyntheticConfig struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type ProvidersConfig struct {
	Default       string            `yaml:"default"`
	MaxConcurrent int               `yaml:"max_concurrent"` // per provider
	Aliases       map[string]string `yaml:"aliases"`        // requested name -> provider
	Veo           VeoConfig         `yaml:"veo"`
	Synthetic     SyntheticConfig   `yaml:"synthetic"`
	Breaker       BreakerConfig     `yaml:"breaker"`
}

type RefinerConfig struct {
	OpenAIKey      string `yaml:"openai_key"`
	Model          string `yaml:"model"`
	MaxPromptToken int    `yaml:"max_prompt_tokens"`
	// BaseURL points the client at an OpenAI-compatible endpoint; empty means api.openai.com.
	BaseURL        string `yaml:"base_url"`
}

type StorageConfig struct {
	BasePath      string `yaml:"base_path"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Worker    WorkerConfig    `yaml:"worker"`
	Providers ProvidersConfig `yaml:"providers"`
	Refiner   RefinerConfig   `yaml:"refiner"`
	Storage   StorageConfig   `yaml:"storage"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. A .env file next to the process is
// loaded first (if present) so that secrets can be supplied through the
// environment overrides below.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes raw YAML, applies environment overrides and defaults, then validates.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	// Minimal validation
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Worker.ClaimTTL <= cfg.Worker.ProviderTimeout {
		return nil, errors.New("worker.claim_ttl must exceed worker.provider_timeout")
	}
	if cfg.Providers.Veo.APIKey == "" && !cfg.Providers.Synthetic.Enabled {
		return nil, errors.New("no provider configured: set providers.veo.api_key or enable providers.synthetic")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Providers.Veo.APIKey, "GEMINI_API_KEY")
	override(&cfg.Refiner.OpenAIKey, "OPENAI_API_KEY")
	override(&cfg.Refiner.BaseURL, "OPENAI_BASE_URL")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 5001
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	w := &cfg.Worker
	if w.DispatchInterval <= 0 {
		w.DispatchInterval = 3 * time.Second
	}
	if w.ReconcileInterval <= 0 {
		w.ReconcileInterval = 5 * time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	if w.PoolSize <= 0 {
		w.PoolSize = 8
	}
	if w.ProviderTimeout <= 0 {
		w.ProviderTimeout = 10 * time.Minute
	}
	if w.ClaimTTL <= 0 {
		w.ClaimTTL = w.ProviderTimeout + 5*time.Minute
	}
	if w.WatchdogCron == "" {
		w.WatchdogCron = "@every 30s"
	}
	if w.ReconcileLease <= 0 {
		w.ReconcileLease = w.ReconcileInterval
	}

	p := &cfg.Providers
	if p.Default == "" {
		if p.Veo.APIKey != "" {
			p.Default = "veo"
		} else {
			p.Default = "synthetic"
		}
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 4
	}
	if p.Veo.Model == "" {
		p.Veo.Model = "veo-2.0-generate-001"
	}
	if p.Veo.PollInterval <= 0 {
		p.Veo.PollInterval = 10 * time.Second
	}
	if p.Synthetic.Delay <= 0 {
		p.Synthetic.Delay = 3 * time.Second
	}
	if p.Breaker.MaxFailures == 0 {
		p.Breaker.MaxFailures = 5
	}
	if p.Breaker.OpenTimeout <= 0 {
		p.Breaker.OpenTimeout = time.Minute
	}

	if cfg.Refiner.Model == "" {
		cfg.Refiner.Model = "gpt-4o-mini"
	}
	if cfg.Refiner.MaxPromptToken <= 0 {
		cfg.Refiner.MaxPromptToken = 512
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "./storage"
	}
}
