package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the api and worker binaries read at startup.
type Config struct {
	OwnBPNL string `yaml:"own_bpnl"`
	// PublicBaseURL is where partners' data planes reach this service. The
	// request and response assets are registered under it; empty skips
	// asset registration.
	PublicBaseURL string `yaml:"public_base_url"`

	EDCManagementURL string `yaml:"edc_management_url"`
	EDCAPIKey        string `yaml:"edc_api_key"`

	FrameworkAgreement        string `yaml:"framework_agreement"`
	RequireFrameworkAgreement bool   `yaml:"require_framework_agreement"`

	TokenTTL     time.Duration `yaml:"token_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`

	LedgerBackend string `yaml:"ledger_backend"` // dynamodb or memory
	LedgerTable   string `yaml:"ledger_table"`
	QueueURL      string `yaml:"queue_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	DatabaseURL   string `yaml:"database_url"`

	WorkerPoolSize int     `yaml:"worker_pool_size"`
	InboundRPS     float64 `yaml:"inbound_rps"`
	InboundBurst   int     `yaml:"inbound_burst"`

	MetricsNamespace string `yaml:"metrics_namespace"`
	RunLocal         bool   `yaml:"run_local"`
	ListenAddr       string `yaml:"listen_addr"`
}

// Default returns the configuration used when neither a file nor env vars say otherwise.
func Default() Config {
	return Config{
		FrameworkAgreement:        "FrameworkAgreement",
		RequireFrameworkAgreement: true,
		TokenTTL:                  5 * time.Minute,
		PollInterval:              100 * time.Millisecond,
		PollAttempts:              100,
		LedgerBackend:             "dynamodb",
		LedgerTable:               "exchange-messages",
		WorkerPoolSize:            16,
		InboundRPS:                5,
		InboundBurst:              10,
		ListenAddr:                ":8080",
	}
}

// Load reads the optional YAML file at path and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields without which no negotiation can run.
func (c Config) Validate() error {
	if c.OwnBPNL == "" {
		return fmt.Errorf("config: own_bpnl is required")
	}
	if c.EDCManagementURL == "" {
		return fmt.Errorf("config: edc_management_url is required")
	}
	if c.RequireFrameworkAgreement && c.FrameworkAgreement == "" {
		return fmt.Errorf("config: framework_agreement is required when require_framework_agreement is set")
	}
	if c.LedgerBackend != "dynamodb" && c.LedgerBackend != "memory" {
		return fmt.Errorf("config: ledger_backend must be dynamodb or memory, got %q", c.LedgerBackend)
	}
	if c.LedgerBackend == "dynamodb" && c.LedgerTable == "" {
		return fmt.Errorf("config: ledger_table is required for the dynamodb ledger")
	}
	if c.PollAttempts <= 0 {
		return fmt.Errorf("config: poll_attempts must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token_ttl must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.OwnBPNL, "OWN_BPNL")
	setString(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&cfg.EDCManagementURL, "EDC_MANAGEMENT_URL")
	setString(&cfg.EDCAPIKey, "EDC_API_KEY")
	setString(&cfg.FrameworkAgreement, "FRAMEWORK_AGREEMENT")
	setString(&cfg.LedgerBackend, "LEDGER_BACKEND")
	setString(&cfg.LedgerTable, "LEDGER_TABLE")
	setString(&cfg.QueueURL, "EXCHANGE_QUEUE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MetricsNamespace, "METRICS_NAMESPACE")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")

	if err := setBool(&cfg.RequireFrameworkAgreement, "REQUIRE_FRAMEWORK_AGREEMENT"); err != nil {
		return err
	}
	if err := setBool(&cfg.RunLocal, "RUN_LOCAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.TokenTTL, "TOKEN_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.PollInterval, "POLL_INTERVAL"); err != nil {
		return err
	}
	if err := setInt(&cfg.PollAttempts, "POLL_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&cfg.WorkerPoolSize, "WORKER_POOL_SIZE"); err != nil {
		return err
	}
	if err := setInt(&cfg.InboundBurst, "INBOUND_BURST"); err != nil {
		return err
	}
	if v := os.Getenv("INBOUND_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: INBOUND_RPS: %w", err)
		}
		cfg.InboundRPS = f
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
