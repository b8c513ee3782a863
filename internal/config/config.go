// Package config loads service configuration from an optional YAML file,
// a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/solstake/ledger-engine/internal/jupiter"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Solana    SolanaConfig    `yaml:"solana"`
	Jupiter   JupiterConfig   `yaml:"jupiter"`
	Staking   StakingConfig   `yaml:"staking"`
	Limits    LimitsConfig    `yaml:"limits"`
	Tickets   TicketsConfig   `yaml:"tickets"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

type AppConfig struct {
	Name            string        `yaml:"name"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SettleTimeout   time.Duration `yaml:"settle_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

type HTTPConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

type StoresConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type SolanaConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

type JupiterConfig struct {
	BaseURL        string          `yaml:"base_url"`
	Timeout        time.Duration   `yaml:"timeout"`
	ConfirmTimeout time.Duration   `yaml:"confirm_timeout"`
	Tokens         []jupiter.Token `yaml:"tokens"`
}

// TierConfig is one staking term. APY is a fraction (0.10 = 10%).
type TierConfig struct {
	DurationDays int    `yaml:"duration_days"`
	APY          string `yaml:"apy"`
}

type StakingConfig struct {
	Tiers []TierConfig `yaml:"tiers"`
}

// LimitsConfig caps exposure. Amounts are decimal strings; empty or "0"
// disables the check.
type LimitsConfig struct {
	MaxPerStake  string `yaml:"max_per_stake"`
	MaxPrincipal string `yaml:"max_principal"`
	MaxPerTrade  string `yaml:"max_per_trade"`
}

type TicketsConfig struct {
	PerTrade      int64         `yaml:"per_trade"`
	PerStakeMonth int64         `yaml:"per_stake_month"`
	RoundLength   time.Duration `yaml:"round_length"`
}

type ReconcileConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Repair   bool          `yaml:"repair"`
	Grace    time.Duration `yaml:"grace"` // skip repair for users active this recently
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:            "ledger-engine",
			ShutdownTimeout: 5 * time.Second,
			SettleTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		HTTP: HTTPConfig{
			Port:           "8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   90 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 75 * time.Second,
		},
		Stores: StoresConfig{
			Mongo: MongoConfig{Database: "solstake"},
			Redis: RedisConfig{TTL: 30 * time.Second},
		},
		PubSub: PubSubConfig{NATS: NATSConfig{SubjectPrefix: "ledger"}},
		Jupiter: JupiterConfig{
			BaseURL:        jupiter.DefaultBaseURL,
			Timeout:        10 * time.Second,
			ConfirmTimeout: 60 * time.Second,
			Tokens:         jupiter.DefaultTokens(),
		},
		Staking: StakingConfig{Tiers: []TierConfig{
			{DurationDays: 30, APY: "0.10"},
			{DurationDays: 90, APY: "0.15"},
			{DurationDays: 180, APY: "0.20"},
		}},
		Tickets: TicketsConfig{
			PerTrade:      1,
			PerStakeMonth: 2,
			RoundLength:   7 * 24 * time.Hour,
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "0 */15 * * * *",
			Grace:    time.Minute,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if path is not
// empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.HTTP.Port, "PORT")
	setFromEnv(&c.Stores.Postgres.URL, "DATABASE_URL")
	setFromEnv(&c.Stores.Mongo.URI, "MONGO_URI")
	setFromEnv(&c.Stores.Redis.URL, "REDIS_URL")
	setFromEnv(&c.PubSub.NATS.URL, "NATS_URL")
	setFromEnv(&c.Solana.RPCURL, "SOLANA_RPC_URL")
	setFromEnv(&c.Jupiter.BaseURL, "JUPITER_API_URL")
	setFromEnv(&c.Logging.Level, "LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if c.HTTP.Port == "" {
		return errors.New("config: http.port is required")
	}
	if c.Stores.Postgres.URL != "" && c.Stores.Mongo.URI != "" {
		return errors.New("config: set only one of stores.postgres.url and stores.mongo.uri")
	}
	if len(c.Staking.Tiers) == 0 {
		return errors.New("config: staking.tiers must not be empty")
	}
	if _, err := c.StakingTiers(); err != nil {
		return err
	}
	if _, err := c.LimitAmounts(); err != nil {
		return err
	}
	if _, err := jupiter.NewTokenTable(c.Jupiter.Tokens); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Tickets.PerTrade < 0 || c.Tickets.PerStakeMonth < 0 {
		return errors.New("config: ticket rates must not be negative")
	}
	if c.Reconcile.Enabled && c.Reconcile.Schedule == "" {
		return errors.New("config: reconcile.schedule is required when reconcile is enabled")
	}
	return nil
}
