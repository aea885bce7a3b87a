package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	GlobalConfigCallback ConfigCallback[GlobalConfig] = ConfigCallback[GlobalConfig]{}
	CfgFlag                                           = flag.String("config", "config.toml", "Configuration file (toml format)")
	EnvFlag                                           = flag.String("env", ".env", "Optional dotenv file")
)

const (
	DefaultBatchSize                 = 100
	DefaultWorkers                   = 4
	DefaultPollMillis                = 2000
	DefaultTimeoutMillis             = 10000
	DefaultReconciliationBatchSize   = 100
	DefaultReconciliationIntervalSec = 3600
	DefaultListenAddress             = ":8080"
	DefaultIndexerVersion            = "1.0.0"
	DefaultCommitment                = "confirmed"
)

type GlobalConfig interface {
	LoggerConfig() LoggerConfig
	ChainConfig() ChainConfig
}

type Config struct {
	DB             DBConfig             `toml:"db"`
	Logger         LoggerConfig         `toml:"logger"`
	Chain          ChainConfig          `toml:"chain"`
	Indexer        IndexerConfig        `toml:"indexer"`
	Reconciliation ReconciliationConfig `toml:"reconciliation"`
	Retry          RetryConfig          `toml:"retry"`
	Server         ServerConfig         `toml:"server"`
}

type LoggerConfig struct {
	Level       string `toml:"level"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	MaxBackups  int    `toml:"max_backups"`
	MaxAgeDays  int    `toml:"max_age_days"`
	Compress    bool   `toml:"compress"`
	Console     bool   `toml:"console"`
	SentryDSN   string `toml:"sentry_dsn" envconfig:"SENTRY_DSN"`
}

type DBConfig struct {
	Host             string `toml:"host" envconfig:"DB_HOST"`
	Port             int    `toml:"port" envconfig:"DB_PORT"`
	Database         string `toml:"database" envconfig:"DB_DATABASE"`
	Username         string `toml:"username" envconfig:"DB_USERNAME"`
	Password         string `toml:"password" envconfig:"DB_PASSWORD"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

type ChainConfig struct {
	NodeURL           string  `toml:"node_url" envconfig:"CHAIN_NODE_URL"`
	APIKey            string  `toml:"api_key" envconfig:"CHAIN_API_KEY"`
	Commitment        string  `toml:"commitment"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutMillis     int     `toml:"timeout_millis"`
}

type IndexerConfig struct {
	ProgramAddress string `toml:"program_address" envconfig:"INDEXER_PROGRAM_ADDRESS"`
	BatchSize      int    `toml:"batch_size"`
	Workers        int    `toml:"workers"`
	PollMillis     int    `toml:"poll_millis"`
	Version        string `toml:"version"`
	AutoStart      bool   `toml:"auto_start"`
}

type ReconciliationConfig struct {
	Enabled     bool `toml:"enabled"`
	IntervalSec int  `toml:"interval_sec"`
	BatchSize   int  `toml:"batch_size"`
	AutoResolve bool `toml:"auto_resolve"`
}

// RetryConfig overrides the preset retry policies. Zero values keep the preset.
type RetryConfig struct {
	RPC      RetryPolicyConfig `toml:"rpc"`
	Database RetryPolicyConfig `toml:"database"`
	HTTP     RetryPolicyConfig `toml:"http"`
}

type RetryPolicyConfig struct {
	MaxRetries        int     `toml:"max_retries"`
	InitialDelayMs    int     `toml:"initial_delay_ms"`
	MaxDelayMs        int     `toml:"max_delay_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	JitterPercent     float64 `toml:"jitter_percent"`
}

type ServerConfig struct {
	ListenAddress string `toml:"listen_address" envconfig:"SERVER_LISTEN_ADDRESS"`
}

func newConfig() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "INFO", Console: true, MaxFileSize: 10},
		Chain:  ChainConfig{Commitment: DefaultCommitment, TimeoutMillis: DefaultTimeoutMillis},
		Indexer: IndexerConfig{
			BatchSize:  DefaultBatchSize,
			Workers:    DefaultWorkers,
			PollMillis: DefaultPollMillis,
			Version:    DefaultIndexerVersion,
		},
		Reconciliation: ReconciliationConfig{
			IntervalSec: DefaultReconciliationIntervalSec,
			BatchSize:   DefaultReconciliationBatchSize,
		},
		Server: ServerConfig{ListenAddress: DefaultListenAddress},
	}
}

func BuildConfig() (*Config, error) {
	cfgFileName := *CfgFlag

	cfg := newConfig()
	err := ParseConfigFile(cfg, cfgFileName)
	if err != nil {
		return nil, err
	}
	err = LoadDotEnv(*EnvFlag)
	if err != nil {
		return nil, err
	}
	err = ReadEnv(cfg)
	if err != nil {
		return nil, err
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}

	_, err = toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from a dotenv file into the process environment.
// A missing file is not an error; variables already set are not overwritten.
func LoadDotEnv(fileName string) error {
	if fileName == "" {
		return nil
	}
	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(fileName); err != nil {
		return fmt.Errorf("error loading env file: %w", err)
	}
	return nil
}

func ReadEnv(cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return fmt.Errorf("chain.node_url is required")
	}
	if _, err := c.Chain.FullNodeURL(); err != nil {
		return err
	}
	if c.Indexer.BatchSize <= 0 || c.Indexer.BatchSize > 1000 {
		return fmt.Errorf("indexer.batch_size must be in [1, 1000], got %d", c.Indexer.BatchSize)
	}
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("indexer.workers must be positive, got %d", c.Indexer.Workers)
	}
	if c.Reconciliation.BatchSize <= 0 {
		return fmt.Errorf("reconciliation.batch_size must be positive, got %d", c.Reconciliation.BatchSize)
	}
	if c.Reconciliation.Enabled && c.Reconciliation.IntervalSec <= 0 {
		return fmt.Errorf("reconciliation.interval_sec must be positive when enabled")
	}
	return nil
}

// FullNodeURL returns the node URL with the API key appended as a query
// parameter, the way hosted Solana RPC providers expect it.
func (c ChainConfig) FullNodeURL() (*url.URL, error) {
	u, err := url.Parse(c.NodeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid chain.node_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid chain.node_url scheme %q", u.Scheme)
	}

	if c.APIKey != "" {
		q := u.Query()
		q.Set("api-key", c.APIKey)
		u.RawQuery = q.Encode()
	}

	return u, nil
}

func (c ChainConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c IndexerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMillis) * time.Millisecond
}

func (c ReconciliationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c Config) ChainConfig() ChainConfig {
	return c.Chain
}
