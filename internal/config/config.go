package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "MESHKEEPER_"

type Config struct {
	Cloud      CloudConfig      `toml:"cloud" envPrefix:"CLOUD_"`
	Polling    PollingConfig    `toml:"polling" envPrefix:"POLLING_"`
	Actions    ActionsConfig    `toml:"actions" envPrefix:"ACTIONS_"`
	Probe      ProbeConfig      `toml:"probe" envPrefix:"PROBE_"`
	Throughput ThroughputConfig `toml:"throughput" envPrefix:"THROUGHPUT_"`
	Storage    StorageConfig    `toml:"storage" envPrefix:"STORAGE_"`
	Server     ServerConfig     `toml:"server" envPrefix:"SERVER_"`
	Logging    LoggingConfig    `toml:"logging" envPrefix:"LOGGING_"`
}

type CloudConfig struct {
	BaseURL   string        `toml:"base_url" env:"BASE_URL" validate:"required,url"`
	Timeout   time.Duration `toml:"timeout" env:"TIMEOUT" validate:"min=1s"`
	UserAgent string        `toml:"user_agent" env:"USER_AGENT"`
	Account   string        `toml:"account" env:"ACCOUNT" validate:"required"`

	MaxDetailFetches  int           `toml:"max_detail_fetches" env:"MAX_DETAIL_FETCHES" validate:"min=0"`
	FanOutWorkers     int           `toml:"fan_out_workers" env:"FAN_OUT_WORKERS" validate:"min=1,max=64"`
	CandidateCacheTTL time.Duration `toml:"candidate_cache_ttl" env:"CANDIDATE_CACHE_TTL"`

	ScoreNumeric int `toml:"score_numeric" env:"SCORE_NUMERIC" validate:"min=0"`
	ScoreString  int `toml:"score_string" env:"SCORE_STRING" validate:"min=0"`
	ScoreRow     int `toml:"score_row" env:"SCORE_ROW" validate:"min=0"`
}

type PollingConfig struct {
	ForegroundInterval time.Duration `toml:"foreground_interval" env:"FOREGROUND_INTERVAL" validate:"min=1s"`
	BackgroundInterval time.Duration `toml:"background_interval" env:"BACKGROUND_INTERVAL" validate:"min=1s"`
}

type ActionsConfig struct {
	ConfirmModerate bool `toml:"confirm_moderate" env:"CONFIRM_MODERATE"`
}

type ProbeConfig struct {
	Enabled     bool          `toml:"enabled" env:"ENABLED"`
	MinInterval time.Duration `toml:"min_interval" env:"MIN_INTERVAL" validate:"min=30s"`
	Timeout     time.Duration `toml:"timeout" env:"TIMEOUT" validate:"min=100ms"`
	Gateway     string        `toml:"gateway" env:"GATEWAY" validate:"omitempty,ip"`
	DNSName     string        `toml:"dns_name" env:"DNS_NAME" validate:"required,hostname"`
	NTPServer   string        `toml:"ntp_server" env:"NTP_SERVER" validate:"required"`
}

type ThroughputConfig struct {
	Enabled   bool          `toml:"enabled" env:"ENABLED"`
	Interface string        `toml:"interface" env:"INTERFACE"`
	Interval  time.Duration `toml:"interval" env:"INTERVAL" validate:"min=100ms"`
	Smoothing float64       `toml:"smoothing" env:"SMOOTHING" validate:"gt=0,lte=1"`
	ProcRoot  string        `toml:"proc_root" env:"PROC_ROOT"`
}

type StorageConfig struct {
	DataDir         string `toml:"data_dir" env:"DATA_DIR"`
	InMemory        bool   `toml:"in_memory" env:"IN_MEMORY"`
	CredentialsFile string `toml:"credentials_file" env:"CREDENTIALS_FILE"`
	Secret          string `toml:"-" env:"SECRET"`
}

type ServerConfig struct {
	ListenAddress string        `toml:"listen_address" env:"LISTEN_ADDRESS" validate:"required,hostname_port"`
	MetricsPath   string        `toml:"metrics_path" env:"METRICS_PATH" validate:"required,startswith=/"`
	Namespace     string        `toml:"namespace" env:"NAMESPACE" validate:"required"`
	ReadTimeout   time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout   time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `toml:"format" env:"FORMAT" validate:"oneof=json text"`
}

var validate = validator.New()

func DefaultConfig() Config {
	return Config{
		Cloud: CloudConfig{
			BaseURL:           "https://api-user.e2ro.com/2.2",
			Timeout:           20 * time.Second,
			UserAgent:         "meshkeeper",
			Account:           "default",
			MaxDetailFetches:  24,
			FanOutWorkers:     6,
			CandidateCacheTTL: 10 * time.Minute,
			ScoreNumeric:      100,
			ScoreString:       10,
			ScoreRow:          1,
		},
		Polling: PollingConfig{
			ForegroundInterval: 15 * time.Second,
			BackgroundInterval: 5 * time.Minute,
		},
		Actions: ActionsConfig{
			ConfirmModerate: true,
		},
		Probe: ProbeConfig{
			Enabled:     true,
			MinInterval: 30 * time.Second,
			Timeout:     3 * time.Second,
			DNSName:     "example.com",
			NTPServer:   "pool.ntp.org",
		},
		Throughput: ThroughputConfig{
			Enabled:   true,
			Interval:  time.Second,
			Smoothing: 0.3,
			ProcRoot:  "/proc",
		},
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:9311",
			MetricsPath:   "/metrics",
			Namespace:     "meshkeeper",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path, a .env
// file in the working directory and MESHKEEPER_* environment variables, in
// that order. An empty path selects config.toml under GetConfigDir. Missing
// files are not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "config.toml")
	}

	if err := loadFile(&cfg, path); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.applyDerived(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyDerived fills paths that default relative to the data directory.
func (c *Config) applyDerived() error {
	if c.Storage.DataDir == "" {
		dir, err := GetDataDir()
		if err != nil {
			return fmt.Errorf("failed to resolve data dir: %w", err)
		}
		c.Storage.DataDir = dir
	}
	if c.Storage.CredentialsFile == "" {
		c.Storage.CredentialsFile = filepath.Join(c.Storage.DataDir, "credentials.enc")
	}
	return nil
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Save writes cfg as TOML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) DatabaseDir() string {
	return filepath.Join(c.Storage.DataDir, "state")
}
