package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Lockout  LockoutConfig  `yaml:"lockout" envconfig:"LOCKOUT"`
	PIN      PINConfig      `yaml:"pin" envconfig:"PIN"`
	PublicIP PublicIPConfig `yaml:"public_ip" envconfig:"PUBLIC_IP"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains the local HTTP server configuration.
// The server binds to loopback only; it exists to serve the desktop shell.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// LicenseConfig describes the remote license authority and how often the
// device is revalidated against it.
type LicenseConfig struct {
	Endpoint        string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	SoftwareName    string        `yaml:"software_name" envconfig:"SOFTWARE_NAME"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	RecheckInterval time.Duration `yaml:"recheck_interval" envconfig:"RECHECK_INTERVAL"`
}

// LockoutConfig controls the local retry-lockout state machine
type LockoutConfig struct {
	MaxAttempts int `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
}

// PINConfig controls verification code issuance. TTL is the single
// authority for code lifetime; issuance results carry the derived expiry.
type PINConfig struct {
	TTL                  time.Duration `yaml:"ttl" envconfig:"TTL"`
	SweepInterval        time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	PlaceholderRecipient string        `yaml:"placeholder_recipient" envconfig:"PLACEHOLDER_RECIPIENT"`
}

// PublicIPConfig describes the best-effort public IP echo lookup
type PublicIPConfig struct {
	Endpoint string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration for the local API
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// PathsConfig contains file system paths for locally persisted state
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR"`
	StateFile   string `yaml:"state_file" envconfig:"STATE_FILE"`
	ProfileFile string `yaml:"profile_file" envconfig:"PROFILE_FILE"`
}

// StatePath returns the resolved path of the persisted trust state file
func (p PathsConfig) StatePath() string {
	return filepath.Join(p.DataDir, p.StateFile)
}

// ProfilePath returns the resolved path of the persisted login profile
func (p PathsConfig) ProfilePath() string {
	return filepath.Join(p.DataDir, p.ProfileFile)
}

// EnsureDirs creates the directories persisted state is written to
func (p PathsConfig) EnsureDirs() error {
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8390,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/fatoora.log",
		},
		License: LicenseConfig{
			Endpoint:        "https://license.fatoora.app/api/validate",
			SoftwareName:    "fatoora",
			RequestTimeout:  10 * time.Second,
			RecheckInterval: 30 * time.Minute,
		},
		Lockout: LockoutConfig{MaxAttempts: 5},
		PIN: PINConfig{
			TTL:                  10 * time.Minute,
			SweepInterval:        5 * time.Minute,
			PlaceholderRecipient: "owner@fatoora.local",
		},
		PublicIP: PublicIPConfig{
			Endpoint: "https://api.ipify.org?format=json",
			Timeout:  5 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{Enabled: true, RPS: 25, Burst: 10},
		},
		Paths: PathsConfig{
			DataDir:     "data",
			StateFile:   "trust_state.json",
			ProfileFile: "profile.json",
		},
	}
}

// Load builds the configuration in three layers: built-in defaults, an
// optional YAML config file, then environment variables. Later layers win;
// env vars only override keys that are explicitly set.
func Load() (*Config, error) {
	cfg := Default()

	configFile := os.Getenv("FATOORA_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	if err := envconfig.Process("FATOORA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.License.Endpoint == "" {
		return fmt.Errorf("license endpoint must not be empty")
	}
	if c.License.RequestTimeout <= 0 {
		return fmt.Errorf("license request timeout must be positive, got %s", c.License.RequestTimeout)
	}
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("lockout max attempts must be at least 1, got %d", c.Lockout.MaxAttempts)
	}
	if c.PIN.TTL <= 0 {
		return fmt.Errorf("pin ttl must be positive, got %s", c.PIN.TTL)
	}
	if c.PIN.SweepInterval <= 0 {
		return fmt.Errorf("pin sweep interval must be positive, got %s", c.PIN.SweepInterval)
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("logging output must be console, file, or both, got %q", c.Logging.Output)
	}
	return nil
}

// Address returns the listen address of the local HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
