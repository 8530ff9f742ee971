package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FATOORA_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8390, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.License.RequestTimeout)
	assert.Equal(t, 30*time.Minute, cfg.License.RecheckInterval)
	assert.Equal(t, 5, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.PIN.TTL)
	assert.Equal(t, 5*time.Minute, cfg.PIN.SweepInterval)
	assert.Equal(t, "owner@fatoora.local", cfg.PIN.PlaceholderRecipient)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, "console", cfg.Logging.Output)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9100
lockout:
  max_attempts: 3
pin:
  ttl: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("FATOORA_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.PIN.TTL)
	// Values the file does not set keep their defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0644))
	t.Setenv("FATOORA_CONFIG_FILE", path)
	t.Setenv("FATOORA_SERVER_PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8390},
			Logging: LoggingConfig{Output: "console"},
			License: LicenseConfig{
				Endpoint:       "https://license.example.com/api/validate",
				RequestTimeout: 10 * time.Second,
			},
			Lockout: LockoutConfig{MaxAttempts: 5},
			PIN: PINConfig{
				TTL:           10 * time.Minute,
				SweepInterval: 5 * time.Minute,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config passes",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server port",
		},
		{
			name:    "empty license endpoint",
			mutate:  func(c *Config) { c.License.Endpoint = "" },
			wantErr: "license endpoint",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.License.RequestTimeout = 0 },
			wantErr: "request timeout",
		},
		{
			name:    "zero lockout attempts",
			mutate:  func(c *Config) { c.Lockout.MaxAttempts = 0 },
			wantErr: "max attempts",
		},
		{
			name:    "zero pin ttl",
			mutate:  func(c *Config) { c.PIN.TTL = 0 },
			wantErr: "pin ttl",
		},
		{
			name:    "bad logging output",
			mutate:  func(c *Config) { c.Logging.Output = "syslog" },
			wantErr: "logging output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPathsConfig(t *testing.T) {
	p := PathsConfig{DataDir: "data", StateFile: "trust_state.json", ProfileFile: "profile.json"}
	assert.Equal(t, filepath.Join("data", "trust_state.json"), p.StatePath())
	assert.Equal(t, filepath.Join("data", "profile.json"), p.ProfilePath())
}

func TestAddress(t *testing.T) {
	cfg := Config{Server: ServerConfig{Host: "127.0.0.1", Port: 8390}}
	assert.Equal(t, "127.0.0.1:8390", cfg.Address())
}
