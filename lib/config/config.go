// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables read by this package.
const (
	EnvConfig       = "SPECKLE_CONFIG"
	EnvToken        = "SPECKLE_TOKEN"
	EnvUserDataPath = "SPECKLE_USERDATA_PATH"
)

// Config is the client configuration.
type Config struct {
	// Account identifies the server and credentials.
	Account AccountConfig `yaml:"account"`

	// Stream is the default stream (project) id for send and receive.
	Stream string `yaml:"stream"`

	// Cache configures the local SQLite object cache.
	Cache CacheConfig `yaml:"cache"`

	// Batch configures upload batching.
	Batch BatchConfig `yaml:"batch"`

	// HTTP configures the HTTP client used against the server.
	HTTP HTTPConfig `yaml:"http"`

	// Telemetry enables the telemetry sink.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AccountConfig holds the server URL and token. The token is obtained
// elsewhere (the GraphQL client or the web UI); this package only
// carries it.
type AccountConfig struct {
	// ServerURL is the server base URL, e.g. https://app.speckle.systems.
	ServerURL string `yaml:"server_url"`

	// Token is a personal access token. Prefer TokenFile or the
	// SPECKLE_TOKEN environment variable over inlining it.
	Token string `yaml:"token"`

	// TokenFile is a file containing the token.
	TokenFile string `yaml:"token_file"`
}

// CacheConfig configures the local object cache.
type CacheConfig struct {
	// BasePath is the directory holding {scope}.db files. Empty means
	// UserDataPath().
	BasePath string `yaml:"base_path"`

	// Scope names the cache file. Default: Objects.
	Scope string `yaml:"scope"`

	// BufferBytes is the write buffer flushed in one transaction.
	// Default: 10 MB.
	BufferBytes int `yaml:"buffer_bytes"`

	// Hasher is the id hasher for local-only use: sha256 or blake3.
	// Sends always use sha256.
	Hasher string `yaml:"hasher"`
}

// BatchConfig configures the upload batcher.
type BatchConfig struct {
	MaxBytes      int `yaml:"max_bytes"`
	MaxLength     int `yaml:"max_length"`
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
}

// HTTPConfig configures HTTP behavior.
type HTTPConfig struct {
	// ConnectTimeout bounds connection establishment. Default: 10s.
	ConnectTimeout string `yaml:"connect_timeout"`

	// Attempts is the total number of tries per request. Default: 3.
	Attempts int `yaml:"attempts"`
}

// TelemetryConfig configures telemetry.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with every defaultable field set.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Scope:       "Objects",
			BufferBytes: 10 * 1000 * 1000,
			Hasher:      "sha256",
		},
		Batch: BatchConfig{
			MaxBytes:      1000 * 1000,
			MaxLength:     20000,
			QueueCapacity: 10,
			Workers:       4,
		},
		HTTP: HTTPConfig{
			ConnectTimeout: "10s",
			Attempts:       3,
		},
	}
}

// Load loads the file named by SPECKLE_CONFIG. It fails if the variable
// is not set.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvConfig)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over Default(), then applies
// environment overrides and variable expansion.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironment()
	cfg.expandVariables()
	return cfg, nil
}

// FromEnvironment returns Default() with environment overrides applied,
// for commands run without a config file.
func FromEnvironment() *Config {
	cfg := Default()
	cfg.applyEnvironment()
	cfg.expandVariables()
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	extension := strings.ToLower(filepath.Ext(path))
	if extension == ".json" || extension == ".jsonc" {
		// JSON is a subset of YAML, so the stripped document goes
		// through the same decoder and struct tags.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironment() {
	if token := os.Getenv(EnvToken); token != "" {
		c.Account.Token = token
		c.Account.TokenFile = ""
	}
	if base := os.Getenv(EnvUserDataPath); base != "" {
		c.Cache.BasePath = base
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Cache.BasePath = expandVars(c.Cache.BasePath, vars)
	c.Account.TokenFile = expandVars(c.Account.TokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking vars
// before the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Account fields are not
// required here; commands that talk to a server call RequireAccount.
func (c *Config) Validate() error {
	var errs []error

	if c.Cache.Scope == "" {
		errs = append(errs, errors.New("cache.scope is required"))
	}
	if strings.ContainsAny(c.Cache.Scope, `/\`) {
		errs = append(errs, fmt.Errorf("cache.scope %q must not contain path separators", c.Cache.Scope))
	}
	if c.Cache.BufferBytes <= 0 {
		errs = append(errs, errors.New("cache.buffer_bytes must be positive"))
	}
	if c.Cache.Hasher != "sha256" && c.Cache.Hasher != "blake3" {
		errs = append(errs, fmt.Errorf("cache.hasher must be sha256 or blake3, got %q", c.Cache.Hasher))
	}
	if c.Batch.MaxBytes <= 0 || c.Batch.MaxLength <= 0 || c.Batch.QueueCapacity <= 0 || c.Batch.Workers <= 0 {
		errs = append(errs, errors.New("batch sizes, queue_capacity, and workers must be positive"))
	}
	if _, err := c.HTTP.ConnectTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.Attempts <= 0 {
		errs = append(errs, errors.New("http.attempts must be positive"))
	}
	if c.Account.ServerURL != "" {
		if _, err := c.Account.ParseServerURL(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RequireAccount checks that a server URL, a token, and a stream are
// available.
func (c *Config) RequireAccount() error {
	var errs []error
	if c.Account.ServerURL == "" {
		errs = append(errs, errors.New("account.server_url is required"))
	}
	if c.Account.Token == "" && c.Account.TokenFile == "" {
		errs = append(errs, fmt.Errorf("account.token, account.token_file, or %s is required", EnvToken))
	}
	if c.Stream == "" {
		errs = append(errs, errors.New("stream is required"))
	}
	return errors.Join(errs...)
}

// ConnectTimeoutDuration parses ConnectTimeout.
func (h HTTPConfig) ConnectTimeoutDuration() (time.Duration, error) {
	if h.ConnectTimeout == "" {
		return 10 * time.Second, nil
	}
	duration, err := time.ParseDuration(h.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("http.connect_timeout: %w", err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("http.connect_timeout must be positive, got %s", duration)
	}
	return duration, nil
}

// ParseServerURL parses and checks ServerURL. Only http and https are
// accepted; a trailing slash is removed.
func (a AccountConfig) ParseServerURL() (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimRight(a.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("account.server_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("account.server_url must be http or https, got %q", a.ServerURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("account.server_url %q has no host", a.ServerURL)
	}
	return parsed, nil
}

// ResolveToken returns Token, or the trimmed contents of TokenFile.
func (a AccountConfig) ResolveToken() (string, error) {
	if a.Token != "" {
		return a.Token, nil
	}
	if a.TokenFile == "" {
		return "", errors.New("no account token configured")
	}
	data, err := os.ReadFile(a.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", a.TokenFile)
	}
	return token, nil
}

// CachePath returns the SQLite file for the configured scope.
func (c *Config) CachePath() (string, error) {
	base := c.Cache.BasePath
	if base == "" {
		var err error
		base, err = UserDataPath()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(base, c.Cache.Scope+".db"), nil
}

// UserDataPath returns the directory local caches are kept in:
// SPECKLE_USERDATA_PATH when set, otherwise %APPDATA%\Speckle on
// Windows, $XDG_DATA_HOME/Speckle when XDG_DATA_HOME is set, and
// ~/.config/Speckle elsewhere.
func UserDataPath() (string, error) {
	return userDataPath(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

func userDataPath(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	if base := getenv(EnvUserDataPath); base != "" {
		return base, nil
	}
	if goos == "windows" {
		if appData := getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Speckle"), nil
		}
	}
	if dataHome := getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "Speckle"), nil
	}
	homeDir, err := home()
	if err != nil {
		return "", fmt.Errorf("config: locating user data directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "Speckle"), nil
}
