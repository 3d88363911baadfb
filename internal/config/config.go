package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// configFileName is read from EnvoyHome when present.
	configFileName = "config.yaml"

	defaultServerURL      = "http://localhost:5000/api"
	defaultSocketURL      = "http://localhost:5000"
	defaultRequestTimeout = 15 * time.Second
	defaultRetryDelay     = time.Second
	defaultMaxAttempts    = 5
)

// TokenStore selects the backend used to persist the auth token.
type TokenStore string

const (
	// TokenStoreFile keeps the token in a 0600 file under EnvoyHome.
	TokenStoreFile TokenStore = "file"
	// TokenStoreSQLite keeps the token in a key-value table in EnvoyHome/envoy.db.
	TokenStoreSQLite TokenStore = "sqlite"
	// TokenStoreMemory keeps nothing across runs.
	TokenStoreMemory TokenStore = "memory"
)

type Config struct {
	// ServerURL is the base URL of the REST API (including the /api prefix).
	ServerURL string `yaml:"server_url"`
	// SocketURL is the base URL of the push channel server.
	SocketURL string `yaml:"socket_url"`
	// SocketPath overrides the socket.io handshake path (empty = library default).
	SocketPath string `yaml:"socket_path"`

	// EnvoyHome is the directory where local state is stored.
	EnvoyHome string `yaml:"-"`
	// TokenStore selects where the auth token is persisted.
	TokenStore TokenStore `yaml:"token_store"`

	// RequestTimeout bounds every REST call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ReconnectDelay is the fixed wait between push reconnect attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// ReconnectAttempts caps consecutive failed push connection attempts.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// NewsFeeds lists RSS/Atom URLs for the technology news list.
	NewsFeeds []string `yaml:"news_feeds"`

	// LogLevel is the logger threshold (trace|debug|info|warn|error).
	LogLevel string `yaml:"log_level"`
	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`
}

// Load loads configuration from defaults, the optional YAML file and the
// environment, in that order of precedence (environment wins).
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	envoyHome := os.Getenv("ENVOY_HOME_DIR")
	if envoyHome == "" {
		envoyHome = filepath.Join(homeDir, ".envoy")
	}

	if err := os.MkdirAll(envoyHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create envoy home: %w", err)
	}

	cfg := defaults(envoyHome)
	if err := cfg.loadFile(filepath.Join(envoyHome, configFileName)); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults(envoyHome string) *Config {
	return &Config{
		ServerURL:         defaultServerURL,
		SocketURL:         defaultSocketURL,
		EnvoyHome:         envoyHome,
		TokenStore:        TokenStoreFile,
		RequestTimeout:    defaultRequestTimeout,
		ReconnectDelay:    defaultRetryDelay,
		ReconnectAttempts: defaultMaxAttempts,
		LogLevel:          "info",
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("ENVOY_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("ENVOY_SOCKET_URL"); v != "" {
		c.SocketURL = v
	}
	if v := os.Getenv("ENVOY_SOCKET_PATH"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("ENVOY_TOKEN_STORE"); v != "" {
		c.TokenStore = TokenStore(strings.ToLower(v))
	}
	if v := os.Getenv("ENVOY_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ENVOY_REQUEST_TIMEOUT %q: %w", v, err)
		}
		c.RequestTimeout = d
	}
	if v := os.Getenv("ENVOY_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ENVOY_RECONNECT_ATTEMPTS %q: %w", v, err)
		}
		c.ReconnectAttempts = n
	}
	if v := os.Getenv("ENVOY_NEWS_FEEDS"); v != "" {
		c.NewsFeeds = splitList(v)
	}
	if v := os.Getenv("ENVOY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	debug := os.Getenv("ENVOY_DEBUG")
	if debug == "true" || debug == "1" {
		c.Debug = true
	}
	if c.Debug && c.LogLevel == "info" {
		c.LogLevel = "debug"
	}
	return nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server url is required")
	}
	switch c.TokenStore {
	case TokenStoreFile, TokenStoreSQLite, TokenStoreMemory:
	default:
		return fmt.Errorf("invalid token store %q (expected file, sqlite, or memory)", c.TokenStore)
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect attempts must be positive, got %d", c.ReconnectAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

// TokenPath is the file used by the file token store.
func (c *Config) TokenPath() string {
	return filepath.Join(c.EnvoyHome, "token")
}

// DatabasePath is the sqlite file used by the sqlite token store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.EnvoyHome, "envoy.db")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
