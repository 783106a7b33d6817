// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/unimate-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are route prefixes owned by the gateway itself.
var reservedRoutes = []string{"/api", "/ws", "/healthz", "/proxy/status", "/proxy/site"}

// kioskIDPattern keeps kiosk.id usable as a single /ws path segment.
var kioskIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL string `kong:"help='Backend API base URL (overrides config).',env='BACKEND_URL'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream" yaml:"upstream"`
	Static    StaticConfig    `toml:"static" yaml:"static"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Kiosk     KioskConfig     `toml:"kiosk" yaml:"kiosk"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`

	filePath string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds the backend API location.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url" yaml:"base_url"`
	IndexPath       string `toml:"index_path" yaml:"index_path"`
	IdleConnections int    `toml:"idle_connections" yaml:"idle_connections"`
}

// IndexURL returns the fixed upstream target of the index endpoint.
func (u *UpstreamConfig) IndexURL() string {
	return strings.TrimRight(u.BaseURL, "/") + u.IndexPath
}

// StaticConfig controls serving of front-end files. An empty Root disables it.
type StaticConfig struct {
	Root string `toml:"root" yaml:"root"`
}

// WebSocketConfig controls the /ws relay.
type WebSocketConfig struct {
	Enabled     *bool  `toml:"enabled" yaml:"enabled"`
	UpstreamURL string `toml:"upstream_url" yaml:"upstream_url"`
}

// IsEnabled reports whether the relay is on. Unset means enabled.
func (w *WebSocketConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// KioskConfig is served to the UI as-is; the gateway never enforces it.
type KioskConfig struct {
	ID                   string `toml:"id" yaml:"id"`
	Location             string `toml:"location" yaml:"location"`
	ReconnectIntervalMS  int    `toml:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/unimate-gateway/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// unmarshal picks the decoder by file extension; TOML is the default.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Upstream.BaseURL = cli.BackendURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateURL("upstream.base_url", c.Upstream.BaseURL, "http", "https"); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Upstream.IndexPath, "/") {
		return fmt.Errorf("upstream.index_path must start with '/'; got %q", c.Upstream.IndexPath)
	}
	if c.WebSocket.IsEnabled() {
		if err := validateURL("websocket.upstream_url", c.WebSocket.UpstreamURL, "ws", "wss"); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Kiosk.ReconnectIntervalMS < 0 || c.Kiosk.MaxReconnectAttempts < 0 {
		return fmt.Errorf("kiosk reconnect settings must be non-negative")
	}
	if !kioskIDPattern.MatchString(c.Kiosk.ID) {
		return fmt.Errorf("kiosk.id must contain only letters, digits, '.', '_' or '-'; got %q", c.Kiosk.ID)
	}

	if c.Static.Root != "" {
		info, err := os.Stat(c.Static.Root)
		if err != nil {
			return fmt.Errorf("static.root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("static.root %q is not a directory", c.Static.Root)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s has no host; got %q", field, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v; got %q", field, schemes, raw)
}

// setDefaults fills zero-valued fields. It runs before validation so that a
// websocket upstream can be derived from the backend URL.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://localhost:8000"
	}
	if c.Upstream.IndexPath == "" {
		c.Upstream.IndexPath = "/api/"
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.WebSocket.UpstreamURL == "" {
		c.WebSocket.UpstreamURL = websocketURL(c.Upstream.BaseURL)
	}
	if c.Kiosk.ID == "" {
		c.Kiosk.ID = "kiosk-001"
	}
	if c.Kiosk.Location == "" {
		c.Kiosk.Location = "Main Campus"
	}
	if c.Kiosk.ReconnectIntervalMS == 0 {
		c.Kiosk.ReconnectIntervalMS = 5000
	}
	if c.Kiosk.MaxReconnectAttempts == 0 {
		c.Kiosk.MaxReconnectAttempts = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// websocketURL maps an http(s) base URL onto the matching ws(s) scheme.
func websocketURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
