package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/CTAG07/Quill/pkg/remote/claude"
	"github.com/CTAG07/Quill/pkg/remote/openai"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const (
	backendNone   = "none"
	backendOpenAI = "openai"
	backendClaude = "claude"

	redactedSecret = "********"
)

// ServerConfig holds the configuration for the HTTP servers and the files they read.
type ServerConfig struct {
	Host              string   `json:"host" yaml:"host"`
	Port              int      `json:"port" yaml:"port"`
	ApiAddr           string   `json:"api_addr" yaml:"api_addr"`
	LogLevel          string   `json:"log_level" yaml:"log_level"`
	TrustedProxies    []string `json:"trusted_proxies" yaml:"trusted_proxies"`
	DatabasePath      string   `json:"database_path" yaml:"database_path"`
	StaticPath        string   `json:"static_path" yaml:"static_path"`
	CorpusPath        string   `json:"corpus_path" yaml:"corpus_path"`
	ChainSnapshotPath string   `json:"chain_snapshot_path" yaml:"chain_snapshot_path"`
}

// GenerationConfig holds the defaults applied to incoming generation requests.
type GenerationConfig struct {
	DefaultModel       string  `json:"default_model" yaml:"default_model"`
	DefaultMaxTokens   int     `json:"default_max_tokens" yaml:"default_max_tokens"`
	DefaultTemperature float64 `json:"default_temperature" yaml:"default_temperature"`
	MaxTokensLimit     int     `json:"max_tokens_limit" yaml:"max_tokens_limit"`
}

// RemoteConfig selects and configures the remote model provider.
type RemoteConfig struct {
	Backend string        `json:"backend" yaml:"backend"`
	OpenAI  openai.Config `json:"openai" yaml:"openai"`
	Claude  claude.Config `json:"claude" yaml:"claude"`
}

// TelemetryConfig holds the tracing and metrics settings.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"service_name" yaml:"service_name"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
	StdoutTraces bool   `json:"stdout_traces" yaml:"stdout_traces"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig     `json:"server_config" yaml:"server_config"`
	Generation *GenerationConfig `json:"generation_config" yaml:"generation_config"`
	Remote     *RemoteConfig     `json:"remote_config" yaml:"remote_config"`
	Telemetry  *TelemetryConfig  `json:"telemetry_config" yaml:"telemetry_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		Port:              5000,
		ApiAddr:           "127.0.0.1:5001",
		LogLevel:          "info",
		TrustedProxies:    []string{},
		DatabasePath:      "./data/quill.db",
		StaticPath:        "./static",
		CorpusPath:        "./corpus/sample.txt",
		ChainSnapshotPath: "",
	}
}

// DefaultGenerationConfig returns the built-in request defaults.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		DefaultModel:       generation.DefaultModel,
		DefaultMaxTokens:   generation.DefaultMaxTokens,
		DefaultTemperature: generation.DefaultTemperature,
		MaxTokensLimit:     4096,
	}
}

// DefaultRemoteConfig returns a configuration with the OpenAI backend and no credentials.
func DefaultRemoteConfig() *RemoteConfig {
	return &RemoteConfig{
		Backend: backendOpenAI,
		OpenAI:  openai.Config{Model: openai.DefaultModel},
		Claude:  claude.Config{Model: claude.DefaultModel},
	}
}

// DefaultTelemetryConfig returns telemetry settings with metrics on and no trace export.
func DefaultTelemetryConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:      true,
		ServiceName:  "quill",
		OTLPEndpoint: "",
		OTLPInsecure: true,
		StdoutTraces: false,
	}
}

// DefaultConfig returns a full configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Generation: DefaultGenerationConfig(),
		Remote:     DefaultRemoteConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// Addr returns the listen address of the public server.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RequestDefaults converts the generation settings for generation.RequestDefaults.Normalize.
func (g *GenerationConfig) RequestDefaults() generation.RequestDefaults {
	return generation.RequestDefaults{
		Model:          g.DefaultModel,
		MaxTokens:      g.DefaultMaxTokens,
		Temperature:    g.DefaultTemperature,
		MaxTokensLimit: g.MaxTokensLimit,
	}
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from the JSON or YAML file at the given path.
// If the file doesn't exist, it creates one with default values. Environment
// overrides are applied after reading and are never written back.
func LoadConfig(path string) (*Config, error) {
	fileConfig, err := loadFileConfig(path)
	if err != nil {
		return nil, err
	}
	return effectiveConfig(fileConfig)
}

// loadFileConfig returns the configuration as stored on disk, with missing
// sections filled in but without environment overrides.
func loadFileConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var data []byte
		data, err = marshalConfig(path, config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The server can still run with defaults.
			fmt.Printf("warning: failed to write default config file: %v\n", err)
		}
	} else if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.fillMissing()
	return config, nil
}

// effectiveConfig applies the environment overrides to a copy of fileConfig
// and validates the result.
func effectiveConfig(fileConfig *Config) (*Config, error) {
	config := fileConfig.clone()
	applyEnvOverrides(&config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// fillMissing replaces sections dropped from the file (or set to null) with defaults.
func (c *Config) fillMissing() {
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
	if c.Generation == nil {
		c.Generation = DefaultGenerationConfig()
	}
	if c.Remote == nil {
		c.Remote = DefaultRemoteConfig()
	}
	if c.Telemetry == nil {
		c.Telemetry = DefaultTelemetryConfig()
	}
}

// envFields maps each environment override to the setting it replaces in c.
func envFields(c *Config) map[string]any {
	return map[string]any{
		"HOST":                 &c.Server.Host,
		"PORT":                 &c.Server.Port,
		"LOG_LEVEL":            &c.Server.LogLevel,
		"QUILL_REMOTE_BACKEND": &c.Remote.Backend,
		"OPENAI_API_KEY":       &c.Remote.OpenAI.APIKey,
		"ANTHROPIC_API_KEY":    &c.Remote.Claude.APIKey,
	}
}

// envOverride returns the value of envKey when it would override a setting.
func envOverride(envKey string, numeric bool) (string, bool) {
	value, ok := os.LookupEnv(envKey)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	if numeric {
		if _, err := strconv.Atoi(value); err != nil {
			return "", false
		}
	}
	return value, true
}

func applyEnvOverrides(cfg *Config) {
	for envKey, target := range envFields(cfg) {
		switch field := target.(type) {
		case *string:
			if value, ok := envOverride(envKey, false); ok {
				*field = value
			}
		case *int:
			if value, ok := envOverride(envKey, true); ok {
				*field, _ = strconv.Atoi(value)
			}
		}
	}
}

// revertEnvOverrides copies into dst the stored value of every setting that is
// currently overridden by the environment.
func revertEnvOverrides(dst, stored *Config) {
	storedFields := envFields(stored)
	for envKey, target := range envFields(dst) {
		switch field := target.(type) {
		case *string:
			if _, ok := envOverride(envKey, false); ok {
				*field = *storedFields[envKey].(*string)
			}
		case *int:
			if _, ok := envOverride(envKey, true); ok {
				*field = *storedFields[envKey].(*int)
			}
		}
	}
}

// Validate reports the first setting that would keep the server from running.
func (c *Config) Validate() error {
	if c.Server == nil || c.Generation == nil || c.Remote == nil || c.Telemetry == nil {
		return errors.New("all configuration sections must be present")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server_config.port must be between 1 and 65535")
	}
	if c.Server.ApiAddr == "" {
		return errors.New("server_config.api_addr must not be empty")
	}
	if c.Server.DatabasePath == "" {
		return errors.New("server_config.database_path must not be empty")
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server_config.log_level %q must be one of debug|info|warn|error", c.Server.LogLevel)
	}
	switch strings.ToLower(c.Remote.Backend) {
	case backendNone, backendOpenAI, backendClaude, "":
	default:
		return fmt.Errorf("remote_config.backend %q must be one of none|openai|claude", c.Remote.Backend)
	}
	if c.Generation.DefaultMaxTokens <= 0 {
		return errors.New("generation_config.default_max_tokens must be positive")
	}
	if c.Generation.DefaultTemperature <= 0 {
		return errors.New("generation_config.default_temperature must be positive")
	}
	if c.Generation.MaxTokensLimit < 0 {
		return errors.New("generation_config.max_tokens_limit must be >= 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("telemetry_config.service_name must not be empty when telemetry is enabled")
	}
	return nil
}

// clone copies every section so the result shares no memory with c.
func (c *Config) clone() Config {
	server := *c.Server
	server.TrustedProxies = slices.Clone(c.Server.TrustedProxies)
	gen := *c.Generation
	remote := *c.Remote
	telemetry := *c.Telemetry
	return Config{Server: &server, Generation: &gen, Remote: &remote, Telemetry: &telemetry}
}

// Redacted returns a copy of the config with credentials masked.
func (c *Config) Redacted() Config {
	out := *c
	remote := *c.Remote
	if remote.OpenAI.APIKey != "" {
		remote.OpenAI.APIKey = redactedSecret
	}
	if remote.Claude.APIKey != "" {
		remote.Claude.APIKey = redactedSecret
	}
	out.Remote = &remote
	return out
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	fileConfig   *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	fileConfig, err := loadFileConfig(path)
	if err != nil {
		return nil, err
	}
	cfg, err := effectiveConfig(fileConfig)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		fileConfig: fileConfig,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.logger = logger.With(slog.String("component", "config"))
}

// Get returns a deep copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.clone()
}

// Update validates newConfig, saves it to disk and refreshes derived state.
// Masked credentials keep their stored values, and settings overridden by the
// environment are saved with their file values.
func (cm *ConfigManager) Update(newConfig Config) error {
	newConfig.fillMissing()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	stored := newConfig.clone()
	if stored.Remote.OpenAI.APIKey == redactedSecret {
		stored.Remote.OpenAI.APIKey = cm.fileConfig.Remote.OpenAI.APIKey
	}
	if stored.Remote.Claude.APIKey == redactedSecret {
		stored.Remote.Claude.APIKey = cm.fileConfig.Remote.Claude.APIKey
	}
	revertEnvOverrides(&stored, cm.fileConfig)

	effective, err := effectiveConfig(&stored)
	if err != nil {
		return err
	}

	data, err := marshalConfig(cm.configPath, &stored)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.fileConfig = &stored
	cm.config = effective
	cm.refreshCache()
	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}
	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else if ip := net.ParseIP(t); ip != nil {
			ips = append(ips, ip)
		} else {
			cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
