// Package config loads the oneagent service configuration from a TOML or
// YAML file. ${VAR} references are expanded from the environment before
// parsing, and durations are written as strings ("30s", "5m").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ArnBdev/OneAgent-sub002/bus"
	"github.com/ArnBdev/OneAgent-sub002/llm"
	"github.com/ArnBdev/OneAgent-sub002/registry"
	"github.com/ArnBdev/OneAgent-sub002/telemetry"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
	BackendRPC    = "rpc"
)

// Matchers.
const (
	MatcherKeyword = "keyword"
	MatcherBleve   = "bleve"
)

// Config is the complete service configuration.
type Config struct {
	Protocol   ProtocolConfig   `toml:"protocol" yaml:"protocol"`
	Membership MembershipConfig `toml:"membership" yaml:"membership"`
	Bus        BusConfig        `toml:"bus" yaml:"bus"`
	Registry   RegistryConfig   `toml:"registry" yaml:"registry"`
	Memory     MemoryConfig     `toml:"memory" yaml:"memory"`
	LLM        LLMConfig        `toml:"llm" yaml:"llm"`
	Policy     PolicyConfig     `toml:"policy" yaml:"policy"`
	Telemetry  TelemetryConfig  `toml:"telemetry" yaml:"telemetry"`
	Log        LogConfig        `toml:"log" yaml:"log"`
}

// ProtocolConfig configures the coordination service and its HTTP surface.
type ProtocolConfig struct {
	// AgentID is the identity the service announces on the membership bus.
	AgentID string `toml:"agent_id" yaml:"agent_id"`

	// Listen is the HTTP address serving /rpc, /events and /metrics.
	Listen string `toml:"listen" yaml:"listen"`

	QualityThreshold float64 `toml:"quality_threshold" yaml:"quality_threshold"`
	NarrateAnalysis  bool    `toml:"narrate_analysis" yaml:"narrate_analysis"`

	// Matcher scores capability queries: keyword or bleve.
	Matcher string `toml:"matcher" yaml:"matcher"`

	// Events enables the server-sent event stream of delivered messages.
	Events bool `toml:"events" yaml:"events"`
}

// MembershipConfig configures heartbeats and discovery.
type MembershipConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	DeadMultiplier    int      `toml:"dead_multiplier" yaml:"dead_multiplier"`
	DiscoveryTimeout  Duration `toml:"discovery_timeout" yaml:"discovery_timeout"`
}

// BusConfig selects the membership bus.
type BusConfig struct {
	Backend        string   `toml:"backend" yaml:"backend"`
	URL            string   `toml:"url" yaml:"url"`
	Name           string   `toml:"name" yaml:"name"`
	Token          string   `toml:"token" yaml:"token"`
	User           string   `toml:"user" yaml:"user"`
	Password       string   `toml:"password" yaml:"password"`
	BufferSize     int      `toml:"buffer_size" yaml:"buffer_size"`
	ReconnectWait  Duration `toml:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects  int      `toml:"max_reconnects" yaml:"max_reconnects"`
	ConnectTimeout Duration `toml:"connect_timeout" yaml:"connect_timeout"`
}

// RegistryConfig selects the registration store. The nats backend shares
// the bus connection.
type RegistryConfig struct {
	Backend   string   `toml:"backend" yaml:"backend"`
	Bucket    string   `toml:"bucket" yaml:"bucket"`
	Replicas  int      `toml:"replicas" yaml:"replicas"`
	OpTimeout Duration `toml:"op_timeout" yaml:"op_timeout"`
}

// MemoryConfig selects where ended conversations are archived.
type MemoryConfig struct {
	// Backend is none, memory, sqlite, bleve or rpc.
	Backend string `toml:"backend" yaml:"backend"`

	// Path is the sqlite database file or the bleve index directory.
	Path string `toml:"path" yaml:"path"`

	// URL and Token address the remote memory server (rpc backend).
	URL     string   `toml:"url" yaml:"url"`
	Token   string   `toml:"token" yaml:"token"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`

	UserID string `toml:"user_id" yaml:"user_id"`
}

// LLMConfig selects the text generator.
type LLMConfig struct {
	Provider   string   `toml:"provider" yaml:"provider"`
	Model      string   `toml:"model" yaml:"model"`
	APIKey     string   `toml:"api_key" yaml:"api_key"`
	BaseURL    string   `toml:"base_url" yaml:"base_url"`
	MaxTokens  int      `toml:"max_tokens" yaml:"max_tokens"`
	Timeout    Duration `toml:"timeout" yaml:"timeout"`
	MaxRetries int      `toml:"max_retries" yaml:"max_retries"`

	// RequestsPerMinute throttles generation calls. Zero means unlimited.
	RequestsPerMinute int `toml:"requests_per_minute" yaml:"requests_per_minute"`
}

// PolicyConfig points at an optional TOML policy file.
type PolicyConfig struct {
	File string `toml:"file" yaml:"file"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	Metrics     bool   `toml:"metrics" yaml:"metrics"`
	MetricsPath string `toml:"metrics_path" yaml:"metrics_path"`

	Tracing     bool              `toml:"tracing" yaml:"tracing"`
	Endpoint    string            `toml:"endpoint" yaml:"endpoint"`
	Protocol    string            `toml:"protocol" yaml:"protocol"`
	Insecure    bool              `toml:"insecure" yaml:"insecure"`
	ServiceName string            `toml:"service_name" yaml:"service_name"`
	Headers     map[string]string `toml:"headers" yaml:"headers"`
	Debug       bool              `toml:"debug" yaml:"debug"`
}

// LogConfig configures the console logger.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns the configuration used when no file is given: a single
// process with in-memory bus and registry.
func Default() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			AgentID:          "oneagent-core",
			Listen:           ":8083",
			QualityThreshold: 85,
			Matcher:          MatcherKeyword,
			Events:           true,
		},
		Membership: MembershipConfig{
			HeartbeatInterval: Duration(30 * time.Second),
			DeadMultiplier:    3,
			DiscoveryTimeout:  Duration(5 * time.Second),
		},
		Bus: BusConfig{
			Backend:        BackendMemory,
			URL:            "nats://127.0.0.1:4222",
			Name:           "oneagent",
			BufferSize:     256,
			ReconnectWait:  Duration(2 * time.Second),
			MaxReconnects:  -1,
			ConnectTimeout: Duration(5 * time.Second),
		},
		Registry: RegistryConfig{
			Backend:   BackendMemory,
			Bucket:    "oneagent-registry",
			Replicas:  1,
			OpTimeout: Duration(5 * time.Second),
		},
		Memory: MemoryConfig{
			Backend: BackendNone,
			Timeout: Duration(30 * time.Second),
		},
		LLM: LLMConfig{
			Provider: "stub",
			Timeout:  Duration(60 * time.Second),
		},
		Telemetry: TelemetryConfig{
			Metrics:     true,
			MetricsPath: "/metrics",
			Protocol:    "grpc",
			ServiceName: "oneagent",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the file at path on top of Default. The format follows the
// extension: .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = "toml"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", filepath.Ext(path))
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.File != "" && !filepath.IsAbs(cfg.Policy.File) {
		cfg.Policy.File = filepath.Join(filepath.Dir(path), cfg.Policy.File)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("toml" or "yaml") on top of
// Default and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or the empty
// string when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate returns the first invalid setting it finds.
func (c *Config) Validate() error {
	if c.Protocol.AgentID == "" {
		return fmt.Errorf("protocol.agent_id is required")
	}
	if c.Protocol.Listen == "" {
		return fmt.Errorf("protocol.listen is required")
	}
	if c.Protocol.QualityThreshold < 0 || c.Protocol.QualityThreshold > 100 {
		return fmt.Errorf("protocol.quality_threshold must be between 0 and 100")
	}
	switch c.Protocol.Matcher {
	case "", MatcherKeyword, MatcherBleve:
	default:
		return fmt.Errorf("protocol.matcher must be keyword or bleve, got %q", c.Protocol.Matcher)
	}

	if c.Membership.HeartbeatInterval <= 0 {
		return fmt.Errorf("membership.heartbeat_interval must be positive")
	}
	if c.Membership.DeadMultiplier < 1 {
		return fmt.Errorf("membership.dead_multiplier must be at least 1")
	}
	if c.Membership.DiscoveryTimeout <= 0 {
		return fmt.Errorf("membership.discovery_timeout must be positive")
	}

	switch c.Bus.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("bus.backend must be memory or nats, got %q", c.Bus.Backend)
	}

	switch c.Registry.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Bus.Backend != BackendNATS {
			return fmt.Errorf("registry.backend nats requires bus.backend nats")
		}
		if c.Registry.Replicas < 1 || c.Registry.Replicas > 5 {
			return fmt.Errorf("registry.replicas must be between 1 and 5")
		}
	default:
		return fmt.Errorf("registry.backend must be memory or nats, got %q", c.Registry.Backend)
	}

	switch c.Memory.Backend {
	case BackendNone, BackendMemory:
	case BackendSQLite, BackendBleve:
		if c.Memory.Path == "" {
			return fmt.Errorf("memory.path is required for the %s backend", c.Memory.Backend)
		}
	case BackendRPC:
		if c.Memory.URL == "" {
			return fmt.Errorf("memory.url is required for the rpc backend")
		}
	default:
		return fmt.Errorf("memory.backend must be one of none, memory, sqlite, bleve, rpc; got %q", c.Memory.Backend)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "", "stub", "anthropic", "openai", "google", "gemini":
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}

	if c.Telemetry.Tracing {
		switch c.Telemetry.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not a level", c.Log.Level)
	}
	return nil
}

// NATS returns the bus connection settings.
func (c *Config) NATS() bus.NATSConfig {
	cfg := bus.DefaultNATSConfig()
	cfg.URL = c.Bus.URL
	if c.Bus.Name != "" {
		cfg.Name = c.Bus.Name
	}
	cfg.Token = c.Bus.Token
	cfg.User = c.Bus.User
	cfg.Password = c.Bus.Password
	if c.Bus.BufferSize > 0 {
		cfg.BufferSize = c.Bus.BufferSize
	}
	if c.Bus.ReconnectWait > 0 {
		cfg.ReconnectWait = c.Bus.ReconnectWait.Std()
	}
	cfg.MaxReconnects = c.Bus.MaxReconnects
	if c.Bus.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.Bus.ConnectTimeout.Std()
	}
	return cfg
}

// NATSStore returns the JetStream registry settings.
func (c *Config) NATSStore() registry.NATSStoreConfig {
	cfg := registry.DefaultNATSStoreConfig()
	if c.Registry.Bucket != "" {
		cfg.BucketName = c.Registry.Bucket
	}
	if c.Registry.Replicas > 0 {
		cfg.Replicas = c.Registry.Replicas
	}
	if c.Registry.OpTimeout > 0 {
		cfg.OpTimeout = c.Registry.OpTimeout.Std()
	}
	return cfg
}

// Generator returns the generator settings.
func (c *Config) Generator() llm.Config {
	return llm.Config{
		Provider:  c.LLM.Provider,
		Model:     c.LLM.Model,
		APIKey:    c.LLM.APIKey,
		BaseURL:   c.LLM.BaseURL,
		MaxTokens: c.LLM.MaxTokens,
		Timeout:   c.LLM.Timeout.Std(),
		Retry:     llm.RetryConfig{MaxRetries: c.LLM.MaxRetries},
	}
}

// Tracing returns the OTLP exporter settings.
func (c *Config) Tracing(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
		Debug:          c.Telemetry.Debug,
		Headers:        c.Telemetry.Headers,
	}
}
