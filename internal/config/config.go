// Package config handles Grantdesk configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/grantdesk/internal/router"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/grantdesk/config.yaml, /etc/grantdesk/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "grantdesk", "config.yaml"))
	}

	paths = append(paths, "/etc/grantdesk/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Grantdesk configuration.
type Config struct {
	Listen    ListenConfig            `yaml:"listen"`
	Anthropic AnthropicConfig         `yaml:"anthropic"`
	Models    ModelsConfig            `yaml:"models"`
	Router    RouterConfig            `yaml:"router"`
	Cache     CacheConfig             `yaml:"cache"`
	CRM       CRMConfig               `yaml:"crm"`
	DocStore  DocStoreConfig          `yaml:"docstore"`
	Tools     ToolsConfig             `yaml:"tools"`
	MQTT      MQTTConfig              `yaml:"mqtt"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
	LogFormat string                  `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
	// ForwardReasoning streams the model's reasoning to clients as
	// reasoning_delta events. It is never persisted either way.
	ForwardReasoning bool `yaml:"forward_reasoning"`
}

// ModelsConfig maps model tiers to concrete model names.
type ModelsConfig struct {
	Fast    string `yaml:"fast"`
	Quality string `yaml:"quality"`
	Title   string `yaml:"title"` // Model used for conversation titles
}

// RouterConfig tunes query classification outcomes.
type RouterConfig struct {
	ReasoningBudget      int `yaml:"reasoning_budget"`
	SimpleMaxIterations  int `yaml:"simple_max_iterations"`
	ComplexMaxIterations int `yaml:"complex_max_iterations"`
	MaxAuditLog          int `yaml:"max_audit_log"`
}

// CacheConfig selects the fast-tier conversation cache.
type CacheConfig struct {
	// Backend is "redis" or "memory". The in-process backend loses
	// state on restart and is intended for single-node development.
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// TTL returns the cache expiry as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// CRMConfig defines the business-data API connection.
type CRMConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Configured reports whether the CRM integration has enough settings
// to be used.
func (c CRMConfig) Configured() bool {
	return c.BaseURL != ""
}

// DocStoreConfig defines the WebDAV document store connection.
type DocStoreConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// OutputDir is the folder created documents are written into.
	OutputDir string `yaml:"output_dir"`
}

// Configured reports whether the document store is enabled.
func (c DocStoreConfig) Configured() bool {
	return c.URL != ""
}

// ToolsConfig holds tool execution limits.
type ToolsConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the per-invocation tool timeout.
func (c ToolsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MQTTConfig defines the optional operational event forwarder.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://broker:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// PricingEntry is the per-million-token cost of a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = 16000
	}
	if c.Models.Fast == "" {
		c.Models.Fast = "claude-haiku-4-5"
	}
	if c.Models.Quality == "" {
		c.Models.Quality = "claude-sonnet-4-5"
	}
	if c.Models.Title == "" {
		c.Models.Title = c.Models.Fast
	}
	if c.Router.ReasoningBudget == 0 {
		c.Router.ReasoningBudget = router.DefaultReasoningBudget
	}
	if c.Router.SimpleMaxIterations == 0 {
		c.Router.SimpleMaxIterations = 8
	}
	if c.Router.ComplexMaxIterations == 0 {
		c.Router.ComplexMaxIterations = 20
	}
	if c.Router.MaxAuditLog == 0 {
		c.Router.MaxAuditLog = 1000
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLHours == 0 {
		c.Cache.TTLHours = 24
	}
	if c.Tools.TimeoutSec == 0 {
		c.Tools.TimeoutSec = 30
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "grantdesk"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "grantdesk"
	}
	if c.DocStore.OutputDir == "" {
		c.DocStore.OutputDir = "/Generated"
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
}

// Validate checks the configuration for values that would fail at
// runtime.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q invalid (valid: redis, memory)", c.Cache.Backend)
	}
	if c.Router.SimpleMaxIterations < 1 || c.Router.ComplexMaxIterations < 1 {
		return fmt.Errorf("router iteration caps must be positive")
	}
	if c.Router.ReasoningBudget < 1024 {
		return fmt.Errorf("router.reasoning_budget %d below provider minimum 1024", c.Router.ReasoningBudget)
	}
	if c.Router.ReasoningBudget >= c.Anthropic.MaxTokens {
		return fmt.Errorf("router.reasoning_budget must be less than anthropic.max_tokens")
	}
	return nil
}
