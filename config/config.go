package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Checkpoint backends understood by Load.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DefaultGraphName is the graph served when a request names none.
const DefaultGraphName = "default"

// Config stores all configuration of the service.
// The values are read by viper from an optional YAML file and environment variables.
type Config struct {
	Graph      GraphConfig            `mapstructure:"graph"`
	Graphs     map[string]GraphConfig `mapstructure:"graphs"`
	Server     ServerConfig           `mapstructure:"server"`
	Checkpoint CheckpointConfig       `mapstructure:"checkpoint"`
	OpenAI     OpenAIConfig           `mapstructure:"openai"`
	Grafana    GrafanaConfig          `mapstructure:"grafana"`

	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment"`
}

// GraphConfig parameterizes the planner, tool and respond nodes.
type GraphConfig struct {
	ToolPrefix          string        `mapstructure:"tool_prefix"`
	ToolProcessingDelay time.Duration `mapstructure:"tool_processing_delay"`
	ResponseDelay       time.Duration `mapstructure:"response_delay"`
	FakeToolName        string        `mapstructure:"fake_tool_name"`
	MaxSteps            int           `mapstructure:"max_steps"`
}

// ServerConfig stores HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	DefaultGraph    string        `mapstructure:"default_graph"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend       string        `mapstructure:"backend"`
	Table         string        `mapstructure:"table"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
}

// OpenAIConfig holds provider credentials. No graph node calls a model.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// GrafanaConfig holds dashboard credentials. Nothing reads them yet.
type GrafanaConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// graphKeys lists the per-graph keys; named graphs inherit each from graph.*.
var graphKeys = []string{"tool_prefix", "tool_processing_delay", "response_delay", "fake_tool_name", "max_steps"}

// envBindings keeps the flat environment names the service has always used.
var envBindings = map[string]string{
	"graph.tool_prefix":           "TOOL_PREFIX",
	"graph.tool_processing_delay": "TOOL_PROCESSING_DELAY",
	"graph.response_delay":        "RESPONSE_DELAY",
	"graph.fake_tool_name":        "FAKE_TOOL_NAME",
	"graph.max_steps":             "MAX_STEPS",
	"openai.api_key":              "OPENAI_API_KEY",
	"openai.model":                "OPENAI_MODEL",
	"grafana.url":                 "GRAFANA_URL",
	"grafana.api_key":             "GRAFANA_API_KEY",
	"debug":                       "DEBUG",
	"log_level":                   "LOG_LEVEL",
	"environment":                 "ENVIRONMENT",
	"server.default_graph":        "DEFAULT_GRAPH",
	"server.shutdown_timeout":     "SHUTDOWN_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("graph.tool_prefix", "tool:")
	v.SetDefault("graph.tool_processing_delay", "300ms")
	v.SetDefault("graph.response_delay", "200ms")
	v.SetDefault("graph.fake_tool_name", "fake_search")
	v.SetDefault("graph.max_steps", 25)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.default_graph", DefaultGraphName)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("checkpoint.backend", BackendMemory)
	v.SetDefault("checkpoint.table", "checkpoints")
	v.SetDefault("checkpoint.sqlite_path", "graphlocal.db")
	v.SetDefault("checkpoint.redis_addr", "localhost:6379")
	v.SetDefault("checkpoint.redis_password", "")
	v.SetDefault("checkpoint.redis_db", 0)
	v.SetDefault("checkpoint.redis_prefix", "graphlocal:")
	v.SetDefault("checkpoint.redis_ttl", "0s")
	v.SetDefault("checkpoint.postgres_dsn", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("grafana.url", "")
	v.SetDefault("grafana.api_key", "")

	v.SetDefault("debug", false)
	v.SetDefault("log_level", "")
	v.SetDefault("environment", "development")
}

// Load reads configuration from configPath (optional) and the environment.
// Without a path, graphlocal.yaml is looked up in the working directory and
// its absence is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("graphlocal")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// Nested keys map to env names with dots replaced, e.g. server.addr -> SERVER_ADDR.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for name := range v.GetStringMap("graphs") {
		for _, key := range graphKeys {
			v.SetDefault("graphs."+name+"."+key, v.Get("graph."+key))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Graph.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	for name, g := range c.Graphs {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("graphs.%s: %w", name, err)
		}
	}

	switch c.Checkpoint.Backend {
	case BackendNone, BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.Checkpoint.PostgresDSN == "" {
			return errors.New("checkpoint: postgres backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("checkpoint: unknown backend %q", c.Checkpoint.Backend)
	}

	if c.Server.DefaultGraph == "" {
		return errors.New("server: default_graph must not be empty")
	}
	return nil
}

// Validate checks the node parameters.
func (g GraphConfig) Validate() error {
	if strings.TrimSpace(g.ToolPrefix) == "" {
		return errors.New("tool_prefix must not be empty")
	}
	if g.ToolProcessingDelay < 0 || g.ResponseDelay < 0 {
		return errors.New("delays must not be negative")
	}
	if g.FakeToolName == "" {
		return errors.New("fake_tool_name must not be empty")
	}
	if g.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", g.MaxSteps)
	}
	return nil
}

// Level returns the configured log level name; debug mode implies DEBUG
// unless a level was set explicitly.
func (c *Config) Level() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	if c.Debug {
		return "DEBUG"
	}
	return "INFO"
}

// NamedGraphs returns every graph to register: the default one built from
// graph.* plus the entries under graphs.*.
func (c *Config) NamedGraphs() map[string]GraphConfig {
	out := make(map[string]GraphConfig, len(c.Graphs)+1)
	for name, g := range c.Graphs {
		out[name] = g
	}
	if _, ok := out[c.Server.DefaultGraph]; !ok {
		out[c.Server.DefaultGraph] = c.Graph
	}
	return out
}
