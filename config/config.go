// Package config loads meshchat settings from defaults, an optional YAML file
// and MESHCHAT_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/httpapi"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/memory"
	"github.com/hupe1980/meshchat/orchestrator"
	"github.com/hupe1980/meshchat/task"
)

// EnvPrefix prefixes every environment override, e.g. MESHCHAT_SERVER_ADDR.
const EnvPrefix = "MESHCHAT"

// Store and history backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	HistoryRing   = "ring"
	HistoryRedis  = "redis"
	ClassifierKW  = "keyword"
	ClassifierLLM = "model"
)

// Config holds all configuration for meshchat.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Task         TaskConfig         `mapstructure:"task"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	WebSocket       bool          `mapstructure:"websocket"`
}

// LogConfig holds logging settings. Level is hot reloaded.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text or console
}

// TaskConfig holds task builder settings.
type TaskConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	ClassifyTimeout  time.Duration `mapstructure:"classify_timeout"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	Classifier       string        `mapstructure:"classifier"`
	// ClassifierModel is "provider/model" when Classifier is "model".
	ClassifierModel string `mapstructure:"classifier_model"`
}

// OrchestratorConfig holds dispatch settings.
type OrchestratorConfig struct {
	MaxAgents          int           `mapstructure:"max_agents"`
	Deadline           time.Duration `mapstructure:"deadline"`
	HighConfidence     float64       `mapstructure:"high_confidence"`
	MaxRetries         int           `mapstructure:"max_retries"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	FallbackText       string        `mapstructure:"fallback_text"`
}

// MemoryConfig holds conversational memory settings.
type MemoryConfig struct {
	Store            string          `mapstructure:"store"`
	SQLitePath       string          `mapstructure:"sqlite_path"`
	History          string          `mapstructure:"history"`
	RingCapacity     int             `mapstructure:"ring_capacity"`
	MaxConversations int             `mapstructure:"max_conversations"`
	PersistTimeout   time.Duration   `mapstructure:"persist_timeout"`
	Redis            RedisConfig     `mapstructure:"redis"`
	Retention        RetentionConfig `mapstructure:"retention"`
}

// RedisConfig holds the recent-history cache connection.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// RetentionConfig holds the idle-session archiver schedule.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Period   time.Duration `mapstructure:"period"`
}

// AgentsConfig points at the agent catalog.
type AgentsConfig struct {
	Catalog string `mapstructure:"catalog"`
	// Mock replaces every catalog model with an offline mock.
	Mock bool `mapstructure:"mock"`
}

// MetricsConfig toggles GET /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	// Exporter is none or stdout.
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    httpapi.DefaultMaxBodyBytes,
			WebSocket:       true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Task: TaskConfig{
			MaxMessageLength: task.DefaultMaxMessageLength,
			ClassifyTimeout:  task.DefaultClassifyTimeout,
			HistoryLimit:     task.DefaultHistoryLimit,
			Classifier:       ClassifierKW,
		},
		Orchestrator: OrchestratorConfig{
			MaxAgents:      orchestrator.DefaultMaxAgents,
			Deadline:       orchestrator.DefaultDeadline,
			HighConfidence: orchestrator.DefaultHighConfidence,
			MaxRetries:     orchestrator.DefaultMaxRetries,
			FallbackText:   orchestrator.DefaultFallbackText,
		},
		Memory: MemoryConfig{
			Store:            StoreMemory,
			SQLitePath:       "data/meshchat.db",
			History:          HistoryRing,
			RingCapacity:     memory.DefaultRingCapacity,
			MaxConversations: memory.DefaultMaxConversations,
			PersistTimeout:   chat.DefaultPersistTimeout,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "meshchat:recent:",
				TTL:       7 * 24 * time.Hour,
			},
			Retention: RetentionConfig{
				Enabled:  true,
				Schedule: memory.DefaultRetentionSchedule,
				Period:   memory.DefaultRetentionPeriod,
			},
		},
		Agents: AgentsConfig{
			Catalog: "agents.yaml",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
		},
	}
}

// Loader reads configuration and optionally watches the file for changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader. An empty path searches ./meshchat.yaml and
// $HOME/.config/meshchat/meshchat.yaml; a missing file is not an error.
func NewLoader(path string) *Loader {
	v := viper.New()

	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/meshchat")
	}

	return &Loader{v: v}
}

// Load reads the file (if any), applies environment overrides and validates.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Load is a shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}

	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("invalid log.level: %s", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("invalid log.format: %s (must be json, text or console)", c.Log.Format))
	}

	if c.Task.ClassifyTimeout <= 0 || c.Task.ClassifyTimeout >= c.Orchestrator.Deadline {
		errs = append(errs, fmt.Errorf("task.classify_timeout (%s) must be positive and shorter than orchestrator.deadline (%s)",
			c.Task.ClassifyTimeout, c.Orchestrator.Deadline))
	}
	if c.Task.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("task.max_message_length must be positive"))
	}
	switch c.Task.Classifier {
	case ClassifierKW:
	case ClassifierLLM:
		if !strings.Contains(c.Task.ClassifierModel, "/") {
			errs = append(errs, errors.New("task.classifier_model must be provider/model"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid task.classifier: %s (must be keyword or model)", c.Task.Classifier))
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("invalid tracing.exporter: %s (must be none or stdout)", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0,1]"))
	}

	if c.Orchestrator.MaxAgents <= 0 {
		errs = append(errs, errors.New("orchestrator.max_agents must be positive"))
	}
	if c.Orchestrator.MaxRetries < 0 {
		errs = append(errs, errors.New("orchestrator.max_retries must not be negative"))
	}

	switch c.Memory.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Memory.SQLitePath == "" {
			errs = append(errs, errors.New("memory.sqlite_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid memory.store: %s (must be memory or sqlite)", c.Memory.Store))
	}

	switch c.Memory.History {
	case HistoryRing:
	case HistoryRedis:
		if c.Memory.Redis.Addr == "" {
			errs = append(errs, errors.New("memory.redis.addr is required for the redis history"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid memory.history: %s (must be ring or redis)", c.Memory.History))
	}

	if c.Memory.RingCapacity <= 0 {
		errs = append(errs, errors.New("memory.ring_capacity must be positive"))
	}
	if c.Memory.Retention.Enabled && c.Memory.Retention.Period <= 0 {
		errs = append(errs, errors.New("memory.retention.period must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.websocket", d.Server.WebSocket)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("task.max_message_length", d.Task.MaxMessageLength)
	v.SetDefault("task.classify_timeout", d.Task.ClassifyTimeout)
	v.SetDefault("task.history_limit", d.Task.HistoryLimit)
	v.SetDefault("task.classifier", d.Task.Classifier)
	v.SetDefault("task.classifier_model", d.Task.ClassifierModel)

	v.SetDefault("orchestrator.max_agents", d.Orchestrator.MaxAgents)
	v.SetDefault("orchestrator.deadline", d.Orchestrator.Deadline)
	v.SetDefault("orchestrator.high_confidence", d.Orchestrator.HighConfidence)
	v.SetDefault("orchestrator.max_retries", d.Orchestrator.MaxRetries)
	v.SetDefault("orchestrator.max_concurrent_tasks", d.Orchestrator.MaxConcurrentTasks)
	v.SetDefault("orchestrator.fallback_text", d.Orchestrator.FallbackText)

	v.SetDefault("memory.store", d.Memory.Store)
	v.SetDefault("memory.sqlite_path", d.Memory.SQLitePath)
	v.SetDefault("memory.history", d.Memory.History)
	v.SetDefault("memory.ring_capacity", d.Memory.RingCapacity)
	v.SetDefault("memory.max_conversations", d.Memory.MaxConversations)
	v.SetDefault("memory.persist_timeout", d.Memory.PersistTimeout)
	v.SetDefault("memory.redis.addr", d.Memory.Redis.Addr)
	v.SetDefault("memory.redis.password", d.Memory.Redis.Password)
	v.SetDefault("memory.redis.db", d.Memory.Redis.DB)
	v.SetDefault("memory.redis.key_prefix", d.Memory.Redis.KeyPrefix)
	v.SetDefault("memory.redis.ttl", d.Memory.Redis.TTL)
	v.SetDefault("memory.retention.enabled", d.Memory.Retention.Enabled)
	v.SetDefault("memory.retention.schedule", d.Memory.Retention.Schedule)
	v.SetDefault("memory.retention.period", d.Memory.Retention.Period)

	v.SetDefault("agents.catalog", d.Agents.Catalog)
	v.SetDefault("agents.mock", d.Agents.Mock)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}
