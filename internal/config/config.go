package config

import (
	"fmt"
	"time"
)

// Config is the orchestrator configuration tree, loaded from YAML with
// environment overrides.
type Config struct {
	Service      ServiceConfig      `json:"service" yaml:"service" mapstructure:"service"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging" mapstructure:"logging"`
	Temporal     TemporalConfig     `json:"temporal" yaml:"temporal" mapstructure:"temporal"`
	Redis        RedisConfig        `json:"redis" yaml:"redis" mapstructure:"redis"`
	Database     DatabaseConfig     `json:"database" yaml:"database" mapstructure:"database"`
	Capabilities CapabilitiesConfig `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
	Research     ResearchConfig     `json:"research" yaml:"research" mapstructure:"research"`
	Pipeline     PipelineConfig     `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Memory       MemoryConfig       `json:"memory" yaml:"memory" mapstructure:"memory"`
	Session      SessionConfig      `json:"session" yaml:"session" mapstructure:"session"`
	Tracing      TracingConfig      `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
	Breaker      BreakerConfig      `json:"circuit_breaker" yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ServiceConfig contains the HTTP surface settings.
type ServiceConfig struct {
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	MetricsPort     int           `json:"metrics_port" yaml:"metrics_port" mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `json:"graceful_timeout" yaml:"graceful_timeout" mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LoggingConfig contains zap settings.
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
	Encoding    string `json:"encoding" yaml:"encoding" mapstructure:"encoding"` // "json" or "console"
}

// TemporalConfig contains Temporal client and worker settings.
type TemporalConfig struct {
	HostPort  string `json:"host_port" yaml:"host_port" mapstructure:"host_port"`
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `json:"task_queue" yaml:"task_queue" mapstructure:"task_queue"`
}

// RedisConfig contains the memory-store backend settings.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
}

// DatabaseConfig contains Postgres settings for opt-in persistence.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	User     string `json:"user" yaml:"user" mapstructure:"user"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	Name     string `json:"name" yaml:"name" mapstructure:"name"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// CapabilityConfig describes one outbound capability adapter.
type CapabilityConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	QPS     float64       `json:"qps" yaml:"qps" mapstructure:"qps"`
	Burst   int           `json:"burst" yaml:"burst" mapstructure:"burst"`
}

// CapabilitiesConfig groups the capability adapters.
type CapabilitiesConfig struct {
	TextGeneration CapabilityConfig `json:"text_generation" yaml:"text_generation" mapstructure:"text_generation"`
	DocumentSearch CapabilityConfig `json:"document_search" yaml:"document_search" mapstructure:"document_search"`
}

// ResearchConfig tunes the coordinator fan-out phase.
type ResearchConfig struct {
	DefaultFanout          int           `json:"default_fanout" yaml:"default_fanout" mapstructure:"default_fanout"`
	MaxFanout              int           `json:"max_fanout" yaml:"max_fanout" mapstructure:"max_fanout"`
	WorkerTimeout          time.Duration `json:"worker_timeout" yaml:"worker_timeout" mapstructure:"worker_timeout"`
	CoordinatorDeadline    time.Duration `json:"coordinator_deadline" yaml:"coordinator_deadline" mapstructure:"coordinator_deadline"`
	LowConfidenceThreshold float64       `json:"low_confidence_threshold" yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
	Decomposer             string        `json:"decomposer" yaml:"decomposer" mapstructure:"decomposer"` // "profile" or "llm"
}

// PipelineConfig tunes the quality pipeline.
type PipelineConfig struct {
	StageTimeout        time.Duration `json:"stage_timeout" yaml:"stage_timeout" mapstructure:"stage_timeout"`
	MaxReflectionRedos  int           `json:"max_reflection_redos" yaml:"max_reflection_redos" mapstructure:"max_reflection_redos"`
	ReflectionThreshold float64       `json:"reflection_threshold" yaml:"reflection_threshold" mapstructure:"reflection_threshold"`
	CredibilityRules    string        `json:"credibility_rules" yaml:"credibility_rules" mapstructure:"credibility_rules"`
}

// MemoryConfig tunes the namespaced memory store.
type MemoryConfig struct {
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`
}

// SessionConfig tunes the session status manager.
type SessionConfig struct {
	TTL       time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
	CacheSize int           `json:"cache_size" yaml:"cache_size" mapstructure:"cache_size"`
}

// TracingConfig contains OTLP exporter settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// BreakerConfig contains circuit breaker settings for the Redis path.
type BreakerConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxFailures uint32        `json:"max_failures" yaml:"max_failures" mapstructure:"max_failures"`
	Cooldown    time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
}

// Default returns the configuration used when no file or override supplies
// a value.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8081,
			MetricsPort:     2112,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "deep-research",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "research",
			Name:    "research",
			SSLMode: "disable",
		},
		Capabilities: CapabilitiesConfig{
			TextGeneration: CapabilityConfig{
				BaseURL: "http://localhost:8000",
				Timeout: 60 * time.Second,
				QPS:     5,
				Burst:   10,
			},
			DocumentSearch: CapabilityConfig{
				BaseURL: "http://localhost:8090",
				Timeout: 30 * time.Second,
				QPS:     10,
				Burst:   20,
			},
		},
		Research: ResearchConfig{
			DefaultFanout:          3,
			MaxFanout:              8,
			WorkerTimeout:          120 * time.Second,
			CoordinatorDeadline:    10 * time.Minute,
			LowConfidenceThreshold: 0.4,
			Decomposer:             "profile",
		},
		Pipeline: PipelineConfig{
			StageTimeout:        120 * time.Second,
			MaxReflectionRedos:  1,
			ReflectionThreshold: 0.7,
			CredibilityRules:    "config/credibility.yaml",
		},
		Memory: MemoryConfig{
			KeyPrefix:  "research",
			DefaultTTL: 24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:       30 * 24 * time.Hour,
			CacheSize: 1000,
		},
		Tracing: TracingConfig{
			ServiceName:  "deep-research-orchestrator",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Research.DefaultFanout < 1 {
		return fmt.Errorf("research.default_fanout must be >= 1, got %d", c.Research.DefaultFanout)
	}
	if c.Research.MaxFanout < c.Research.DefaultFanout {
		return fmt.Errorf("research.max_fanout (%d) must be >= research.default_fanout (%d)",
			c.Research.MaxFanout, c.Research.DefaultFanout)
	}
	if c.Research.WorkerTimeout <= 0 {
		return fmt.Errorf("research.worker_timeout must be positive")
	}
	if c.Research.CoordinatorDeadline < c.Research.WorkerTimeout {
		return fmt.Errorf("research.coordinator_deadline (%s) must be >= research.worker_timeout (%s)",
			c.Research.CoordinatorDeadline, c.Research.WorkerTimeout)
	}
	if t := c.Research.LowConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("research.low_confidence_threshold must be in [0,1], got %f", t)
	}
	if c.Pipeline.MaxReflectionRedos < 0 {
		return fmt.Errorf("pipeline.max_reflection_redos must be >= 0")
	}
	switch c.Research.Decomposer {
	case "profile", "llm":
	default:
		return fmt.Errorf("research.decomposer must be \"profile\" or \"llm\", got %q", c.Research.Decomposer)
	}
	return nil
}
