// Package config loads the controlplaned binary's configuration from a YAML
// file, environment variable overrides, and cobra persistent flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/tracing"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the controlplaned process.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Registry RegistryConfig `yaml:"registry"`
	Balancer BalancerConfig `yaml:"balancer"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Stream   StreamConfig   `yaml:"stream"`
	Slo      SloConfig      `yaml:"slo"`
	Tracing  TracingConfig  `yaml:"tracing"`
	DataDir  string         `yaml:"data_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
}

type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type RegistryConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

type BalancerConfig struct {
	Strategy string `yaml:"strategy"`
}

type OrchestratorConfig struct {
	StoreOpTimeout  time.Duration `yaml:"store_op_timeout"`
	LeaseTTL        time.Duration `yaml:"lease_ttl"`
	WorkerThreads   int           `yaml:"worker_threads"`
}

type StreamConfig struct {
	Topics             []string      `yaml:"topics"`
	ConsumerGroup      string        `yaml:"consumer_group"`
	Workers            int           `yaml:"workers"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	SourcePollTimeout  time.Duration `yaml:"source_poll_timeout"`
	// RedisAddr selects the Redis Streams-backed EventBus when set (empty
	// uses the in-memory bus, suitable for single-process/dev use only).
	RedisAddr string `yaml:"redis_addr"`
}

type SloConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	RetentionDays   int           `yaml:"retention_days"`
	PrometheusURL   string        `yaml:"prometheus_url"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // otlp, stdout, none
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Default returns the zero-config defaults, matching spec-stated timeouts
// (Health 5s, Orchestrator store-op 10s, Stream source-poll 5s).
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", JSON: false},
		Admin: AdminConfig{ListenAddr: "127.0.0.1:9091"},
		Registry: RegistryConfig{
			TTL:           30 * time.Second,
			SweepInterval: 5 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Balancer: BalancerConfig{Strategy: "round_robin"},
		Orchestrator: OrchestratorConfig{
			StoreOpTimeout: 10 * time.Second,
			LeaseTTL:       30 * time.Second,
			WorkerThreads:  4,
		},
		Stream: StreamConfig{
			ConsumerGroup:      "controlplane",
			Workers:            4,
			CheckpointInterval: 10 * time.Second,
			SourcePollTimeout:  5 * time.Second,
		},
		Slo: SloConfig{
			TickInterval:  time.Minute,
			RetentionDays: 30,
		},
		Tracing: TracingConfig{Enabled: false, Exporter: "none", SampleRatio: 1.0},
		DataDir: "./data",
	}
}

// Load reads path (if non-empty and present) onto the defaults, then applies
// CONTROLPLANE_-prefixed environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CONTROLPLANE_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("CONTROLPLANE_LOG_JSON"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.JSON = b
		}
	}
	if v, ok := os.LookupEnv("CONTROLPLANE_ADMIN_LISTEN_ADDR"); ok {
		cfg.Admin.ListenAddr = v
	}
	if v, ok := os.LookupEnv("CONTROLPLANE_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("CONTROLPLANE_TRACING_EXPORTER"); ok {
		cfg.Tracing.Exporter = v
		cfg.Tracing.Enabled = v != "" && v != "none"
	}
	if v, ok := os.LookupEnv("CONTROLPLANE_TRACING_OTLP_ENDPOINT"); ok {
		cfg.Tracing.OTLPEndpoint = v
	}
	if v, ok := os.LookupEnv("CONTROLPLANE_STREAM_REDIS_ADDR"); ok {
		cfg.Stream.RedisAddr = v
	}
}

// LogConfigFor builds a pkg/log.Config from the loaded LogConfig.
func (c Config) LogConfigFor() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}

// TracingConfigFor builds a pkg/tracing.Config for a named binary.
func (c Config) TracingConfigFor(serviceName, serviceVersion string) tracing.Config {
	exporter := tracing.ExporterNone
	switch c.Tracing.Exporter {
	case "otlp":
		exporter = tracing.ExporterOTLP
	case "stdout":
		exporter = tracing.ExporterStdout
	}
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Exporter:       exporter,
		OTLPEndpoint:   c.Tracing.OTLPEndpoint,
		SampleRatio:    c.Tracing.SampleRatio,
	}
}
