package config

import "github.com/spf13/cobra"

// BindPersistentFlags registers the flags controlplaned exposes on every
// subcommand, following cmd/warren's root-level --log-level/--log-json
// pattern.
func BindPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Path to YAML config file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cmd.PersistentFlags().String("data-dir", "./data", "Directory for on-disk state (bbolt stores)")
	cmd.PersistentFlags().String("admin-addr", "127.0.0.1:9091", "Admin HTTP listen address")
	cmd.PersistentFlags().String("tracing-exporter", "none", "Tracing exporter: otlp, stdout, or none")
	cmd.PersistentFlags().String("tracing-otlp-endpoint", "", "OTLP/gRPC collector endpoint")
	cmd.PersistentFlags().String("prometheus-url", "", "Prometheus base URL the SLO Validator queries (empty disables metric queries)")
	cmd.PersistentFlags().String("stream-redis-addr", "", "Redis address for the Stream Processor's event bus (empty uses the in-memory bus)")
}

// ApplyFlags overlays flag values from cmd onto cfg, giving flags the
// highest precedence over file and environment settings. Flags left at
// their default value do not override a value already set by file/env.
func ApplyFlags(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("admin-addr") {
		cfg.Admin.ListenAddr, _ = cmd.Flags().GetString("admin-addr")
	}
	if cmd.Flags().Changed("tracing-exporter") {
		cfg.Tracing.Exporter, _ = cmd.Flags().GetString("tracing-exporter")
		cfg.Tracing.Enabled = cfg.Tracing.Exporter != "" && cfg.Tracing.Exporter != "none"
	}
	if cmd.Flags().Changed("tracing-otlp-endpoint") {
		cfg.Tracing.OTLPEndpoint, _ = cmd.Flags().GetString("tracing-otlp-endpoint")
	}
	if cmd.Flags().Changed("prometheus-url") {
		cfg.Slo.PrometheusURL, _ = cmd.Flags().GetString("prometheus-url")
	}
	if cmd.Flags().Changed("stream-redis-addr") {
		cfg.Stream.RedisAddr, _ = cmd.Flags().GetString("stream-redis-addr")
	}
}

// ConfigPath reads the --config flag value off cmd.
func ConfigPath(cmd *cobra.Command) string {
	p, _ := cmd.PersistentFlags().GetString("config")
	return p
}
