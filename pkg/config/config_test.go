package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecTimeouts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Second, cfg.Registry.ProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.StoreOpTimeout)
	assert.Equal(t, 5*time.Second, cfg.Stream.SourcePollTimeout)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Admin.ListenAddr, cfg.Admin.ListenAddr)
}

func TestLoadParsesYAMLOverOrSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controlplane.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin:\n  listen_addr: 0.0.0.0:8080\nslo:\n  retention_days: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Admin.ListenAddr)
	assert.Equal(t, 7, cfg.Slo.RetentionDays)
	// Unset fields retain their defaults.
	assert.Equal(t, Default().Registry.TTL, cfg.Registry.TTL)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CONTROLPLANE_LOG_LEVEL", "debug")
	t.Setenv("CONTROLPLANE_ADMIN_LISTEN_ADDR", "127.0.0.1:7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:7000", cfg.Admin.ListenAddr)
}

func TestTracingConfigForMapsExporterNames(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.OTLPEndpoint = "collector:4317"

	tc := cfg.TracingConfigFor("controlplaned", "test")
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.Equal(t, "controlplaned", tc.ServiceName)
}
