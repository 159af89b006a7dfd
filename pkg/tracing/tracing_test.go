package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithStdoutExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{
		ServiceName:    "controlplane-test",
		ServiceVersion: "0.0.0-test",
		Exporter:       ExporterStdout,
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test", ComponentSpan{Component: "registry", Operation: "heartbeat"})
	EndSpan(span, nil)
	assert.NotNil(t, ctx)
}

func TestInitWithNoExporterStillRegistersProvider(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "controlplane-test", Exporter: ExporterNone})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := StartSpan(context.Background(), "test", ComponentSpan{Component: "slo", Operation: "run_once"})
	EndSpan(span, assert.AnError)
}

func TestShutdownOnNilProviderIsSafe(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
