package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptProbeExitZeroIsHealthy(t *testing.T) {
	probe := NewScriptProbe([]string{"true"}, "")
	result := probe.Probe(context.Background(), Target{})
	assert.Equal(t, OutcomeHealthy, result.Outcome)
}

func TestScriptProbeNonZeroExitIsUnhealthy(t *testing.T) {
	probe := NewScriptProbe([]string{"false"}, "")
	result := probe.Probe(context.Background(), Target{})
	assert.Equal(t, OutcomeUnhealthy, result.Outcome)
}

func TestScriptProbeNoCommand(t *testing.T) {
	probe := NewScriptProbe(nil, "")
	result := probe.Probe(context.Background(), Target{})
	assert.Equal(t, OutcomeUnhealthy, result.Outcome)
}
