package slo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeWindowAllUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30d": 30 * 24 * time.Hour,
		"24h": 24 * time.Hour,
		"60m": 60 * time.Minute,
		"2w":  2 * 7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseTimeWindow(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseTimeWindowRejectsInvalidForms(t *testing.T) {
	for _, in := range []string{"invalid", "30x", "", "m", "-5m"} {
		_, err := ParseTimeWindow(in)
		assert.Error(t, err, in)
	}
}

func TestDetermineSeverityThresholds(t *testing.T) {
	assert.Equal(t, SeverityCritical, DetermineSeverity(80, 95))
	assert.Equal(t, SeverityHigh, DetermineSeverity(89, 95))
	assert.Equal(t, SeverityMedium, DetermineSeverity(93, 95))
	assert.Equal(t, SeverityLow, DetermineSeverity(94.5, 95))
}

func TestBurnRateSeverityThresholds(t *testing.T) {
	sev, ok := BurnRateSeverity(25)
	assert.True(t, ok)
	assert.Equal(t, SeverityCritical, sev)

	sev, ok = BurnRateSeverity(15)
	assert.True(t, ok)
	assert.Equal(t, SeverityHigh, sev)

	sev, ok = BurnRateSeverity(7)
	assert.True(t, ok)
	assert.Equal(t, SeverityMedium, sev)

	_, ok = BurnRateSeverity(2)
	assert.False(t, ok)
}
