package slo

import (
	"strconv"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
)

// ParseTimeWindow parses the "<integer><unit>" grammar (m=minute, h=hour,
// d=day, w=week), rejecting any other form, per spec's explicit grammar.
func ParseTimeWindow(window string) (time.Duration, error) {
	if window == "" {
		return 0, apperrors.New(apperrors.InvalidRequest, "empty time window")
	}

	split := len(window) - 1
	unit := window[split:]
	numStr := window[:split]

	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperrors.New(apperrors.InvalidRequest, "invalid time window: "+window)
	}

	switch unit {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, apperrors.New(apperrors.InvalidRequest, "invalid time unit in window: "+window)
	}
}

// DetermineSeverity classifies a violation by how far current is below
// target: >10 critical, >5 high, >1 medium, else low.
func DetermineSeverity(current, target float64) Severity {
	diff := target - current
	switch {
	case diff > 10:
		return SeverityCritical
	case diff > 5:
		return SeverityHigh
	case diff > 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// BurnRateSeverity classifies a percent-per-hour degradation rate: >20/h
// critical, >10/h high, >5/h medium. Rates at or below 5/h are not alerted.
func BurnRateSeverity(perHour float64) (Severity, bool) {
	switch {
	case perHour > 20:
		return SeverityCritical, true
	case perHour > 10:
		return SeverityHigh, true
	case perHour > 5:
		return SeverityMedium, true
	default:
		return "", false
	}
}
