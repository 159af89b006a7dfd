package health

import "github.com/cuemby/controlplane/pkg/apperrors"

var (
	errInvalidThreshold = apperrors.New(apperrors.InvalidRequest, "failure/success thresholds must be >= 1")
	errTimeoutTooLong   = apperrors.New(apperrors.InvalidRequest, "probe timeout must be less than interval")
	errUnknownKind      = apperrors.New(apperrors.InvalidRequest, "unknown probe kind")
)
