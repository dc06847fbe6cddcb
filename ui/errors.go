package ui

import (
	"errors"

	"mihomo-launcher/core/config"
	"mihomo-launcher/core/engine"
)

// ErrorHint suggests what to check for a recorded error, or "" when there is
// nothing useful to add.
func ErrorHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, config.ErrConfigNotReady):
		return "Fetch or load a valid configuration first"
	case errors.Is(err, config.ErrInvalidInput):
		return "Check the value you entered"
	case errors.Is(err, config.ErrNotObject):
		return "The configuration must be a YAML mapping"
	case errors.Is(err, engine.ErrAdapterUnavailable):
		return "The engine is not available"
	case errors.Is(err, engine.ErrEngineFailure):
		return "Check mihomo.log and that the mihomo executable exists"
	default:
		return "Check the launcher log for details"
	}
}
