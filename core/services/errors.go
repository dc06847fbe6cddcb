package services

import (
	"fmt"
	"strings"

	"mihomo-launcher/core/engine"
)

// engineFailure wraps a result the engine reported as unsuccessful.
func engineFailure(op, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return fmt.Errorf("%s: %w", op, engine.ErrEngineFailure)
	}
	return fmt.Errorf("%s: %w: %s", op, engine.ErrEngineFailure, msg)
}

// unexpected wraps an error raised by the adapter call itself.
func unexpected(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, engine.ErrUnexpected, err)
}

func requireAdapter(a engine.Adapter, op string) error {
	if a == nil {
		return fmt.Errorf("%s: %w", op, engine.ErrAdapterUnavailable)
	}
	return nil
}
