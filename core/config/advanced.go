package config

import (
	"errors"
	"fmt"
	"slices"
)

// Proxy modes accepted by the engine.
const (
	ModeRule   = "rule"
	ModeGlobal = "global"
	ModeDirect = "direct"
)

var (
	validModes     = []string{ModeRule, ModeGlobal, ModeDirect}
	validLogLevels = []string{"silent", "error", "warning", "info", "debug"}
)

// Advanced holds the settings-page toggles merged onto the staged
// configuration before it is saved.
type Advanced struct {
	TunMode       bool
	UnifiedDelay  bool
	TCPConcurrent bool
	EnableSniffer bool
	Port          int
	SocksPort     int
	MixedPort     int
	Mode          string
	LogLevel      string
}

// DefaultAdvanced returns the toggles used when a configuration does not set them.
func DefaultAdvanced() Advanced {
	return Advanced{
		Port:      7890,
		SocksPort: 7891,
		MixedPort: 7893,
		Mode:      ModeRule,
		LogLevel:  "info",
	}
}

// AdvancedFromDocument derives the toggles from a parsed configuration,
// falling back to DefaultAdvanced for absent keys. Tun and sniffer are on iff
// their keys are present.
func AdvancedFromDocument(doc *Document) Advanced {
	a := DefaultAdvanced()
	if doc == nil {
		return a
	}
	if doc.Port != nil {
		a.Port = *doc.Port
	}
	if doc.SocksPort != nil {
		a.SocksPort = *doc.SocksPort
	}
	if doc.MixedPort != nil {
		a.MixedPort = *doc.MixedPort
	}
	if doc.Mode != nil {
		a.Mode = *doc.Mode
	}
	if doc.LogLevel != nil {
		a.LogLevel = *doc.LogLevel
	}
	if doc.UnifiedDelay != nil {
		a.UnifiedDelay = *doc.UnifiedDelay
	}
	if doc.TCPConcurrent != nil {
		a.TCPConcurrent = *doc.TCPConcurrent
	}
	a.TunMode = doc.HasTun
	a.EnableSniffer = doc.HasSniffer
	return a
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// Validate checks ports, mode and log level. All problems are reported.
func (a Advanced) Validate() error {
	var errs []error
	for _, p := range []struct {
		name  string
		value int
	}{
		{KeyPort, a.Port},
		{KeySocksPort, a.SocksPort},
		{KeyMixedPort, a.MixedPort},
	} {
		if !ValidPort(p.value) {
			errs = append(errs, fmt.Errorf("%w: %s %d is outside [1, 65535]", ErrInvalidInput, p.name, p.value))
		}
	}
	if !slices.Contains(validModes, a.Mode) {
		errs = append(errs, fmt.Errorf("%w: mode %q is not one of %v", ErrInvalidInput, a.Mode, validModes))
	}
	if !slices.Contains(validLogLevels, a.LogLevel) {
		errs = append(errs, fmt.Errorf("%w: log level %q is not one of %v", ErrInvalidInput, a.LogLevel, validLogLevels))
	}
	return errors.Join(errs...)
}

func tunSection() map[string]any {
	return map[string]any{
		"enable":                true,
		"stack":                 "system",
		"dns-hijack":            []any{"any:53"},
		"auto-route":            true,
		"auto-detect-interface": true,
	}
}

func snifferSection() map[string]any {
	return map[string]any{
		"enable":        true,
		"parse-pure-ip": true,
	}
}

// Apply returns a copy of doc's mapping with the toggles merged in. The
// document itself is not modified.
func (a Advanced) Apply(doc *Document) map[string]any {
	out := doc.Map()
	if a.TunMode {
		out[KeyTun] = tunSection()
	} else {
		delete(out, KeyTun)
	}
	if a.EnableSniffer {
		out[KeySniffer] = snifferSection()
	} else {
		delete(out, KeySniffer)
	}
	out[KeyUnifiedDelay] = a.UnifiedDelay
	out[KeyTCPConcurrent] = a.TCPConcurrent
	out[KeyPort] = a.Port
	out[KeySocksPort] = a.SocksPort
	out[KeyMixedPort] = a.MixedPort
	out[KeyMode] = a.Mode
	out[KeyLogLevel] = a.LogLevel
	return out
}

// Merge parses text, validates a and returns the merged mapping together with
// its canonical serialization.
func Merge(text string, a Advanced) (map[string]any, string, error) {
	doc, err := Parse(text)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := a.Validate(); err != nil {
		return nil, "", err
	}
	merged := a.Apply(doc)
	canonical, err := Canonical(merged)
	if err != nil {
		return nil, "", err
	}
	return merged, canonical, nil
}
