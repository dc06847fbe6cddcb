// Package config stages and validates the engine configuration: it parses the
// YAML text into a typed Document, merges the advanced settings onto it and
// produces the canonical text written back to the engine.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotObject is returned when the staged text is empty or its root is not a mapping.
	ErrNotObject = errors.New("configuration is not an object")
	// ErrInvalidInput marks user-supplied values that were rejected before any engine call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfigNotReady is returned when the engine is started without a valid staged configuration.
	ErrConfigNotReady = errors.New("configuration is not ready")
)

// Config keys understood by the launcher.
const (
	KeyPort               = "port"
	KeySocksPort          = "socks-port"
	KeyMixedPort          = "mixed-port"
	KeyMode               = "mode"
	KeyLogLevel           = "log-level"
	KeyUnifiedDelay       = "unified-delay"
	KeyTCPConcurrent      = "tcp-concurrent"
	KeyTun                = "tun"
	KeySniffer            = "sniffer"
	KeyExternalController = "external-controller"
	KeySecret             = "secret"
)

// Document is a parsed engine configuration. Unknown keys are preserved in the
// raw mapping; the fields below are set only when the key is present with a
// value of the right type.
type Document struct {
	raw map[string]any

	Port          *int
	SocksPort     *int
	MixedPort     *int
	Mode          *string
	LogLevel      *string
	UnifiedDelay  *bool
	TCPConcurrent *bool
	HasTun        bool
	HasSniffer    bool

	ExternalController string
	Secret             string
}

// Parse decodes YAML text into a Document. It fails for text that does not
// parse and for text whose root is null or not a mapping.
func Parse(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrNotObject)
	}
	var root any
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	m, ok := root.(map[string]any)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: root is %T", ErrNotObject, root)
	}
	return FromMap(m), nil
}

// IsValid reports whether text parses to a non-null object.
func IsValid(text string) bool {
	_, err := Parse(text)
	return err == nil
}

// FromMap builds a Document over an already decoded mapping. The mapping is
// copied at the top level.
func FromMap(m map[string]any) *Document {
	doc := &Document{raw: make(map[string]any, len(m))}
	for k, v := range m {
		doc.raw[k] = v
	}
	doc.Port = intField(m, KeyPort)
	doc.SocksPort = intField(m, KeySocksPort)
	doc.MixedPort = intField(m, KeyMixedPort)
	doc.Mode = stringField(m, KeyMode)
	doc.LogLevel = stringField(m, KeyLogLevel)
	doc.UnifiedDelay = boolField(m, KeyUnifiedDelay)
	doc.TCPConcurrent = boolField(m, KeyTCPConcurrent)
	_, doc.HasTun = m[KeyTun]
	_, doc.HasSniffer = m[KeySniffer]
	if s := stringField(m, KeyExternalController); s != nil {
		doc.ExternalController = *s
	}
	if s := stringField(m, KeySecret); s != nil {
		doc.Secret = *s
	}
	return doc
}

// Map returns a shallow copy of the underlying mapping.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, len(d.raw))
	for k, v := range d.raw {
		out[k] = v
	}
	return out
}

// Canonical serializes the document's mapping.
func (d *Document) Canonical() (string, error) {
	return Canonical(d.raw)
}

// Canonical serializes m as YAML with sorted keys and two-space indentation,
// so equal mappings always produce equal text.
func Canonical(m map[string]any) (string, error) {
	if m == nil {
		return "", fmt.Errorf("%w: nil mapping", ErrNotObject)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("failed to serialize configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return buf.String(), nil
}

func intField(m map[string]any, key string) *int {
	switch v := m[key].(type) {
	case int:
		return &v
	case int64:
		i := int(v)
		return &i
	case uint64:
		i := int(v)
		return &i
	case float64:
		if v != float64(int(v)) {
			return nil
		}
		i := int(v)
		return &i
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return &i
	}
	return nil
}

func stringField(m map[string]any, key string) *string {
	if v, ok := m[key].(string); ok {
		return &v
	}
	return nil
}

func boolField(m map[string]any, key string) *bool {
	if v, ok := m[key].(bool); ok {
		return &v
	}
	return nil
}
