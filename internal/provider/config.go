package provider

import (
	"strconv"
	"strings"
)

// Config is the free-form key/value bag handed to adapters. There is no fixed
// schema: each adapter reads only the keys it recognizes and ignores the rest.
// Values arrive as strings from YAML config and as float64/bool from JSON
// requests, so the typed getters coerce.
type Config map[string]any

// Normalize returns a copy with keys lower-cased and spaces replaced by
// underscores ("Model Provider" -> "model_provider"). The orchestrator calls
// this once before dispatching to an adapter.
func (c Config) Normalize() Config {
	out := make(Config, len(c))
	for k, v := range c {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
		out[key] = v
	}
	return out
}

// String returns the value for key as a string, or def if absent.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return def
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	}
	return def
}

// Int returns the value for key as an int, or def if absent or unparseable.
func (c Config) Int(key string, def int) int {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// Float returns the value for key as a float64, or def if absent or
// unparseable.
func (c Config) Float(key string, def float64) float64 {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the value for key as a bool, or def if absent or unparseable.
func (c Config) Bool(key string, def bool) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if p, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return p
		}
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return def
}

// Merge returns a copy of c with overrides applied on top.
func (c Config) Merge(overrides Config) Config {
	out := make(Config, len(c)+len(overrides))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
