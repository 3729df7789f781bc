// Package config loads reportflow settings.
//
// Config wraps a decoded YAML or JSON document and extracts typed values by
// dotted path, falling back to a default when a key is missing or has the
// wrong type. Settings is the typed form the service is built from; it is
// produced by overlaying a Config onto Defaults and checked with Validate.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config wraps a map[string]any for type-safe value extraction.
// Keys may be dotted paths into nested maps, e.g. "gateway.timeout".
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup resolves a dotted path. Nested maps decoded by yaml.v3 are
// map[string]any; map[any]any is accepted for older decoders.
func (c Config) lookup(path string) (any, bool) {
	var cur any = c.data
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[any]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or defaultVal if missing or not a scalar.
// Numbers and bools are formatted, so env-style values need no quoting.
func (c Config) String(path, defaultVal string) string {
	v, ok := c.lookup(path)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return defaultVal
}

// Duration returns the duration at path, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(path string, defaultVal time.Duration) time.Duration {
	v, ok := c.lookup(path)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean at path, or defaultVal. Strings accepted by
// strconv.ParseBool are converted.
func (c Config) Bool(path string, defaultVal bool) bool {
	v, ok := c.lookup(path)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// Int returns the integer at path, or defaultVal if missing or not
// convertible. Floats convert only without a fractional part.
func (c Config) Int(path string, defaultVal int) int {
	v, ok := c.lookup(path)
	if !ok {
		return defaultVal
	}
	if n, ok := asInt(v); ok {
		return n
	}
	return defaultVal
}

func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val == float64(int(val)) {
			return int(val), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Float returns the float64 at path, or defaultVal if missing or not convertible.
func (c Config) Float(path string, defaultVal float64) float64 {
	v, ok := c.lookup(path)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// IntSlice returns the integers at path, or defaultVal if missing or any
// element is not an integer. A comma-separated string is split.
func (c Config) IntSlice(path string, defaultVal []int) []int {
	v, ok := c.lookup(path)
	if !ok {
		return defaultVal
	}

	var items []any
	switch val := v.(type) {
	case []int:
		return append([]int(nil), val...)
	case []any:
		items = val
	case string:
		for _, s := range strings.Split(val, ",") {
			items = append(items, strings.TrimSpace(s))
		}
	default:
		return defaultVal
	}

	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return defaultVal
		}
		out = append(out, n)
	}
	return out
}

// Section returns the nested map at path as a Config. A missing or
// non-map value yields an empty Config.
func (c Config) Section(path string) Config {
	v, ok := c.lookup(path)
	if !ok {
		return New(nil)
	}
	switch m := v.(type) {
	case map[string]any:
		return New(m)
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return New(out)
	}
	return New(nil)
}

// Keys returns the top-level keys.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Has returns true if path exists in the config.
func (c Config) Has(path string) bool {
	_, ok := c.lookup(path)
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
