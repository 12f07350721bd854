package config

import (
	"fmt"
	"time"
)

// OptString returns the string option key, or "" if absent or not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns the integer option key, or def if absent. YAML integers
// decode as int; floats with no fractional part are accepted too.
func (e ProviderEntry) OptInt(key string, def int) (int, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("config: %s option %q: want integer, got %v", e.Name, key, v)
}

// OptDuration returns the duration option key, or def if absent. Strings
// are parsed with time.ParseDuration; bare integers are seconds.
func (e ProviderEntry) OptDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("config: %s option %q: %w", e.Name, key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	}
	return 0, fmt.Errorf("config: %s option %q: want duration, got %v", e.Name, key, v)
}
