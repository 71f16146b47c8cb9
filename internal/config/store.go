package config

import (
	"encoding/json"
	"strings"
)

// GetValue resolves a dotted path such as "exposure.quality_threshold"
// against the JSON form of the configuration. The boolean reports whether
// the path resolved. Numbers come back as float64, nested sections as
// map[string]any, matching encoding/json's generic decoding.
func (c *Config) GetValue(path string) (any, bool) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, false
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, false
	}

	var current any = tree
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetFloat resolves a dotted path to a float64.
func (c *Config) GetFloat(path string) (float64, bool) {
	v, ok := c.GetValue(path)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// GetInt resolves a dotted path to an int. JSON numbers decode as
// float64; values with a fractional part do not resolve.
func (c *Config) GetInt(path string) (int, bool) {
	f, ok := c.GetFloat(path)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// GetString resolves a dotted path to a string.
func (c *Config) GetString(path string) (string, bool) {
	v, ok := c.GetValue(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetBool resolves a dotted path to a bool.
func (c *Config) GetBool(path string) (bool, bool) {
	v, ok := c.GetValue(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
