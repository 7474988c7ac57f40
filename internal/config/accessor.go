package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// toMap converts cfg to the generic tree of its YAML form.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "agent.maxIterations"
// or "channels.0.name").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a scalar config value by dot-notation path. String values
// that look like booleans or integers are stored as such; the field type
// decides the final value.
func SetByPath(cfg *Config, path, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	var parent any = m
	for _, key := range parts[:len(parts)-1] {
		switch v := parent.(type) {
		case map[string]any:
			child, ok := v[key]
			if !ok {
				child = make(map[string]any)
				v[key] = child
			}
			parent = child
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return fmt.Errorf("invalid array index: %s", key)
			}
			parent = v[idx]
		default:
			return fmt.Errorf("cannot traverse into %T at %s", parent, key)
		}
	}

	last := parts[len(parts)-1]
	switch v := parent.(type) {
	case map[string]any:
		v[last] = parseValue(value)
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(v) {
			return fmt.Errorf("invalid array index: %s", last)
		}
		v[idx] = parseValue(value)
	default:
		return fmt.Errorf("cannot set %s on %T", last, parent)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	updated := &Config{}
	if err := yaml.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = *updated
	return nil
}

func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return n
	}
	return s
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Channels = append([]ChannelConfig(nil), cfg.Channels...)
	c.Claude.ExtraArgs = append([]string(nil), cfg.Claude.ExtraArgs...)
	if c.Discord.Token != "" {
		c.Discord.Token = maskString(c.Discord.Token)
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf config path with its current value, sorted by path.
func ListPaths(cfg *Config) []PathValue {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	var out []PathValue
	flatten("", m, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// PathValue is one leaf of the config tree.
type PathValue struct {
	Path  string
	Value any
}

func flatten(prefix string, v any, out *[]PathValue) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flatten(join(prefix, k), child, out)
		}
	case []any:
		for i, child := range val {
			flatten(join(prefix, strconv.Itoa(i)), child, out)
		}
	default:
		*out = append(*out, PathValue{Path: prefix, Value: val})
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
