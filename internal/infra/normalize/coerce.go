package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Provider payloads arrive as decoded JSON, so numbers show up as float64,
// json.Number, or numeric strings depending on the venue. These helpers
// coerce at the adapter boundary only.

func toFloat(v any) (float64, error) {
	switch typed := v.(type) {
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case json.Number:
		return typed.Float64()
	case string:
		f, err := strconv.ParseFloat(typed, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as number: %w", typed, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to number", v)
	}
}

func toInt(v any) (int64, error) {
	switch typed := v.(type) {
	case int64:
		return typed, nil
	case int:
		return int64(typed), nil
	case float64:
		return int64(typed), nil
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i, nil
		}
		f, err := typed.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case string:
		i, err := strconv.ParseInt(typed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as integer: %w", typed, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

func toBool(v any) (bool, error) {
	switch typed := v.(type) {
	case bool:
		return typed, nil
	case string:
		b, err := strconv.ParseBool(typed)
		if err != nil {
			return false, fmt.Errorf("parse %q as bool: %w", typed, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot coerce %T to bool", v)
	}
}

// asMap asserts that the raw payload is a JSON object.
func asMap(raw any) (map[string]any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object payload, got %T", raw)
	}
	return m, nil
}

// requireField fetches a required key from a payload.
func requireField(m map[string]any, key string) (any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing required field %q", key)
	}
	return v, nil
}

func requireFloat(m map[string]any, key string) (float64, error) {
	v, err := requireField(m, key)
	if err != nil {
		return 0, err
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return f, nil
}

func requireString(m map[string]any, key string) (string, error) {
	v, err := requireField(m, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func requireBool(m map[string]any, key string) (bool, error) {
	v, err := requireField(m, key)
	if err != nil {
		return false, err
	}
	b, err := toBool(v)
	if err != nil {
		return false, fmt.Errorf("field %q: %w", key, err)
	}
	return b, nil
}

// optFloat copies m[src] into out[dst] as a number when present and parseable.
func optFloat(m map[string]any, src string, out map[string]any, dst string) {
	v, ok := m[src]
	if !ok || v == nil {
		return
	}
	if f, err := toFloat(v); err == nil {
		out[dst] = f
	}
}

// optCopy copies m[src] into out[dst] untouched when present.
func optCopy(m map[string]any, src string, out map[string]any, dst string) {
	if v, ok := m[src]; ok && v != nil {
		out[dst] = v
	}
}

// numericOrDefault coerces m[key] to a number, falling back to def when the
// field is absent or malformed. Used by the pass-through analytics
// transforms, which default instead of failing.
func numericOrDefault(m map[string]any, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	f, err := toFloat(v)
	if err != nil {
		return def
	}
	return f
}
