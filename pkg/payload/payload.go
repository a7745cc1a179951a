// Package payload restricts the dynamic values carried in metadata, scratchpads
// and tool arguments to a closed, serializable set: nil, bool, string, numbers,
// []any and map[string]any.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Map is an opaque key/value bag whose values are always serializable.
type Map map[string]any

// Normalize converts v into the closed value set, rejecting functions, channels,
// pointers, structs and any other non-serializable reference.
func Normalize(v any) (any, error) {
	return normalize(reflect.ValueOf(v), "$")
}

func normalize(rv reflect.Value, path string) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem(), path)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := normalize(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%s: map keys must be strings, got %s", path, rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			item, err := normalize(iter.Value(), path+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: unsupported value of kind %s", path, rv.Kind())
	}
}

// From validates a generic map and returns it as a Map.
func From(m map[string]any) (Map, error) {
	if m == nil {
		return Map{}, nil
	}
	v, err := Normalize(m)
	if err != nil {
		return nil, err
	}
	return Map(v.(map[string]any)), nil
}

// Decode parses a JSON object into a Map, rejecting anything that is not an object.
func Decode(data []byte) (Map, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Map{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return From(m)
}

// Encode validates then marshals the Map.
func (m Map) Encode() ([]byte, error) {
	if _, err := Normalize(map[string]any(m)); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any(m))
}

// UnmarshalJSON keeps decoded maps inside the closed set.
func (m *Map) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// Set validates v and stores it under key.
func (m Map) Set(key string, v any) error {
	n, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	m[key] = n
	return nil
}

// Merge validates every value of other and copies it into a clone of m.
func (m Map) Merge(other Map) (Map, error) {
	out := m.Clone()
	if out == nil {
		out = Map{}
	}
	for _, k := range other.Keys() {
		if err := out.Set(k, other[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// Keys returns the keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the value under key when it is a string.
func (m Map) GetString(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// GetBool returns the value under key when it is a bool.
func (m Map) GetBool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// GetStrings returns the value under key as a string slice, skipping non-strings.
func (m Map) GetStrings(key string) []string {
	var out []string
	switch v := m[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// CloneValue deep-copies a value of the closed set.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = CloneValue(item)
		}
		return out
	case Map:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
