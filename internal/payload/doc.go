// Package payload provides defensively typed access to schemaless origin API
// documents. Every accessor validates the underlying JSON type and reports a
// type mismatch as absence instead of panicking, so a malformed payload
// degrades to skipped fields rather than a faulted batch.
package payload

import (
	"encoding/json"
	"time"
)

// Doc is one decoded JSON object.
type Doc map[string]interface{}

// Parse decodes a JSON object payload.
func Parse(data []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseArray decodes a JSON array of objects. Non-object elements are dropped.
func ParseArray(data []byte) ([]Doc, error) {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Doc, 0, len(raw))
	for _, el := range raw {
		if obj, ok := el.(map[string]interface{}); ok {
			out = append(out, Doc(obj))
		}
	}
	return out, nil
}

// String returns a non-empty string field.
func (d Doc) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Int returns a numeric field as int64. JSON numbers decode as float64.
func (d Doc) Int(key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Time returns an RFC3339 timestamp field.
func (d Doc) Time(key string) (time.Time, bool) {
	s, ok := d.String(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Object returns a nested object field.
func (d Doc) Object(key string) (Doc, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return Doc(obj), true
}

// StringAt returns a string reached through nested object keys, e.g.
// StringAt("base", "ref") or StringAt("user", "login").
func (d Doc) StringAt(keys ...string) (string, bool) {
	cur := d
	for i, key := range keys {
		if i == len(keys)-1 {
			return cur.String(key)
		}
		next, ok := cur.Object(key)
		if !ok {
			return "", false
		}
		cur = next
	}
	return "", false
}
