package paymob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Fields is a flattened, case-insensitive view of a callback payload.
// Keys are lowercase dot paths such as "obj.order.id"; array elements use
// their index ("obj.items.0.name").
type Fields map[string]string

// FlattenJSON decodes a JSON document and flattens it into Fields.
// Numbers keep their literal form.
func FlattenJSON(data []byte) (Fields, error) {
	out := Fields{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	out.AddValue("", v)
	return out, nil
}

// AddValue flattens v under prefix
func (f Fields) AddValue(prefix string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			f.AddValue(join(prefix, k), child)
		}
	case []interface{}:
		for i, child := range val {
			f.AddValue(join(prefix, strconv.Itoa(i)), child)
		}
	default:
		if prefix != "" {
			f[strings.ToLower(prefix)] = scalarString(val)
		}
	}
}

// AddValues merges query or form values, first value wins per key.
// Keys already present are kept.
func (f Fields) AddValues(values url.Values) {
	for k, vs := range values {
		key := strings.ToLower(k)
		if _, exists := f[key]; exists || len(vs) == 0 {
			continue
		}
		f[key] = vs[0]
	}
}

// Get returns the value at path or ""
func (f Fields) Get(path string) string {
	return f[strings.ToLower(path)]
}

// Lookup returns the value at path
func (f Fields) Lookup(path string) (string, bool) {
	v, ok := f[strings.ToLower(path)]
	return v, ok
}

// Has reports whether path is present
func (f Fields) Has(path string) bool {
	_, ok := f[strings.ToLower(path)]
	return ok
}

// First returns the first non-empty value among paths
func (f Fields) First(paths ...string) string {
	for _, p := range paths {
		if v := f.Get(p); v != "" {
			return v
		}
	}
	return ""
}

// ObjValue looks a payload field up inside the "obj" envelope first and
// then at the top level, where query-string callbacks put it.
func (f Fields) ObjValue(path string) (string, bool) {
	if v, ok := f.Lookup("obj." + path); ok {
		return v, true
	}
	return f.Lookup(path)
}

// ObjString is ObjValue without the presence flag
func (f Fields) ObjString(paths ...string) string {
	for _, p := range paths {
		if v, ok := f.ObjValue(p); ok && v != "" {
			return v
		}
	}
	return ""
}

// ObjInt64 parses the first path holding an integer
func (f Fields) ObjInt64(paths ...string) int64 {
	for _, p := range paths {
		v, ok := f.ObjValue(p)
		if !ok || v == "" {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if fl, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(fl)
		}
	}
	return 0
}

// ObjBool parses a boolean flag, treating anything unparsable as false
func (f Fields) ObjBool(path string) bool {
	v, _ := f.ObjValue(path)
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Keys returns the sorted keys
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy suitable for a JSONB column
func (f Fields) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(f))
	for k, v := range f {
		m[k] = v
	}
	return m
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// scalarString renders a JSON scalar the way the gateway signs it
func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}
