package docstore

// Fields is the schemaless field map of a document. Values round-trip through
// JSON in the Redis store, so numeric fields may surface as int, int64 or
// float64 depending on the backend; the accessors below normalize that.
type Fields map[string]any

func (f Fields) Str(key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

func (f Fields) Int(key string) int {
	switch v := f[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (f Fields) Bool(key string) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return false
}

func (f Fields) Strs(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy so stores can hand out snapshots without
// aliasing their internal state.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge applies other's fields over f, field by field.
func (f Fields) Merge(other Fields) {
	for k, v := range other {
		f[k] = v
	}
}
