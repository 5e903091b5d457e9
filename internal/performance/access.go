package performance

// getOr returns m[key] when it is present and of type T, and def otherwise.
// A nil map is treated as empty.
func getOr[T any](m map[string]any, key string, def T) T {
	if m == nil {
		return def
	}
	v, ok := m[key].(T)
	if !ok {
		return def
	}
	return v
}

// mapAt returns the nested mapping stored under key, if any.
func mapAt(m map[string]any, key string) (map[string]any, bool) {
	v := getOr[map[string]any](m, key, nil)
	return v, v != nil
}
