// Package source defines the realtime record source contract and the
// subscriber hub shared by its implementations.
package source

import (
	"strings"

	"github.com/pavelanni/studentdash/internal/model"
)

// Unsubscribe stops deliveries to a subscription. It is safe to call more
// than once and must not be called from inside the subscription's callback.
type Unsubscribe func()

// Source delivers the whole snapshot stored at a path once after subscribing
// and again after every change under that path.
type Source interface {
	Subscribe(path string, fn func(model.Snapshot)) (Unsubscribe, error)
}

// Clean normalizes a slash-separated record path: leading, trailing and
// repeated slashes are dropped. The root is the empty string.
func Clean(path string) string {
	return strings.Join(Split(path), "/")
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Overlaps reports whether a change at one path can affect a snapshot at the
// other, i.e. one is an ancestor of (or equal to) the other.
func Overlaps(a, b string) bool {
	a, b = Clean(a), Clean(b)
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// At walks tree along path and returns the mapping found there, or nil when
// the path is absent or does not lead to a mapping.
func At(tree map[string]any, path string) model.Snapshot {
	cur := tree
	for _, seg := range Split(path) {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}
