package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/studentdash/internal/model"
)

func TestClean(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"/", ""},
		{"Students", "Students"},
		{"/Students/Users/", "Students/Users"},
		{"Students//Users", "Students/Users"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"", "Students", true},
		{"Students", "Students", true},
		{"Students", "Students/Users/u1", true},
		{"Students/Users/u1", "Students", true},
		{"Students", "Teachers", false},
		{"Students", "StudentsArchive", false},
	}
	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAt(t *testing.T) {
	tree := map[string]any{
		"Students": map[string]any{
			"Users": map[string]any{"u1": map[string]any{"studentName": "Ana"}},
			"count": 3.0,
		},
	}
	if got := At(tree, "Students/Users/u1"); got["studentName"] != "Ana" {
		t.Errorf("unexpected subtree %v", got)
	}
	if got := At(tree, "Students/count"); got != nil {
		t.Errorf("expected nil for scalar, got %v", got)
	}
	if got := At(tree, "Missing"); got != nil {
		t.Errorf("expected nil for missing path, got %v", got)
	}
	if got := At(tree, ""); len(got) != 1 {
		t.Errorf("expected root, got %v", got)
	}
}

// memTree is a mutable in-memory loader for hub tests.
type memTree struct {
	mu   sync.Mutex
	tree map[string]any
}

func (m *memTree) load(_ context.Context, path string) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return At(m.tree, path), nil
}

func (m *memTree) set(key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree[key] = v
}

func waitSnapshot(t *testing.T, ch <-chan model.Snapshot) model.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestHubDelivery(t *testing.T) {
	mem := &memTree{tree: map[string]any{"Students": map[string]any{"v": 1.0}}}
	hub := NewHub(mem.load)

	ch := make(chan model.Snapshot, 8)
	unsub, err := hub.Subscribe("Students", func(s model.Snapshot) { ch <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if snap := waitSnapshot(t, ch); snap["v"] != 1.0 {
		t.Fatalf("unexpected initial snapshot %v", snap)
	}

	mem.set("Students", map[string]any{"v": 2.0})
	hub.Notify("Students/v")
	if snap := waitSnapshot(t, ch); snap["v"] != 2.0 {
		t.Fatalf("unexpected updated snapshot %v", snap)
	}

	// Unrelated paths do not trigger deliveries.
	hub.Notify("Teachers")
	select {
	case snap := <-ch:
		t.Fatalf("unexpected delivery %v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	unsub()
	unsub()
	if hub.Len() != 0 {
		t.Fatalf("expected no subscriptions, got %d", hub.Len())
	}
	hub.Notify("Students")
	select {
	case snap := <-ch:
		t.Fatalf("delivery after unsubscribe: %v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubClose(t *testing.T) {
	mem := &memTree{tree: map[string]any{}}
	hub := NewHub(mem.load)
	unsub, err := hub.Subscribe("", func(model.Snapshot) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	hub.Close()
	unsub()
	if hub.Len() != 0 {
		t.Fatalf("expected no subscriptions after Close, got %d", hub.Len())
	}

	called := make(chan struct{}, 1)
	if _, err := hub.Subscribe("", func(model.Snapshot) { called <- struct{}{} }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe after Close = %v, want ErrClosed", err)
	}
	if hub.Len() != 0 {
		t.Fatalf("closed hub registered a subscription")
	}
	select {
	case <-called:
		t.Fatal("closed hub delivered a snapshot")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "records.json")
	if err := os.WriteFile(file, []byte(`{"Students":{"Users":{"u1":{"studentName":"Ana"}}}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, err := NewFileSource(file)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	t.Cleanup(func() { src.Close() })

	ch := make(chan model.Snapshot, 8)
	unsub, err := src.Subscribe("Students", func(s model.Snapshot) { ch <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	snap := waitSnapshot(t, ch)
	if _, ok := snap["Users"]; !ok {
		t.Fatalf("expected Users in initial snapshot, got %v", snap)
	}

	if err := os.WriteFile(file, []byte(`{"Students":{"Users":{}}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			users, _ := snap["Users"].(map[string]any)
			if len(users) == 0 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reloaded snapshot")
		}
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src, err := NewFileSource(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	ch := make(chan model.Snapshot, 1)
	unsub, err := src.Subscribe("Students", func(s model.Snapshot) { ch <- s })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()
	if snap := waitSnapshot(t, ch); snap != nil {
		t.Fatalf("expected nil snapshot, got %v", snap)
	}
}
