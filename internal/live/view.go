// Package live keeps derived data in step with a record source.
//
// A View subscribes to one path, recomputes its value from scratch on every
// snapshot and publishes the result atomically. Each consumer owns its view;
// views never share state.
package live

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/source"
)

// ErrAlreadyActive is returned by Activate on a subscribed view.
var ErrAlreadyActive = errors.New("view already active")

// State is the subscription state of a View.
type State int

const (
	Unsubscribed State = iota
	Subscribed
)

func (s State) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

type result[T any] struct {
	value T
	at    time.Time
}

// View holds the most recent fold of the snapshots delivered for one path.
type View[T any] struct {
	name string
	path string
	fold func(model.Snapshot) T

	mu    sync.Mutex
	state State
	unsub source.Unsubscribe

	current atomic.Pointer[result[T]]
	updates chan struct{}
}

// NewView returns an unsubscribed view that folds snapshots at path with fold.
func NewView[T any](name, path string, fold func(model.Snapshot) T) *View[T] {
	return &View[T]{
		name:    name,
		path:    path,
		fold:    fold,
		updates: make(chan struct{}, 1),
	}
}

// Activate subscribes the view to src.
func (v *View[T]) Activate(src source.Source) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Subscribed {
		return fmt.Errorf("%s: %w", v.name, ErrAlreadyActive)
	}
	unsub, err := src.Subscribe(v.path, v.apply)
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", v.name, v.path, err)
	}
	v.unsub = unsub
	v.state = Subscribed
	slog.Debug("view activated", "view", v.name, "path", v.path)
	return nil
}

// Deactivate unsubscribes the view. It is a no-op on an unsubscribed view.
// The last published value stays readable.
func (v *View[T]) Deactivate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Subscribed {
		return
	}
	v.unsub()
	v.unsub = nil
	v.state = Unsubscribed
	slog.Debug("view deactivated", "view", v.name, "path", v.path)
}

// State reports whether the view is subscribed.
func (v *View[T]) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Current returns the value computed from the most recent snapshot. The
// boolean is false until the first snapshot has been processed.
func (v *View[T]) Current() (T, bool) {
	r := v.current.Load()
	if r == nil {
		var zero T
		return zero, false
	}
	return r.value, true
}

// UpdatedAt returns when the current value was computed.
func (v *View[T]) UpdatedAt() time.Time {
	if r := v.current.Load(); r != nil {
		return r.at
	}
	return time.Time{}
}

// Updates receives a signal after each new value is published. Signals
// coalesce; readers should call Current after receiving one.
func (v *View[T]) Updates() <-chan struct{} {
	return v.updates
}

func (v *View[T]) apply(snap model.Snapshot) {
	value := v.fold(snap)
	v.current.Store(&result[T]{value: value, at: time.Now()})
	select {
	case v.updates <- struct{}{}:
	default:
	}
}
