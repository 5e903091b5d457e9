package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pavelanni/studentdash/internal/model"
)

// ErrClosed is returned when subscribing to a source that has been closed.
var ErrClosed = errors.New("source closed")

// Loader reads the current snapshot stored at path.
type Loader func(ctx context.Context, path string) (model.Snapshot, error)

// Hub fans change notifications out to subscribers. Every subscription gets
// its own delivery goroutine, so callbacks of one subscription never run
// concurrently. Pending notifications coalesce: a slow subscriber only sees
// the latest snapshot.
type Hub struct {
	load Loader

	mu     sync.Mutex
	nextID int64
	subs   map[int64]*subscription
	closed bool
}

type subscription struct {
	path    string
	fn      func(model.Snapshot)
	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewHub returns a hub that reads snapshots with load.
func NewHub(load Loader) *Hub {
	return &Hub{load: load, subs: make(map[int64]*subscription)}
}

// Subscribe registers fn for snapshots at path. The first delivery happens
// right away with the current state.
func (h *Hub) Subscribe(path string, fn func(model.Snapshot)) (Unsubscribe, error) {
	sub := &subscription{
		path:    Clean(path),
		fn:      fn,
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	sub.dirty <- struct{}{}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	go h.run(sub)
	slog.Debug("subscribed", "id", id, "path", sub.path)

	return func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.done)
			slog.Debug("unsubscribed", "id", id, "path", sub.path)
		})
		<-sub.stopped
	}, nil
}

// Notify marks every subscription whose path overlaps path as dirty.
func (h *Hub) Notify(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !Overlaps(sub.path, path) {
			continue
		}
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[int64]*subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
		<-sub.stopped
	}
}

func (h *Hub) run(sub *subscription) {
	defer close(sub.stopped)
	for {
		select {
		case <-sub.done:
			return
		case <-sub.dirty:
		}

		snap, err := h.load(context.Background(), sub.path)
		if err != nil {
			slog.Error("load snapshot", "path", sub.path, "error", err)
			continue
		}

		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(snap)
	}
}
