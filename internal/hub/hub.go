// Package hub implements the live observer registry: a set of attached
// observers that receive fleet events as JSON frames.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trapsight/trapsight/pkg/fleet"
)

// SnapshotFunc produces the current fleet state for a newly attached
// observer.
type SnapshotFunc func(ctx context.Context) (*fleet.Snapshot, error)

// Metrics receives registry gauge and counter updates. Implementations
// must be safe for concurrent use.
type Metrics interface {
	ObserverAdded()
	ObserverRemoved()
	ObserverDropped()
	EventBroadcast()
}

// Observer is one attached consumer of fleet events. Frames arrive on
// Events in the order they were enqueued; Done closes when the observer
// has been detached.
type Observer struct {
	id   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

// ID returns the observer's registry identity.
func (o *Observer) ID() string { return o.id }

// Events is the observer's frame stream. It is never closed; watch
// Done for detachment.
func (o *Observer) Events() <-chan []byte { return o.send }

// Done closes when the observer is detached from the registry.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Hub is the observer registry. All methods are safe for concurrent
// use.
type Hub struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}

	snapshot SnapshotFunc
	buffer   int
	metrics  Metrics
	logger   *log.Logger
}

// Config configures the registry.
type Config struct {
	// Snapshot produces the state package sent to each observer on
	// attach. Required.
	Snapshot SnapshotFunc

	// Buffer is the per-observer frame queue depth. An observer whose
	// queue is full when an event arrives is detached.
	Buffer int

	Metrics Metrics     // optional
	Logger  *log.Logger // optional
}

// New creates an empty registry.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		observers: make(map[*Observer]struct{}),
		snapshot:  cfg.Snapshot,
		buffer:    buffer,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Subscribe attaches a new observer. The current fleet snapshot is
// enqueued before the observer joins the registry, so the first frame
// an observer reads is always the snapshot and every later frame
// postdates it.
func (h *Hub) Subscribe(ctx context.Context) (*Observer, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot for new observer: %w", err)
	}
	frame, err := json.Marshal(fleet.Event{
		Type: fleet.EventSnapshot,
		Data: snap,
		Time: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	o := &Observer{
		id:   uuid.NewString(),
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}
	o.send <- frame

	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ObserverAdded()
	}
	h.logger.Printf("observer %s attached", o.id)
	return o, nil
}

// Unregister detaches an observer. Safe to call more than once.
func (h *Hub) Unregister(o *Observer) {
	h.mu.Lock()
	_, present := h.observers[o]
	delete(h.observers, o)
	h.mu.Unlock()

	o.once.Do(func() { close(o.done) })

	if present {
		if h.metrics != nil {
			h.metrics.ObserverRemoved()
		}
		h.logger.Printf("observer %s detached", o.id)
	}
}

// Broadcast delivers one event to every attached observer. The event
// is encoded once. An observer whose queue is full is skipped and
// detached after the delivery pass; the others are unaffected.
func (h *Hub) Broadcast(ev fleet.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("encode %s event: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.RUnlock()

	var stalled []*Observer
	for _, o := range targets {
		select {
		case o.send <- frame:
		default:
			stalled = append(stalled, o)
		}
	}
	for _, o := range stalled {
		h.logger.Printf("observer %s stalled, dropping", o.id)
		h.Unregister(o)
		if h.metrics != nil {
			h.metrics.ObserverDropped()
		}
	}

	if h.metrics != nil {
		h.metrics.EventBroadcast()
	}
}

// Len returns the number of attached observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
