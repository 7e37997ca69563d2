package controller

import (
	"log/slog"
	"sync"

	"zwave-controller-core/internal/node"
)

// EventKind identifies the variant carried by an Event, replacing the
// teacher's ad-hoc string event names (internal/coordinator/events.go)
// with a closed sum type per spec.md §9 "Typed event emitter".
type EventKind int

const (
	EventInclusionStarted EventKind = iota
	EventInclusionStopped
	EventInclusionFailed
	EventExclusionStarted
	EventExclusionStopped
	EventExclusionFailed
	EventNodeAdded
	EventNodeRemoved
	EventHealNetworkProgress
	EventHealNetworkDone
)

// HealNodeState is one node's entry in a heal-progress snapshot (spec §3
// "healProgress", §6 "heal network progress(snapshot)").
type HealNodeState int

const (
	HealPending HealNodeState = iota
	HealDone
	HealFailed
	HealSkipped
)

// Event is the single payload type carried through the bus; only the
// fields relevant to Kind are populated. A closed sum type in spirit
// (Kind selects the active fields) without resorting to Go interfaces,
// which would make Emit's call sites uglier for the handful of variants
// this bus actually carries.
type Event struct {
	Kind EventKind

	// EventInclusionStarted
	Secure bool

	// EventNodeAdded, EventNodeRemoved
	Node *node.Node
	// EventNodeRemoved
	Replaced bool

	// EventHealNetworkProgress, EventHealNetworkDone
	HealSnapshot map[uint8]HealNodeState
}

// EventHandler receives published Events.
type EventHandler func(Event)

// EventBus is the Event Bus component (C9). Synchronous, panic-recovering
// dispatch; the order in which handlers run is not defined. Mirrors the teacher's EventBus
// (internal/coordinator/events.go) but keyed by EventKind instead of a
// string and carrying a typed Event instead of interface{} data.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventKind]map[uint64]EventHandler
	all      map[uint64]EventHandler
	nextID   uint64
	logger   *slog.Logger
}

// NewEventBus creates an empty EventBus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[EventKind]map[uint64]EventHandler),
		all:      make(map[uint64]EventHandler),
		logger:   logger,
	}
}

// On subscribes handler to events of kind only. Returns an unsubscribe func.
func (b *EventBus) On(kind EventKind, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]EventHandler)
	}
	b.handlers[kind][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[kind], id)
	}
}

// OnAll subscribes handler to every event kind.
func (b *EventBus) OnAll(handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.all[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Emit publishes ev to every matching subscriber synchronously. Per-call
// dispatch order across subscribers is not guaranteed (handlers is built
// from map iteration), but calls to Emit itself happen one at a time from
// the controller's own sequential handlers, so each subscriber still
// observes events in the order they are emitted, matching spec §5's
// "events ... observed in the order they are emitted". A panicking
// handler is recovered and logged so one misbehaving listener cannot
// break the emitter or its caller's state machine.
func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[ev.Kind])+len(b.all))
	for _, h := range b.handlers[ev.Kind] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "kind", ev.Kind, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
