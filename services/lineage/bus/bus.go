// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus is the process-wide event channel used by the analysis
// components to publish lifecycle events.
//
// The bus keeps two things apart. History is a capped, ordered record of
// every published event and never drops an entry except by batch eviction.
// Live delivery is lossy: each subscriber gets a buffered channel and a
// subscriber that stops receiving misses events instead of blocking the
// publisher.
//
// A separate interest registry (RegisterSubscriber) records which named
// components care about which event types. It feeds Statistics only and
// never filters delivery.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHistoryLimit is the soft cap on retained events.
	DefaultHistoryLimit = 10000

	// DefaultEvictBatch is how many of the oldest events are dropped once
	// the history exceeds its limit.
	DefaultEvictBatch = 1000

	// DefaultSubscriberBuffer is the channel capacity per live subscriber.
	DefaultSubscriberBuffer = 1000
)

// AgentEvent is a single entry in the event log.
type AgentEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source_name"`
	Type      string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
}

// Publisher is the write side of the bus. Components depend on this
// rather than on *Bus so tests can record events directly.
type Publisher interface {
	Publish(event AgentEvent)
	Emit(source, eventType string, payload any) AgentEvent
}

// Bus is a bounded-history publish/subscribe hub.
//
// Thread Safety: Bus is safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	history    []AgentEvent
	limit      int
	evictBatch int

	// interest registry: event type -> subscriber names
	interest map[string][]string

	subMu     sync.RWMutex
	subs      map[uint64]chan AgentEvent
	nextSub   uint64
	subBuffer int
	dropped   atomic.Int64
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryLimit sets the history cap and eviction batch size.
func WithHistoryLimit(limit, evictBatch int) Option {
	return func(b *Bus) {
		if limit > 0 {
			b.limit = limit
		}
		if evictBatch > 0 {
			b.evictBatch = evictBatch
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.subBuffer = n
		}
	}
}

// WithLogger sets the logger used by Listen for handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		limit:      DefaultHistoryLimit,
		evictBatch: DefaultEvictBatch,
		subBuffer:  DefaultSubscriberBuffer,
		interest:   make(map[string][]string),
		subs:       make(map[uint64]chan AgentEvent),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.history = make([]AgentEvent, 0, 256)
	return b
}

var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default returns the process-wide bus, creating it on first use.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

// Publish appends event to the history and fans it out to live
// subscribers. A missing ID or timestamp is filled in.
//
// Fanout happens while the history lock is held, so every subscriber
// observes events in history order. Sends never block.
func (b *Bus) Publish(event AgentEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.limit {
		evict := b.evictBatch
		if evict > len(b.history) {
			evict = len(b.history)
		}
		kept := make([]AgentEvent, len(b.history)-evict, b.limit)
		copy(kept, b.history[evict:])
		b.history = kept
	}

	b.subMu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	b.subMu.RUnlock()
}

// Emit builds an event from its parts, publishes it and returns it.
func (b *Bus) Emit(source, eventType string, payload any) AgentEvent {
	event := AgentEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Source:    source,
		Type:      eventType,
		Payload:   payload,
	}
	b.Publish(event)
	return event
}

// RegisterSubscriber records that name is interested in eventTypes.
func (b *Bus) RegisterSubscriber(name string, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range eventTypes {
		b.interest[t] = append(b.interest[t], name)
	}
}

// HistoryFilter selects events from History. Empty fields match all.
type HistoryFilter struct {
	Source string
	Type   string

	// Limit, when positive, returns at most Limit events, most recent
	// first. Otherwise events come back in publish order.
	Limit int
}

// History returns retained events matching filter.
func (b *Bus) History(filter HistoryFilter) []AgentEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matches := make([]AgentEvent, 0, len(b.history))
	for _, e := range b.history {
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		matches = append(matches, e)
	}

	if filter.Limit <= 0 {
		return matches
	}

	n := filter.Limit
	if n > len(matches) {
		n = len(matches)
	}
	out := make([]AgentEvent, n)
	for i := 0; i < n; i++ {
		out[i] = matches[len(matches)-1-i]
	}
	return out
}

// ClearHistory discards all retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = make([]AgentEvent, 0, 256)
}

// SubscriberCount returns the number of names registered for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.interest[eventType])
}

// HasSubscribers reports whether any name is registered for eventType.
func (b *Bus) HasSubscribers(eventType string) bool {
	return b.SubscriberCount(eventType) > 0
}
