// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Subscription is a live receiver. It sees only events published after
// Subscribe returned.
type Subscription struct {
	// C delivers events. It is closed by Close.
	C <-chan AgentEvent

	id    uint64
	bus   *Bus
	close sync.Once
}

// Subscribe creates a live receiver with a buffered channel.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan AgentEvent, b.subBuffer)

	b.subMu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = ch
	b.subMu.Unlock()

	return &Subscription{C: ch, id: id, bus: b}
}

// Close detaches the subscription and closes C. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.close.Do(func() {
		s.bus.subMu.Lock()
		ch, ok := s.bus.subs[s.id]
		delete(s.bus.subs, s.id)
		s.bus.subMu.Unlock()
		if ok {
			close(ch)
		}
	})
}

// Handler processes a delivered event.
type Handler func(event AgentEvent)

// Listen calls handler for every event delivered to sub until ctx is done
// or the subscription is closed. A panicking handler is logged and the
// loop continues.
//
// Listen blocks; run it in its own goroutine.
func (b *Bus) Listen(ctx context.Context, sub *Subscription, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			b.safeInvoke(handler, event)
		}
	}
}

func (b *Bus) safeInvoke(handler Handler, event AgentEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event_type", event.Type),
				slog.String("event_id", event.ID),
				slog.Any("panic", r),
			)
		}
	}()
	handler(event)
}
