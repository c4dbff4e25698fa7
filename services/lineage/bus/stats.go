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

// Statistics summarises the bus state.
type Statistics struct {
	// TotalEvents is the number of retained events.
	TotalEvents int `json:"total_events"`

	// TotalSubscribers counts registered names across all event types.
	TotalSubscribers int `json:"total_subscribers"`

	EventsBySource map[string]int `json:"events_by_source"`
	EventsByType   map[string]int `json:"events_by_type"`

	// ActiveSubscribers is the number of event types with at least one
	// registered name.
	ActiveSubscribers int `json:"active_subscribers"`

	// LiveSubscribers is the number of open Subscriptions.
	LiveSubscribers int `json:"live_subscribers"`

	// Dropped counts deliveries skipped because a subscriber's buffer
	// was full.
	Dropped int64 `json:"dropped"`
}

// Statistics computes counts over the retained history and registries.
func (b *Bus) Statistics() Statistics {
	b.mu.RLock()
	stats := Statistics{
		TotalEvents:    len(b.history),
		EventsBySource: make(map[string]int),
		EventsByType:   make(map[string]int),
	}
	for _, e := range b.history {
		stats.EventsBySource[e.Source]++
		stats.EventsByType[e.Type]++
	}
	for _, names := range b.interest {
		stats.TotalSubscribers += len(names)
		if len(names) > 0 {
			stats.ActiveSubscribers++
		}
	}
	b.mu.RUnlock()

	b.subMu.RLock()
	stats.LiveSubscribers = len(b.subs)
	b.subMu.RUnlock()

	stats.Dropped = b.dropped.Load()
	return stats
}
