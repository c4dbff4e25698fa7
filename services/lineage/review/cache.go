// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package review

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/manifest"
)

// DefaultCacheTTL bounds how long a built graph is reused.
const DefaultCacheTTL = 5 * time.Minute

// Entry is a built graph and the manifest it came from.
type Entry struct {
	Store    *graph.Store
	Manifest *manifest.Manifest
	BuiltAt  time.Time

	// modTime is the manifest file's modification time; zero for remote
	// locations.
	modTime time.Time
}

// BuildFunc loads a manifest and builds its graph.
type BuildFunc func(ctx context.Context, location string) (*Entry, error)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Builds  int64 `json:"builds"`
}

// GraphCache shares built graphs between reviews of the same manifest.
//
// Concurrent requests for a location that is not cached trigger a single
// build. A local entry is rebuilt when the file's modification time
// changes; any entry is rebuilt after the TTL.
//
// Thread Safety: GraphCache is safe for concurrent use.
type GraphCache struct {
	ttl    time.Duration
	flight singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Entry

	hits   atomic.Int64
	misses atomic.Int64
	builds atomic.Int64
}

// NewGraphCache creates a cache. A ttl of zero or less uses DefaultCacheTTL.
func NewGraphCache(ttl time.Duration) *GraphCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &GraphCache{ttl: ttl, entries: make(map[string]*Entry)}
}

// GetOrBuild returns the cached entry for location or builds one.
func (c *GraphCache) GetOrBuild(ctx context.Context, location string, build BuildFunc) (*Entry, error) {
	if e, ok := c.get(location); ok {
		c.hits.Add(1)
		return e, nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(location, func() (any, error) {
		modTime := localModTime(location)
		e, err := build(ctx, location)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		e.modTime = modTime

		c.mu.Lock()
		c.entries[location] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *GraphCache) get(location string) (*Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[location]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.BuiltAt) > c.ttl || !localModTime(location).Equal(e.modTime) {
		c.Invalidate(location)
		return nil, false
	}
	return e, true
}

// Invalidate drops the entry for location.
func (c *GraphCache) Invalidate(location string) {
	c.mu.Lock()
	delete(c.entries, location)
	c.mu.Unlock()
}

// Stats returns a snapshot of cache counters.
func (c *GraphCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Builds:  c.builds.Load(),
	}
}

func localModTime(location string) time.Time {
	if manifest.IsRemote(location) {
		return time.Time{}
	}
	info, err := os.Stat(location)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
