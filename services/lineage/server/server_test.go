// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/config"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
)

const testManifest = `{
  "metadata": {"dbt_version": "1.7.4", "adapter_type": "postgres"},
  "nodes": {
    "model.shop.orders": {
      "name": "orders",
      "resource_type": "model",
      "original_file_path": "models/marts/orders.sql",
      "description": "Orders mart"
    },
    "test.shop.not_null_orders_id": {
      "name": "not_null_orders_id",
      "resource_type": "test",
      "original_file_path": "models/marts/schema.yml",
      "depends_on": {"nodes": ["model.shop.orders"]}
    }
  }
}`

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server *Server
	bus    *bus.Bus
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o600))

	cfg := config.DefaultConfig()
	cfg.Manifest.Path = path
	cfg.Server.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	b := bus.New(bus.WithLogger(logger))
	svc := review.New(cfg, review.WithBus(b), review.WithLogger(logger))
	t.Cleanup(func() { _ = svc.Close() })

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "lineage_review_total 1\n")
	})
	return fixture{
		server: New(svc, b, cfg.Server, WithLogger(logger), WithMetricsHandler(metrics)),
		bus:    b,
	}
}

func (f fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestReview_Files(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/review", ReviewRequest{
		Files: []string{"models/marts/orders.sql"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		ChangedIDs []string `json:"changed_ids"`
		Report     struct {
			ApprovalStatus string         `json:"approval_status"`
			Reports        map[string]any `json:"reports"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []string{"model.shop.orders"}, res.ChangedIDs)
	assert.Len(t, res.Report.Reports, 3)
	assert.NotEmpty(t, res.Report.ApprovalStatus)
}

func TestReview_Patch(t *testing.T) {
	f := newFixture(t, nil)

	patch := "diff --git a/models/marts/orders.sql b/models/marts/orders.sql\n" +
		"index 1111111..2222222 100644\n" +
		"--- a/models/marts/orders.sql\n" +
		"+++ b/models/marts/orders.sql\n" +
		"@@ -1 +1 @@\n" +
		"-select 1\n" +
		"+select 2\n"
	rec := f.do(t, http.MethodPost, "/v1/review", ReviewRequest{Patch: patch})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "model.shop.orders")
}

func TestReview_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := map[string]ReviewRequest{
		"no change set":   {},
		"two change sets": {Files: []string{"a.sql"}, Patch: "diff"},
		"bad status":      {Changes: []FileChange{{Path: "a.sql", Status: "exploded"}}},
		"empty path":      {Changes: []FileChange{{Path: ""}}},
		"negative count":  {Changes: []FileChange{{Path: "a.sql", Additions: -1}}},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/review", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/review", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReview_MissingManifest(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/review", ReviewRequest{
		ManifestPath: filepath.Join(t.TempDir(), "nope.json"),
		Files:        []string{"models/marts/orders.sql"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReview_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.Burst = 1
	})
	body := ReviewRequest{Files: []string{"models/marts/orders.sql"}}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/review", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/v1/review", body).Code)

	// health is not limited
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/health", nil).Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Healthy    bool             `json:"healthy"`
		Components []map[string]any `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Healthy)
	assert.Len(t, body.Components, 3)
}

func TestEvents_HistoryAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.bus.Emit("test", "alpha", nil)
	f.bus.Emit("test", "beta", nil)
	f.bus.Emit("other", "alpha", nil)

	rec := f.do(t, http.MethodGet, "/v1/events?type=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Count  int              `json:"count"`
		Events []bus.AgentEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, 2, hist.Count)

	rec = f.do(t, http.MethodGet, "/v1/events?source=test&limit=1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Equal(t, 1, hist.Count)
	assert.Equal(t, "beta", hist.Events[0].Type)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/events?limit=x", nil).Code)

	rec = f.do(t, http.MethodGet, "/v1/events/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats bus.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventsByType["alpha"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lineage_review_total")
}

func TestEvents_Stream(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/stream?type=ping"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// The subscription is created after the upgrade; keep publishing
	// until the client sees an event.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				f.bus.Emit("test", "ignored", nil)
				f.bus.Emit("test", "ping", map[string]any{"n": 1})
			}
		}
	}()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event bus.AgentEvent
	require.NoError(t, ws.ReadJSON(&event))
	assert.Equal(t, "ping", event.Type)
	assert.Equal(t, "test", event.Source)
}
