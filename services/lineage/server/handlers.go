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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
	"github.com/AleutianAI/AleutianLineage/services/lineage/manifest"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
)

var requestValidate = validator.New()

// ReviewRequest is the body of POST /v1/review. Exactly one of Files,
// Patch and Changes describes the change set.
type ReviewRequest struct {
	ManifestPath    string                     `json:"manifest_path" validate:"omitempty,max=2048"`
	Files           []string                   `json:"files" validate:"omitempty,max=10000,dive,required"`
	Patch           string                     `json:"patch" validate:"omitempty,max=33554432"`
	Changes         []FileChange               `json:"changes" validate:"omitempty,max=10000,dive"`
	BaselineResults string                     `json:"baseline_results" validate:"omitempty,max=2048"`
	CurrentResults  string                     `json:"current_results" validate:"omitempty,max=2048"`
	Context         orchestrator.ReviewContext `json:"context"`
}

// FileChange is one explicitly described changed file.
type FileChange struct {
	Path      string `json:"path" validate:"required"`
	OldPath   string `json:"old_path"`
	Status    string `json:"status" validate:"omitempty,oneof=added modified deleted renamed copied"`
	Additions int    `json:"additions" validate:"gte=0"`
	Deletions int    `json:"deletions" validate:"gte=0"`
}

// changes converts the request into changed files.
func (r *ReviewRequest) changes() ([]changeset.File, error) {
	given := 0
	for _, set := range []bool{len(r.Files) > 0, r.Patch != "", len(r.Changes) > 0} {
		if set {
			given++
		}
	}
	if given != 1 {
		return nil, errors.New("exactly one of files, patch or changes is required")
	}

	switch {
	case len(r.Files) > 0:
		return changeset.FromList(r.Files), nil
	case r.Patch != "":
		return changeset.FromPatchBytes([]byte(r.Patch))
	default:
		out := make([]changeset.File, 0, len(r.Changes))
		for _, c := range r.Changes {
			status := changeset.Status(c.Status)
			if status == "" {
				status = changeset.StatusModified
			}
			out = append(out, changeset.File{
				Path:      c.Path,
				OldPath:   c.OldPath,
				Status:    status,
				Additions: c.Additions,
				Deletions: c.Deletions,
			})
		}
		return out, nil
	}
}

func (s *Server) handleReview(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := requestValidate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files, err := req.changes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.review.Review(c.Request.Context(), review.Request{
		ManifestPath:    req.ManifestPath,
		Changes:         files,
		BaselineResults: req.BaselineResults,
		CurrentResults:  req.CurrentResults,
		Context:         req.Context,
	})
	if err != nil {
		status := reviewErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("review failed", slog.String("error", err.Error()))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func reviewErrorStatus(err error) int {
	switch {
	case errors.Is(err, review.ErrNoManifest):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, manifest.ErrInvalidManifest), errors.Is(err, manifest.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.review.HealthCheck(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":     status.Healthy,
		"components":  status.Components,
		"timestamp":   status.Timestamp,
		"graph_cache": s.review.CacheStats(),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	filter := bus.HistoryFilter{
		Source: c.Query("source"),
		Type:   c.Query("type"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	events := s.bus.History(filter)
	if events == nil {
		events = []bus.AgentEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.Statistics())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// handleStream forwards live bus events to a websocket client. The
// optional type query parameter is a comma separated allow list.
func (s *Server) handleStream(c *gin.Context) {
	allowed := make(map[string]bool)
	for _, t := range strings.Split(c.Query("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			allowed[t] = true
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	sub := s.bus.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Clients only read; a failed read means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream client connected", slog.Int("types", len(allowed)))
	s.bus.Listen(ctx, sub, func(event bus.AgentEvent) {
		if len(allowed) > 0 && !allowed[event.Type] {
			return
		}
		if err := ws.WriteJSON(event); err != nil {
			s.logger.Debug("event stream write failed", slog.String("error", err.Error()))
			cancel()
		}
	})
	s.logger.Debug("event stream client disconnected")
}
