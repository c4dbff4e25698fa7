// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// ComponentHealth is the health of one routine.
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus aggregates routine health.
type HealthStatus struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentHealth `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthCheck asks every routine implementing HealthChecker for its
// health. Routines without a check are reported healthy. The run is
// healthy only when every component is.
func (o *Orchestrator) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:    true,
		Components: make([]ComponentHealth, 0, len(o.routines)),
		Timestamp:  time.Now().UTC(),
	}
	for _, r := range o.routines {
		c := ComponentHealth{Name: r.Name(), Healthy: true}
		if hc, ok := r.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				c.Healthy = false
				c.Error = err.Error()
				o.logger.Warn("routine unhealthy",
					slog.String("routine", r.Name()),
					slog.String("error", err.Error()),
				)
			}
		}
		status.Healthy = status.Healthy && c.Healthy
		status.Components = append(status.Components, c)
	}
	return status
}
