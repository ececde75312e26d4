package api

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SystemHealth is the response of GET /system/health.
type SystemHealth struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"` // Component name to status
}

// Healthy reports whether the backend declared itself usable.
func (h SystemHealth) Healthy() bool {
	switch strings.ToLower(h.Status) {
	case "ok", "healthy", "up":
		return true
	}
	return false
}

// Degraded returns the names of services not reporting a healthy status.
func (h SystemHealth) Degraded() []string {
	var out []string
	for name, status := range h.Services {
		if !(SystemHealth{Status: status}).Healthy() {
			out = append(out, name)
		}
	}
	return out
}

// GetSystemHealth fetches backend health.
func (c *Client) GetSystemHealth(ctx context.Context) (*SystemHealth, error) {
	var h SystemHealth
	if err := c.get(ctx, "/system/health", &h); err != nil {
		return nil, fmt.Errorf("get system health: %w", err)
	}
	return &h, nil
}
