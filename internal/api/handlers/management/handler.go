// Package management exposes read-only usage views over HTTP.
package management

import "github.com/lmgate/lmgate/internal/usage"

// Handler serves the management endpoints.
type Handler struct {
	usageStats *usage.Statistics
}

// NewHandler creates a management handler reading from stats.
func NewHandler(stats *usage.Statistics) *Handler {
	return &Handler{usageStats: stats}
}
