// Package api assembles the LMGate HTTP API: the gate endpoints used by the
// proxy layer and the management views over collected usage.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lmgate/lmgate/internal/api/handlers/gate"
	"github.com/lmgate/lmgate/internal/api/handlers/management"
	"github.com/lmgate/lmgate/internal/auth"
	"github.com/lmgate/lmgate/internal/sink"
	"github.com/lmgate/lmgate/internal/telemetry"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

// Options wires the API's collaborators.
type Options struct {
	ServiceName string
	AllowList   *auth.AllowList
	Stats       sink.Sink
	Statistics  *usage.Statistics
}

// NewRouter builds the API router.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if opts.ServiceName != "" {
		r.Use(telemetry.GinMiddleware(opts.ServiceName))
	}

	g := gate.NewHandler(opts.AllowList, opts.Stats)
	r.GET("/healthz", g.Healthz)
	r.GET("/auth", g.Auth)
	r.POST("/stats", g.Stats)

	m := management.NewHandler(opts.Statistics)
	mgmt := r.Group("/v0/management")
	mgmt.GET("/usage", m.GetUsageStatistics)
	mgmt.GET("/logs", m.GetUsageLogs)
	return r
}

// requestLogger logs API calls at debug level. Request headers are never
// logged since /auth and /stats carry credentials.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("api request")
	}
}
