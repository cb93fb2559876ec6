// Package gate serves the endpoints the proxy layer calls: the auth
// subrequest, the stats collector and the health check.
package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lmgate/lmgate/internal/auth"
	"github.com/lmgate/lmgate/internal/sink"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

// HeaderLMGateID carries the allow-list entry id of an authorized caller.
const HeaderLMGateID = "X-LMGate-ID"

// maxStatsPayload bounds a collector POST: a capped body plus headers.
const maxStatsPayload = 8 << 20

// Handler serves the gate endpoints.
type Handler struct {
	allowlist *auth.AllowList
	stats     sink.Sink
}

// NewHandler creates a gate handler. Accepted captures are handed to stats.
func NewHandler(allowlist *auth.AllowList, stats sink.Sink) *Handler {
	if stats == nil {
		stats = sink.Discard{}
	}
	return &Handler{allowlist: allowlist, stats: stats}
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Auth answers an auth subrequest: 200 with the caller's LMGate id when the
// key is allow-listed, 403 otherwise.
func (h *Handler) Auth(c *gin.Context) {
	if h.allowlist == nil {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	key, err := auth.ExtractKey(c.Request.Header)
	if err != nil {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	entry, ok := h.allowlist.Lookup(key)
	if !ok {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	c.Header(HeaderLMGateID, entry.ID)
	c.String(http.StatusOK, "ok")
}

// Stats ingests a capture posted by the proxy. It always answers 200 so a
// malformed report never turns into an error on the reporting side.
func (h *Handler) Stats(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxStatsPayload)
	var capture usage.Capture
	if err := c.ShouldBindJSON(&capture); err != nil {
		log.Debugf("stats ingestion: decode capture: %v", err)
		c.String(http.StatusOK, "ok")
		return
	}
	h.stats.Deliver(c.Request.Context(), &capture)
	c.String(http.StatusOK, "ok")
}
