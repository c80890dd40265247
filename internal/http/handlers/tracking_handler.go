// README: Tracking handlers: sample ingest and snapshot-on-demand.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/hub"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/ingest"
)

type TrackingHandler struct {
	gateway *ingest.Gateway
	hub     *hub.Hub
}

func NewTrackingHandler(gateway *ingest.Gateway, h *hub.Hub) *TrackingHandler {
	return &TrackingHandler{gateway: gateway, hub: h}
}

// Ingest accepts one location sample from a driver app or live tracker.
// Only validation failures surface as HTTP errors; an out-of-order sample
// is a normal acknowledgment the producer may log and ignore.
func (h *TrackingHandler) Ingest(c *gin.Context) {
	var p ingest.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ack := h.gateway.Accept(c.Request.Context(), p)
	if ack.Outcome == ingest.OutcomeRejected {
		writeJSON(c, http.StatusBadRequest, ack)
		return
	}
	writeJSON(c, http.StatusOK, ack)
}

// Entities is the polling fallback: the same view a websocket subscriber
// receives on join, for one scope.
func (h *TrackingHandler) Entities(c *gin.Context) {
	scope, err := hub.ParseScope(c.Query("scope"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"scope":    scope.String(),
		"entities": h.hub.SnapshotForScope(scope),
	})
}
