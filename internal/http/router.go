// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/http/handlers"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/http/middleware"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/hub"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/ingest"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/ws"
)

type RouterDeps struct {
	Gateway *ingest.Gateway
	Hub     *hub.Hub
	WS      *ws.Handler
	Logger  *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	engine := gin.New()
	engine.Use(middleware.Logging(deps.Logger), middleware.Recovery())

	trackingHandler := handlers.NewTrackingHandler(deps.Gateway, deps.Hub)
	engine.POST("/api/tracking/location", trackingHandler.Ingest)
	engine.GET("/api/tracking/entities", trackingHandler.Entities)

	engine.GET("/ws", gin.WrapF(deps.WS.Serve))

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return engine
}
