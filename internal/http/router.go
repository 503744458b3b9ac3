// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dropchain/internal/http/handlers"
	"dropchain/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	quotes := handlers.NewQuoteHandler(deps.Pricing)
	api.POST("/quotes", quotes.Quote)

	orders := handlers.NewOrderHandler(deps.Order, deps.Arbitration)
	api.POST("/orders", orders.Create)
	api.GET("/orders/:id", orders.Get)
	api.POST("/orders/:id/prepare", orders.Prepare)
	api.POST("/orders/:id/assign", orders.Assign)
	api.POST("/orders/:id/pickup", orders.Pickup)
	api.POST("/orders/:id/deliver", orders.Deliver)
	api.POST("/orders/:id/dispute", orders.Dispute)
	api.POST("/orders/:id/gps", orders.RecordGPS)
	api.GET("/orders/:id/trail", orders.Trail)
	api.GET("/orders/:id/events", orders.Events)
	api.GET("/reconciliation/debts", orders.ReconciliationDebts)

	disputes := handlers.NewDisputeHandler(deps.Arbitration, deps.QuorumThreshold)
	api.GET("/disputes/:id", disputes.Get)
	api.POST("/disputes/:id/votes", disputes.Vote)
	api.POST("/disputes/:id/resolve", disputes.Resolve)

	couriers := handlers.NewCourierHandler(deps.Location, deps.Matching, deps.Availability)
	api.GET("/couriers/nearby", couriers.Nearby)
	api.GET("/couriers/:id/position", couriers.Position)
	api.PUT("/couriers/:id/availability", couriers.SetAvailability)
	api.POST("/orders/:id/dispatch", couriers.Dispatch)

	return r
}
