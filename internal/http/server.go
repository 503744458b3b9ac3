// README: API gateway; owns the HTTP server and its graceful shutdown.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"dropchain/internal/http/handlers"
	"dropchain/internal/infra"
	"dropchain/internal/log"
	"dropchain/internal/modules/arbitration"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/matching"
	"dropchain/internal/modules/order"
	"dropchain/internal/modules/pricing"
)

type ServerDeps struct {
	Order        *order.Service
	Arbitration  *arbitration.Engine
	Pricing      *pricing.Service
	Location     *location.Service
	Matching     *matching.Service
	Availability handlers.Availability
	Verifier     infra.TokenVerifier
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer        prometheus.Gatherer
	QuorumThreshold int64
}

type Server struct {
	srv *http.Server
}

func NewServer(addr string, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.L(ctx).Infof("http listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
