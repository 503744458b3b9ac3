// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dropchain/internal/http/middleware"
	"dropchain/internal/log"
	"dropchain/internal/modules/arbitration"
	"dropchain/internal/modules/ledger"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/matching"
	"dropchain/internal/modules/order"
	"dropchain/internal/modules/pricing"
	"dropchain/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	// Status is the last known order status, State the dispute state.
	Status string `json:"status,omitempty"`
	State  string `json:"state,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, arbitration.ErrInvalidVote),
		errors.Is(err, pricing.ErrInvalidQuote):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, arbitration.ErrDisputeNotFound),
		errors.Is(err, location.ErrNoPosition),
		errors.Is(err, matching.ErrNoCourier):
		return http.StatusNotFound
	case errors.Is(err, order.ErrStateConflict),
		errors.Is(err, order.ErrDuplicateOrderID),
		errors.Is(err, order.ErrNotInDelivery),
		errors.Is(err, order.ErrCourierIneligible),
		errors.Is(err, arbitration.ErrAlreadyVoted),
		errors.Is(err, arbitration.ErrDisputeNotOpen),
		errors.Is(err, arbitration.ErrResolutionInProgress),
		errors.Is(err, arbitration.ErrNotResolvable):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, ledger.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.L(c.Request.Context()).WithError(err).Error("request failed")
		writeError(c, code, "internal error")
		return
	}
	resp := errorResponse{Error: err.Error()}
	if st, ok := order.StatusOf(err); ok {
		resp.Status = string(st)
	}
	var de *arbitration.Error
	if errors.As(err, &de) {
		resp.State = string(de.State)
	}
	writeJSON(c, code, resp)
}

func callerActor(c *gin.Context) order.Actor {
	return order.Actor{
		ID:   types.ID(middleware.CallerUID(c)),
		Role: types.Role(middleware.CallerRole(c)),
	}
}

// callOptions reads ?degraded=true and ?timeout_ms=N.
func callOptions(c *gin.Context) order.CallOptions {
	var opts order.CallOptions
	opts.Degraded, _ = strconv.ParseBool(c.Query("degraded"))
	if ms, err := strconv.Atoi(c.Query("timeout_ms")); err == nil && ms > 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	return opts
}

func orderIDParam(c *gin.Context) (types.OrderID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return types.OrderID(id), true
}

func requireRole(c *gin.Context, role types.Role) bool {
	if types.Role(middleware.CallerRole(c)) != role {
		writeError(c, http.StatusForbidden, "forbidden: "+string(role)+" role required")
		return false
	}
	return true
}
