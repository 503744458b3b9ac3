// README: Courier handlers (live position, nearby search, availability, dispatch).
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dropchain/internal/http/middleware"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/matching"
	"dropchain/internal/types"
)

// Availability toggles whether a courier can be assigned. Nil when roles live on the ledger.
type Availability interface {
	SetAvailable(ctx context.Context, courier types.ID, available bool) error
}

type CourierHandler struct {
	location     *location.Service
	matching     *matching.Service
	availability Availability
}

func NewCourierHandler(loc *location.Service, m *matching.Service, avail Availability) *CourierHandler {
	return &CourierHandler{location: loc, matching: m, availability: avail}
}

func (h *CourierHandler) Nearby(c *gin.Context) {
	if !requireRole(c, types.RolePlatform) {
		return
	}
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(c, http.StatusBadRequest, "lat and lng required")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "3"), 64)
	if err != nil || radius <= 0 {
		writeError(c, http.StatusBadRequest, "invalid radius_km")
		return
	}
	couriers, err := h.location.NearbyCouriers(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, couriers)
}

func (h *CourierHandler) Position(c *gin.Context) {
	id := c.Param("id")
	if middleware.CallerRole(c) != string(types.RolePlatform) && middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	pos, err := h.location.CourierPosition(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, pos)
}

type availabilityReq struct {
	Available bool `json:"available"`
}

// SetAvailability lets a courier go on or off shift.
func (h *CourierHandler) SetAvailability(c *gin.Context) {
	id := c.Param("id")
	if middleware.CallerRole(c) != string(types.RoleCourier) {
		writeError(c, http.StatusForbidden, "forbidden: courier role required")
		return
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	if h.availability == nil {
		writeError(c, http.StatusNotImplemented, "availability is managed on the ledger")
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.availability.SetAvailable(c.Request.Context(), types.ID(id), req.Available); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"courier_id": id, "available": req.Available})
}

type dispatchReq struct {
	Pickup   types.Point `json:"pickup"`
	RadiusKm float64     `json:"radius_km"`
}

// Dispatch assigns the nearest eligible courier to the order.
func (h *CourierHandler) Dispatch(c *gin.Context) {
	if !requireRole(c, types.RolePlatform) {
		return
	}
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req dispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.matching.Dispatch(c.Request.Context(), matching.DispatchCommand{
		OrderID:  id,
		Actor:    callerActor(c),
		Pickup:   req.Pickup,
		RadiusKm: req.RadiusKm,
		Options:  callOptions(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"order":   toOrderResponse(res.Order),
		"courier": res.Courier,
		"skipped": res.Skipped,
	})
}
