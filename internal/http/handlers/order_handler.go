// README: Order handlers for the lifecycle transitions, GPS trail and audit events.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dropchain/internal/modules/arbitration"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

type OrderHandler struct {
	order    *order.Service
	disputes *arbitration.Engine
}

func NewOrderHandler(svc *order.Service, disputes *arbitration.Engine) *OrderHandler {
	return &OrderHandler{order: svc, disputes: disputes}
}

type orderResponse struct {
	ID          types.OrderID    `json:"order_id"`
	LedgerTxRef string           `json:"ledger_tx_ref"`
	Status      order.Status     `json:"status"`
	Version     int              `json:"status_version"`
	ClientID    types.ID         `json:"client_id"`
	MerchantID  types.ID         `json:"merchant_id"`
	CourierID   *types.ID        `json:"courier_id,omitempty"`
	LineItems   []order.LineItem `json:"line_items"`
	Breakdown   order.Breakdown  `json:"breakdown"`
	Dispute     *disputeInfo     `json:"dispute,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	PreparingAt *time.Time       `json:"preparing_at,omitempty"`
	AssignedAt  *time.Time       `json:"assigned_at,omitempty"`
	PickedUpAt  *time.Time       `json:"picked_up_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

type disputeInfo struct {
	Reason      string        `json:"reason"`
	EvidenceRef *string       `json:"evidence_ref,omitempty"`
	From        *order.Status `json:"from,omitempty"`
	At          *time.Time    `json:"at,omitempty"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		LedgerTxRef: o.LedgerTxRef,
		Status:      o.Status,
		Version:     o.StatusVersion,
		ClientID:    o.ClientID,
		MerchantID:  o.MerchantID,
		CourierID:   o.CourierID,
		LineItems:   o.LineItems,
		Breakdown:   o.Breakdown,
		CreatedAt:   o.CreatedAt,
		PreparingAt: o.PreparingAt,
		AssignedAt:  o.AssignedAt,
		PickedUpAt:  o.PickedUpAt,
		CompletedAt: o.CompletedAt,
		ResolvedAt:  o.ResolvedAt,
	}
	if o.DisputeReason != nil {
		resp.Dispute = &disputeInfo{
			Reason:      *o.DisputeReason,
			EvidenceRef: o.DisputeEvidenceRef,
			From:        o.DisputedFrom,
			At:          o.DisputedAt,
		}
	}
	return resp
}

type createOrderReq struct {
	IdempotencyKey string           `json:"idempotency_key"`
	MerchantID     string           `json:"merchant_id"`
	LineItems      []order.LineItem `json:"line_items"`
	Breakdown      order.Breakdown  `json:"breakdown"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	if !requireRole(c, types.RoleClient) {
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader("Idempotency-Key")
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		Actor:          callerActor(c),
		IdempotencyKey: key,
		MerchantID:     types.ID(req.MerchantID),
		LineItems:      req.LineItems,
		Breakdown:      req.Breakdown,
		Options:        callOptions(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toOrderResponse(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden: not a party to this order")
		return
	}
	writeJSON(c, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) Prepare(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	h.respond(c)(h.order.ConfirmPreparation(c.Request.Context(), order.ConfirmPreparationCommand{
		OrderID: id, Actor: callerActor(c), Options: callOptions(c),
	}))
}

type assignReq struct {
	CourierID string `json:"courier_id"`
}

func (h *OrderHandler) Assign(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.CourierID == "" {
		writeError(c, http.StatusBadRequest, "courier_id required")
		return
	}
	h.respond(c)(h.order.AssignCourier(c.Request.Context(), order.AssignCourierCommand{
		OrderID: id, Actor: callerActor(c), CourierID: types.ID(req.CourierID), Options: callOptions(c),
	}))
}

func (h *OrderHandler) Pickup(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	h.respond(c)(h.order.ConfirmPickup(c.Request.Context(), order.ConfirmPickupCommand{
		OrderID: id, Actor: callerActor(c), Options: callOptions(c),
	}))
}

func (h *OrderHandler) Deliver(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	h.respond(c)(h.order.ConfirmDelivery(c.Request.Context(), order.ConfirmDeliveryCommand{
		OrderID: id, Actor: callerActor(c), Options: callOptions(c),
	}))
}

type disputeReq struct {
	Reason      string `json:"reason"`
	EvidenceRef string `json:"evidence_ref"`
}

func (h *OrderHandler) Dispute(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req disputeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.disputes.OpenDispute(c.Request.Context(), order.OpenDisputeCommand{
		OrderID: id, Actor: callerActor(c), Reason: req.Reason, EvidenceRef: req.EvidenceRef, Options: callOptions(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toDisputeResponse(d, nil, 0))
}

func (h *OrderHandler) RecordGPS(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var sample types.Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.order.RecordLocation(c.Request.Context(), order.RecordLocationCommand{
		OrderID: id, Actor: callerActor(c), Sample: sample,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, map[string]any{"status": "ok"})
}

func (h *OrderHandler) Trail(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden: not a party to this order")
		return
	}
	trail, err := h.order.Trail(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"order_id":    id,
		"samples":     trail,
		"distance_km": location.TrailDistanceKm(trail),
	})
}

type eventResponse struct {
	ID          int64        `json:"id"`
	From        order.Status `json:"from"`
	To          order.Status `json:"to"`
	ActorType   types.Role   `json:"actor_type"`
	ActorID     *types.ID    `json:"actor_id,omitempty"`
	LedgerTxRef string       `json:"ledger_tx_ref"`
	Synthetic   bool         `json:"synthetic"`
	CreatedAt   time.Time    `json:"created_at"`
}

func toEventResponses(events []order.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID: e.ID, From: e.FromStatus, To: e.ToStatus, ActorType: e.ActorType, ActorID: e.ActorID,
			LedgerTxRef: e.LedgerTxRef, Synthetic: e.Synthetic, CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func (h *OrderHandler) Events(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden: not a party to this order")
		return
	}
	events, err := h.order.Events(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toEventResponses(events))
}

// ReconciliationDebts lists transitions committed in degraded mode.
func (h *OrderHandler) ReconciliationDebts(c *gin.Context) {
	if !requireRole(c, types.RolePlatform) {
		return
	}
	events, err := h.order.ReconciliationDebts(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toEventResponses(events))
}

func (h *OrderHandler) respond(c *gin.Context) func(*order.Order, error) {
	return func(o *order.Order, err error) {
		if err != nil {
			writeDomainError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, toOrderResponse(o))
	}
}

func canView(c *gin.Context, o *order.Order) bool {
	a := callerActor(c)
	switch a.Role {
	case types.RolePlatform:
		return true
	case types.RoleClient:
		return o.ClientID == a.ID
	case types.RoleMerchant:
		return o.MerchantID == a.ID
	case types.RoleCourier:
		return o.IsCourier(a.ID)
	}
	return false
}
