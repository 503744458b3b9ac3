// README: Dispute handlers (tally lookup, weighted votes, resolution).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dropchain/internal/modules/arbitration"
	"dropchain/internal/types"
)

type DisputeHandler struct {
	engine *arbitration.Engine
	quorum int64
}

func NewDisputeHandler(engine *arbitration.Engine, quorum int64) *DisputeHandler {
	return &DisputeHandler{engine: engine, quorum: quorum}
}

type voteResponse struct {
	Voter   string              `json:"voter"`
	Outcome arbitration.Outcome `json:"outcome"`
	Power   int64               `json:"power"`
	CastAt  time.Time           `json:"cast_at"`
}

type disputeResponse struct {
	ID              types.OrderID        `json:"dispute_id"`
	State           arbitration.State    `json:"state"`
	Tally           arbitration.Tally    `json:"tally"`
	Leading         *arbitration.Outcome `json:"leading,omitempty"`
	Resolvable      bool                 `json:"resolvable"`
	Outcome         *arbitration.Outcome `json:"outcome,omitempty"`
	RefundPercent   *int                 `json:"refund_percent,omitempty"`
	ResolutionTxRef *string              `json:"resolution_tx_ref,omitempty"`
	OrderFinalized  bool                 `json:"order_finalized"`
	OpenedAt        time.Time            `json:"opened_at"`
	ResolvedAt      *time.Time           `json:"resolved_at,omitempty"`
	Votes           []voteResponse       `json:"votes,omitempty"`
}

func toDisputeResponse(d *arbitration.Dispute, votes []arbitration.Vote, quorum int64) disputeResponse {
	resp := disputeResponse{
		ID:              d.ID,
		State:           d.State,
		Tally:           d.Tally,
		Leading:         d.Tally.Leading(),
		Resolvable:      d.State == arbitration.StateOpen && quorum > 0 && d.Tally.Resolvable(quorum),
		Outcome:         d.Outcome,
		RefundPercent:   d.RefundPercent,
		ResolutionTxRef: d.ResolutionTxRef,
		OrderFinalized:  d.OrderFinalized,
		OpenedAt:        d.OpenedAt,
		ResolvedAt:      d.ResolvedAt,
	}
	for _, v := range votes {
		resp.Votes = append(resp.Votes, voteResponse{Voter: v.Voter, Outcome: v.Outcome, Power: v.Power, CastAt: v.CastAt})
	}
	return resp
}

func (h *DisputeHandler) Get(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	d, err := h.engine.Get(ctx, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	votes, err := h.engine.Votes(ctx, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDisputeResponse(d, votes, h.quorum))
}

type voteReq struct {
	Voter   string `json:"voter"`
	Outcome string `json:"outcome"`
}

// Vote relays an arbitrator's weighted vote. The voter is the arbitrator's
// ledger address; voting power is read from the ledger.
func (h *DisputeHandler) Vote(c *gin.Context) {
	if !requireRole(c, types.RolePlatform) {
		return
	}
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Voter == "" {
		writeError(c, http.StatusBadRequest, "voter and outcome required")
		return
	}
	d, err := h.engine.CastVote(c.Request.Context(), arbitration.CastVoteCommand{
		DisputeID: id,
		Voter:     req.Voter,
		Outcome:   arbitration.Outcome(req.Outcome),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDisputeResponse(d, nil, h.quorum))
}

func (h *DisputeHandler) Resolve(c *gin.Context) {
	if !requireRole(c, types.RolePlatform) {
		return
	}
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	d, err := h.engine.ResolveDispute(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDisputeResponse(d, nil, h.quorum))
}
