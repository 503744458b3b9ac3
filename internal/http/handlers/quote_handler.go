// README: Delivery fee quotes.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dropchain/internal/modules/pricing"
)

type QuoteHandler struct {
	pricing *pricing.Service
}

func NewQuoteHandler(svc *pricing.Service) *QuoteHandler {
	return &QuoteHandler{pricing: svc}
}

func (h *QuoteHandler) Quote(c *gin.Context) {
	var req pricing.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	q, err := h.pricing.Quote(c.Request.Context(), req)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}
