package api

import (
	"net/http"

	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) partnerPayouts(c *gin.Context) {
	payouts, err := h.Partners.ListPayouts(c.Request.Context(), actorOf(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "payouts retrieved", payouts)
}

func (h *Handler) createResource(c *gin.Context) {
	var req service.CreateResourceRequest
	if !bindJSON(c, &req) {
		return
	}
	resource, err := h.Partners.CreateResource(c.Request.Context(), actorOf(c), &req)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, "resource created", resource)
}

// createSubaccount handles POST /admin/partners/:id/subaccount
func (h *Handler) createSubaccount(c *gin.Context) {
	partnerID, ok := paramID(c)
	if !ok {
		return
	}
	var req service.SubaccountRequest
	if !bindJSON(c, &req) {
		return
	}
	partner, err := h.Partners.CreateSubaccount(c.Request.Context(), partnerID, &req)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, "subaccount created", partner)
}

func (h *Handler) createPromoCode(c *gin.Context) {
	var req service.CreatePromoRequest
	if !bindJSON(c, &req) {
		return
	}
	promo, err := h.Promos.CreatePromoCode(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, "promo code created", promo)
}

func (h *Handler) listPromoCodes(c *gin.Context) {
	promos, err := h.Promos.ListPromoCodes(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "promo codes retrieved", promos)
}

// websocket upgrades to a live notification stream for the caller
func (h *Handler) websocket(c *gin.Context) {
	h.Hub.ServeWS(c.Writer, c.Request, actorOf(c).UserID)
}
