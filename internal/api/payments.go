package api

import (
	"net/http"

	"booking-service/internal/apperror"
	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
)

// paymentWebhook handles POST /payments/webhook.
// The signature covers the raw body, so it is read before any decoding.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Error(apperror.Validation("unreadable body"))
		return
	}

	res, err := h.Payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(h.opts.SignatureHeader))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, webhookMessage(res), res)
}

// paymentCallback handles the customer redirect after checkout
func (h *Handler) paymentCallback(c *gin.Context) {
	res, err := h.Payments.HandleCallback(c.Request.Context(),
		c.Query("status"), c.Query("tx_ref"), c.Query("transaction_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, webhookMessage(res), res)
}

func webhookMessage(res *service.Result) string {
	switch {
	case res.Reconciliation == nil:
		return "payment " + res.Outcome
	case res.AlreadyProcessed:
		return "payment already processed"
	case res.NeedsRefund:
		return "payment received after booking closed, refund required"
	}
	return "payment " + res.Outcome
}
