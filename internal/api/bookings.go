package api

import (
	"fmt"
	"net/http"
	"strconv"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
)

// paramID parses the :id path parameter
func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.Error(apperror.Validation("invalid id"))
		return 0, false
	}
	return id, true
}

// page reads limit/offset query parameters; zero means the service default
func page(c *gin.Context) (int, int, bool) {
	parse := func(name string) (int, bool) {
		v := c.Query(name)
		if v == "" {
			return 0, true
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.Error(apperror.Validation(fmt.Sprintf("%s must be a non-negative integer", name)))
			return 0, false
		}
		return n, true
	}
	limit, ok := parse("limit")
	if !ok {
		return 0, 0, false
	}
	offset, ok := parse("offset")
	return limit, offset, ok
}

func statusFilter(c *gin.Context) models.BookingStatus {
	return models.BookingStatus(c.Query("status"))
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(apperror.Validation("invalid request body: " + err.Error()))
		return false
	}
	return true
}

// listResources handles GET /resources?kind=
func (h *Handler) listResources(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	resources, err := h.Partners.ListResources(c.Request.Context(), models.ResourceKind(c.Query("kind")), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "resources retrieved", resources)
}

// getResource handles GET /resources/:id
func (h *Handler) getResource(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	resource, err := h.Partners.GetResource(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "resource retrieved", resource)
}

// checkAvailability handles GET /resources/:id/availability?from=&to=
func (h *Handler) checkAvailability(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	from, to, err := service.ParseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.Error(err)
		return
	}
	availability, err := h.Availability.Check(c.Request.Context(), id, from, to)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "availability checked", availability)
}

// createBooking handles POST /bookings/:id where id is the resource
func (h *Handler) createBooking(c *gin.Context) {
	resourceID, ok := paramID(c)
	if !ok {
		return
	}
	var req service.CreateBookingRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.Bookings.CreateBooking(c.Request.Context(), actorOf(c), resourceID, &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusCreated, "booking created, complete payment to confirm", resp)
}

// retryPayment handles POST /bookings/:id/pay
func (h *Handler) retryPayment(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	resp, err := h.Bookings.RetryPayment(c.Request.Context(), actorOf(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "payment link created", resp)
}

// getBooking handles GET /bookings/:id
func (h *Handler) getBooking(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	resp, err := h.Bookings.GetBooking(c.Request.Context(), actorOf(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "booking retrieved", resp)
}

// myBookings handles GET /bookings/my-bookings
func (h *Handler) myBookings(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	bookings, err := h.Bookings.ListMyBookings(c.Request.Context(), actorOf(c), statusFilter(c), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "bookings retrieved", bookings)
}

func (h *Handler) partnerBookings(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	bookings, err := h.Bookings.ListPartnerBookings(c.Request.Context(), actorOf(c), statusFilter(c), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "bookings retrieved", bookings)
}

func (h *Handler) allBookings(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	bookings, err := h.Bookings.ListAllBookings(c.Request.Context(), statusFilter(c), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "bookings retrieved", bookings)
}

// voucher handles GET /bookings/:id/voucher
func (h *Handler) voucher(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	png, err := h.Documents.Voucher(c.Request.Context(), actorOf(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// receipt handles GET /bookings/:id/receipt
func (h *Handler) receipt(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	pdf, err := h.Documents.Receipt(c.Request.Context(), actorOf(c), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="receipt-%d.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

type verifyVoucherRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// verifyVoucher handles POST /partner/vouchers/verify with a scanned QR payload
func (h *Handler) verifyVoucher(c *gin.Context) {
	var req verifyVoucherRequest
	if !bindJSON(c, &req) {
		return
	}
	booking, err := h.Documents.VerifyVoucher(c.Request.Context(), actorOf(c), req.Payload)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, "voucher is valid", booking)
}
