package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// DocumentService renders vouchers and receipts for paid bookings
type DocumentService struct {
	bookings *BookingService
	store    Store
	secret   []byte
	logger   *zap.Logger
}

func NewDocumentService(bookings *BookingService, store Store, opts Options) *DocumentService {
	return &DocumentService{
		bookings: bookings,
		store:    store,
		secret:   []byte(opts.VoucherSecret),
		logger:   util.GetLogger(),
	}
}

// VoucherPayload returns bookingID|txRef|from|to|signature
func (s *DocumentService) VoucherPayload(b *models.Booking) string {
	data := fmt.Sprintf("%d|%s|%s|%s", b.ID, b.TxRef,
		b.DateFrom.Format(models.DateLayout), b.DateTo.Format(models.DateLayout))
	return data + "|" + s.sign(data)
}

func (s *DocumentService) sign(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// ParseVoucher checks the signature of a scanned voucher and returns its booking id
func (s *DocumentService) ParseVoucher(payload string) (int64, error) {
	idx := strings.LastIndex(payload, "|")
	if idx < 0 {
		return 0, apperror.ErrInvalidVoucher
	}
	data, sig := payload[:idx], payload[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(s.sign(data))) {
		return 0, apperror.ErrInvalidVoucher
	}
	id, err := strconv.ParseInt(strings.SplitN(data, "|", 2)[0], 10, 64)
	if err != nil {
		return 0, apperror.ErrInvalidVoucher
	}
	return id, nil
}

// VerifyVoucher checks a voucher presented at the partner's front desk
func (s *DocumentService) VerifyVoucher(ctx context.Context, actor Actor, payload string) (*models.Booking, error) {
	id, err := s.ParseVoucher(payload)
	if err != nil {
		return nil, err
	}
	resp, err := s.bookings.GetBooking(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if resp.Booking.Status != models.BookingConfirmed {
		return nil, apperror.ErrInvalidVoucher.WithMessage("booking %d is %s", id, resp.Booking.Status)
	}
	// the signed fields must still match the stored booking
	if s.VoucherPayload(resp.Booking) != payload {
		return nil, apperror.ErrInvalidVoucher
	}
	return resp.Booking, nil
}

func (s *DocumentService) paidBooking(ctx context.Context, actor Actor, bookingID int64) (*BookingResponse, error) {
	resp, err := s.bookings.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	switch resp.Booking.Status {
	case models.BookingConfirmed, models.BookingCompleted:
		return resp, nil
	}
	return nil, apperror.ErrDocumentNotReady
}

// Voucher renders the booking voucher as a PNG QR code
func (s *DocumentService) Voucher(ctx context.Context, actor Actor, bookingID int64) ([]byte, error) {
	resp, err := s.paidBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.VoucherPayload(resp.Booking), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to render voucher: %w", err)
	}
	return png, nil
}

// Receipt renders a PDF receipt with the voucher QR code
func (s *DocumentService) Receipt(ctx context.Context, actor Actor, bookingID int64) ([]byte, error) {
	ctx, span := util.StartSpan(ctx, "DocumentService.Receipt")
	defer span.End()

	resp, err := s.paidBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	b := resp.Booking

	resource, err := s.store.GetResourceByID(ctx, b.ResourceID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, b.UserID)
	if err != nil {
		return nil, err
	}

	qrPNG, err := qrcode.Encode(s.VoucherPayload(b), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to render voucher: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Booking Receipt")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 12)
	lines := []string{
		fmt.Sprintf("Booking: #%d", b.ID),
		fmt.Sprintf("Reference: %s", b.TxRef),
		fmt.Sprintf("Guest: %s", user.Name),
		fmt.Sprintf("%s: %s", kindLabel(resource.Kind), resource.Name),
		fmt.Sprintf("Dates: %s to %s (%d days)", b.DateFrom.Format(models.DateLayout), b.DateTo.Format(models.DateLayout), b.Units()),
		fmt.Sprintf("Status: %s", b.Status),
	}
	if b.PromoCode != nil {
		lines = append(lines, fmt.Sprintf("Promo code: %s", *b.PromoCode))
	}
	if resp.Payment != nil && resp.Payment.ProviderTxID != "" {
		lines = append(lines, fmt.Sprintf("Payment: %s %s", resp.Payment.Provider, resp.Payment.ProviderTxID))
	}
	for _, line := range lines {
		pdf.Cell(0, 10, line)
		pdf.Ln(8)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, fmt.Sprintf("Total paid: %s %s", b.TotalPrice.StringFixed(2), b.Currency))

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("voucher", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("voucher", 150, 30, 40, 40, false, imageOpts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}

	s.logger.Debug("Receipt rendered", zap.Int64("booking_id", b.ID), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func kindLabel(k models.ResourceKind) string {
	switch k {
	case models.ResourceRoom:
		return "Room"
	case models.ResourceCar:
		return "Car"
	case models.ResourceSecurity:
		return "Security"
	case models.ResourceAttraction:
		return "Attraction"
	}
	return "Resource"
}
