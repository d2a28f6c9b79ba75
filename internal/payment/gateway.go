// Package payment talks to the card payment gateway: checkout initiation,
// transaction verification, partner subaccounts and webhook authentication.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	http          *http.Client
	logger        *zap.Logger
}

// NewClient creates a gateway client. Calls are not retried.
func NewClient(baseURL, secretKey, webhookSecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		http:          &http.Client{Timeout: timeout},
		logger:        util.GetLogger(),
	}
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phonenumber,omitempty"`
}

type Subaccount struct {
	ID         string  `json:"id"`
	SplitRatio float64 `json:"transaction_split_ratio"`
}

// InitiateRequest describes a hosted checkout for one booking
type InitiateRequest struct {
	TxRef        string
	Amount       decimal.Decimal
	Currency     string
	RedirectURL  string
	Customer     Customer
	SubaccountID string
	SplitRatio   decimal.Decimal
}

type initiatePayload struct {
	TxRef       string       `json:"tx_ref"`
	Amount      float64      `json:"amount"`
	Currency    string       `json:"currency"`
	RedirectURL string       `json:"redirect_url"`
	Customer    Customer     `json:"customer"`
	Subaccounts []Subaccount `json:"subaccounts,omitempty"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Link is the hosted checkout returned by the gateway
type Link struct {
	URL string `json:"link"`
}

// Transaction is the gateway view of a charge
type Transaction struct {
	ID       int64               `json:"id"`
	TxRef    string              `json:"tx_ref"`
	Status   string              `json:"status"`
	Amount   decimal.NullDecimal `json:"amount"`
	Currency string              `json:"currency"`
}

// SubaccountRequest registers a partner for split settlement
type SubaccountRequest struct {
	AccountBank    string  `json:"account_bank"`
	AccountNumber  string  `json:"account_number"`
	BusinessName   string  `json:"business_name"`
	BusinessEmail  string  `json:"business_email,omitempty"`
	Country        string  `json:"country"`
	SplitType      string  `json:"split_type"`
	SplitValue     float64 `json:"split_value"`
	BusinessMobile string  `json:"business_mobile,omitempty"`
}

type subaccountData struct {
	SubaccountID string `json:"subaccount_id"`
}

// Initiate creates a hosted checkout and returns its link
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*Link, error) {
	payload := initiatePayload{
		TxRef:       req.TxRef,
		Amount:      req.Amount.InexactFloat64(),
		Currency:    req.Currency,
		RedirectURL: req.RedirectURL,
		Customer:    req.Customer,
	}
	if req.SubaccountID != "" {
		payload.Subaccounts = []Subaccount{{ID: req.SubaccountID, SplitRatio: req.SplitRatio.InexactFloat64()}}
	}

	var link Link
	if err := c.do(ctx, "initiate", http.MethodPost, "/v3/payments", payload, &link); err != nil {
		return nil, err
	}
	if link.URL == "" {
		return nil, c.fail("initiate", fmt.Errorf("gateway returned no checkout link"))
	}
	return &link, nil
}

// Verify fetches the authoritative state of a transaction
func (c *Client) Verify(ctx context.Context, transactionID string) (*Transaction, error) {
	var tx Transaction
	path := fmt.Sprintf("/v3/transactions/%s/verify", transactionID)
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateSubaccount registers a partner settlement account and returns its id
func (c *Client) CreateSubaccount(ctx context.Context, req SubaccountRequest) (string, error) {
	var data subaccountData
	if err := c.do(ctx, "create_subaccount", http.MethodPost, "/v3/subaccounts", req, &data); err != nil {
		return "", err
	}
	if data.SubaccountID == "" {
		return "", c.fail("create_subaccount", fmt.Errorf("gateway returned no subaccount id"))
	}
	return data.SubaccountID, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	start := time.Now()
	defer func() {
		util.PaymentGatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return c.fail(op, fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return c.fail(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	util.InjectHeaders(ctx, req.Header)

	res, err := c.http.Do(req)
	if err != nil {
		return c.fail(op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return c.fail(op, fmt.Errorf("failed to read response: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return c.fail(op, fmt.Errorf("unexpected response (%d): %w", res.StatusCode, err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || env.Status != "success" {
		return c.fail(op, fmt.Errorf("gateway responded %d: %s", res.StatusCode, env.Message))
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return c.fail(op, fmt.Errorf("failed to decode response data: %w", err))
		}
	}
	return nil
}

func (c *Client) fail(op string, err error) error {
	util.PaymentGatewayErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Error("Payment gateway call failed", zap.String("operation", op), zap.Error(err))
	return apperror.ErrPaymentGateway.Wrap(err)
}
