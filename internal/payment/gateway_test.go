package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booking-service/internal/apperror"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiate(t *testing.T) {
	var got initiatePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.example/abc"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", "whsec", time.Second)
	link, err := c.Initiate(context.Background(), InitiateRequest{
		TxRef:        "bk-1",
		Amount:       decimal.RequireFromString("183.75"),
		Currency:     "USD",
		RedirectURL:  "http://localhost/callback",
		Customer:     Customer{Email: "ann@example.com", Name: "Ann"},
		SubaccountID: "RS_1",
		SplitRatio:   decimal.RequireFromString("0.8"),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.example/abc", link.URL)
	assert.Equal(t, "bk-1", got.TxRef)
	assert.Equal(t, 183.75, got.Amount)
	require.Len(t, got.Subaccounts, 1)
	assert.Equal(t, "RS_1", got.Subaccounts[0].ID)
	assert.Equal(t, 0.8, got.Subaccounts[0].SplitRatio)
}

func TestInitiateGatewayErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non-2xx": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":"error","message":"Invalid currency"}`))
		},
		"status not success": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"error","message":"nope"}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		},
		"missing link": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","data":{}}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			c := NewClient(srv.URL, "sk", "", time.Second)
			_, err := c.Initiate(context.Background(), InitiateRequest{TxRef: "bk-1", Amount: decimal.NewFromInt(1)})
			assert.True(t, errors.Is(err, apperror.ErrPaymentGateway))
		})
	}
}

func TestInitiateNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, "sk", "", 200*time.Millisecond)
	_, err := c.Initiate(context.Background(), InitiateRequest{TxRef: "bk-1", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperror.From(err).Status())
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transactions/288200/verify", r.URL.Path)
		w.Write([]byte(`{"status":"success","data":{"id":288200,"tx_ref":"bk-1","status":"successful","amount":200,"currency":"USD"}}`))
	}))
	defer srv.Close()

	tx, err := NewClient(srv.URL, "sk", "", time.Second).Verify(context.Background(), "288200")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", tx.TxRef)
	assert.Equal(t, OutcomeSuccess, MapStatus(tx.Status))
	require.True(t, tx.Amount.Valid)
	assert.True(t, tx.Amount.Decimal.Equal(decimal.NewFromInt(200)))
}

func TestCreateSubaccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/subaccounts", r.URL.Path)
		w.Write([]byte(`{"status":"success","data":{"id":2181,"subaccount_id":"RS_A8EB7D4D9C66C0B1C75014EE67D4D663"}}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "sk", "", time.Second).CreateSubaccount(context.Background(), SubaccountRequest{
		AccountBank:   "044",
		AccountNumber: "0690000037",
		BusinessName:  "Lagoon Hotel",
		Country:       "NG",
		SplitType:     "percentage",
		SplitValue:    0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "RS_A8EB7D4D9C66C0B1C75014EE67D4D663", id)
}
