package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"booking-service/internal/util"
)

const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// HTTPNotifier posts notifications to an external delivery provider
type HTTPNotifier struct {
	channel string
	url     string
	apiKey  string
	client  *http.Client
}

// NewHTTPNotifier creates a provider channel, channel is ChannelPush or ChannelEmail
func NewHTTPNotifier(channel, url, apiKey string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		channel: channel,
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNotifier) Name() string { return n.channel }

type providerRequest struct {
	Channel string                 `json:"channel"`
	To      string                 `json:"to"`
	Subject string                 `json:"subject"`
	Body    string                 `json:"body"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Notify sends one message. Recipients without an address for this channel are skipped.
func (n *HTTPNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	addr := to.Email
	if n.channel == ChannelPush {
		addr = to.PushToken
	}
	if addr == "" {
		return nil
	}

	raw, err := json.Marshal(providerRequest{
		Channel: n.channel,
		To:      addr,
		Subject: msg.Subject,
		Body:    msg.Body,
		Data:    msg.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}
	util.InjectHeaders(ctx, req.Header)

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s provider request failed: %w", n.channel, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%s provider responded %d", n.channel, res.StatusCode)
	}
	return nil
}
