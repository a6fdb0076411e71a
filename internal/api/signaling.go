package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/screenlink/screenlink/internal/signal"
)

const (
	signalSendPath  = "/signal/send"
	signalInboxPath = "/signal/inbox"
)

type sendSignalRequest struct {
	ToUserID string                     `json:"toUserId"`
	Type     signal.Kind                `json:"type"`
	Payload  map[string]json.RawMessage `json:"payload"`
}

type inboxResponse struct {
	Messages []signal.Message `json:"messages"`
}

// SendSignal relays one message to toUserID. The relay owns ordering and
// delivery; there is no acknowledgment round-trip.
func (c *Client) SendSignal(ctx context.Context, toUserID string, kind signal.Kind, payload map[string]json.RawMessage) error {
	rb, err := c.builder(signalSendPath)
	if err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	if payload == nil {
		payload = map[string]json.RawMessage{}
	}
	body := sendSignalRequest{ToUserID: toUserID, Type: kind, Payload: payload}
	if err := rb.Method(http.MethodPost).BodyJSON(&body).Fetch(ctx); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return nil
}

// Inbox retrieves and consumes the caller's pending messages. An empty inbox
// yields an empty slice, never an error.
func (c *Client) Inbox(ctx context.Context) ([]signal.Message, error) {
	rb, err := c.builder(signalInboxPath)
	if err != nil {
		return nil, fmt.Errorf("fetch inbox: %w", err)
	}
	var resp inboxResponse
	if err := rb.ToJSON(&resp).Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch inbox: %w", err)
	}
	return resp.Messages, nil
}
