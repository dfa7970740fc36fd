package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vacademy-io/notify-delivery-api/pkg/config"
)

// PushSender delivers messages through the mobile push gateway.
type PushSender struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewPushSender(cfg config.ChannelsConfig) *PushSender {
	return &PushSender{
		url:        cfg.PushURL,
		apiKey:     cfg.PushAPIKey,
		httpClient: &http.Client{},
	}
}

type pushPayload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (s *PushSender) Send(ctx context.Context, msg Message) error {
	if s.url == "" {
		return fmt.Errorf("push send: gateway URL not configured")
	}

	body, err := json.Marshal(pushPayload{UserID: msg.UserID, Title: msg.Subject, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push send to %s: %w", msg.UserID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push send to %s: status %d: %s", msg.UserID, resp.StatusCode, string(snippet))
	}
	return nil
}
