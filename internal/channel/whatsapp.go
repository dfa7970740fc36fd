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

// WhatsAppSender delivers messages through the WhatsApp provider API.
type WhatsAppSender struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewWhatsAppSender(cfg config.ChannelsConfig) *WhatsAppSender {
	return &WhatsAppSender{
		url:        cfg.WhatsAppURL,
		token:      cfg.WhatsAppToken,
		httpClient: &http.Client{},
	}
}

type whatsAppPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) error {
	if s.url == "" {
		return fmt.Errorf("whatsapp send: provider URL not configured")
	}
	if msg.Address == "" {
		return fmt.Errorf("whatsapp send: recipient %s has no phone number", msg.UserID)
	}

	body, err := json.Marshal(whatsAppPayload{To: msg.Address, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("encode whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", msg.Address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp send to %s: status %d: %s", msg.Address, resp.StatusCode, string(snippet))
	}
	return nil
}
