package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/pkg/config"
)

// Content is an announcement's rich content as resolved from the content store.
type Content struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// ContentClient reads announcement content from the external content store.
// Read-only from the engine's perspective.
type ContentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewContentClient constructs a content store client.
func NewContentClient(cfg config.DirectoryConfig, logger *zap.Logger) *ContentClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentClient{
		baseURL:    cfg.ContentBaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Content resolves the rich content referenced by an announcement.
func (c *ContentClient) Content(ctx context.Context, contentID string) (*Content, error) {
	endpoint := fmt.Sprintf("%s/internal/contents/%s", c.baseURL, contentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build content request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content request %s: %w", contentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("content request %s: status %d: %s", contentID, resp.StatusCode, string(snippet))
	}

	var content Content
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return nil, fmt.Errorf("decode content %s: %w", contentID, err)
	}
	return &content, nil
}
