package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/pkg/config"
)

// User is a directory entry as returned by the external user service.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

// Page is one page of a paginated directory lookup.
type Page struct {
	Users   []User `json:"users"`
	HasMore bool   `json:"has_more"`
}

// Client talks to the external user directory. Every membership lookup is
// paginated; callers iterate until HasMore turns false.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a directory client from configuration.
func NewClient(cfg config.DirectoryConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// PageSize exposes the configured directory page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// UserByEmail resolves a single user by email within an institute.
func (c *Client) UserByEmail(ctx context.Context, instituteID, email string) (*User, error) {
	q := url.Values{}
	q.Set("instituteId", instituteID)
	q.Set("email", email)

	var user User
	if err := c.get(ctx, "/internal/users/by-email", q, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UsersByIDs resolves a batch of user profiles by id.
func (c *Client) UsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	payload := map[string]interface{}{"user_ids": ids}

	var result struct {
		Users []User `json:"users"`
	}
	if err := c.post(ctx, "/internal/users/by-ids", payload, &result); err != nil {
		return nil, err
	}
	return result.Users, nil
}

// UsersByRole returns one page of role members.
func (c *Client) UsersByRole(ctx context.Context, instituteID, role string, page int) (Page, error) {
	q := url.Values{}
	q.Set("instituteId", instituteID)
	q.Set("role", role)
	return c.getPage(ctx, "/internal/users/by-role", q, page)
}

// UsersByTag returns one page of tag members.
func (c *Client) UsersByTag(ctx context.Context, instituteID, tagID string, page int) (Page, error) {
	q := url.Values{}
	q.Set("instituteId", instituteID)
	q.Set("tagId", tagID)
	return c.getPage(ctx, "/internal/users/by-tag", q, page)
}

// UsersByPackageSession returns one page of cohort members, optionally
// filtered to the given org roles.
func (c *Client) UsersByPackageSession(ctx context.Context, instituteID, sessionID string, roles []string, page int) (Page, error) {
	q := url.Values{}
	q.Set("instituteId", instituteID)
	q.Set("packageSessionId", sessionID)
	for _, role := range roles {
		q.Add("role", role)
	}
	return c.getPage(ctx, "/internal/users/by-package-session", q, page)
}

// UsersByCustomField returns one page of users matching the field predicates.
func (c *Client) UsersByCustomField(ctx context.Context, instituteID string, filters []models.FieldFilter, page int) (Page, error) {
	payload := map[string]interface{}{
		"institute_id": instituteID,
		"filters":      filters,
		"page":         page,
		"size":         c.pageSize,
	}

	var result Page
	if err := c.post(ctx, "/internal/users/by-custom-field", payload, &result); err != nil {
		return Page{}, err
	}
	return result, nil
}

// UsersByCampaign returns one page of campaign conversions.
func (c *Client) UsersByCampaign(ctx context.Context, instituteID, campaignID string, page int) (Page, error) {
	q := url.Values{}
	q.Set("instituteId", instituteID)
	q.Set("campaignId", campaignID)
	return c.getPage(ctx, "/internal/users/by-campaign", q, page)
}

// ResolveBatch sends the full recipient spec list (nested exclusions
// included) to the centralized resolution endpoint and returns one page of
// the combined result. The endpoint applies inclusion/exclusion semantics
// itself; callers iterate pages until HasMore turns false.
func (c *Client) ResolveBatch(ctx context.Context, instituteID string, specs []models.RecipientSpec, page int) (Page, error) {
	payload := map[string]interface{}{
		"institute_id": instituteID,
		"specs":        specs,
		"page":         page,
		"size":         c.pageSize,
	}

	var result Page
	if err := c.post(ctx, "/internal/recipients/resolve", payload, &result); err != nil {
		return Page{}, err
	}
	return result, nil
}

func (c *Client) getPage(ctx context.Context, path string, q url.Values, page int) (Page, error) {
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(c.pageSize))

	var result Page
	if err := c.get(ctx, path, q, &result); err != nil {
		return Page{}, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build directory request %s: %w", path, err)
	}
	return c.do(req, path, dest)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal directory payload %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build directory request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, dest)
}

func (c *Client) do(req *http.Request, path string, dest interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory request %s: status %d: %s", path, resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode directory response %s: %w", path, err)
	}
	return nil
}
