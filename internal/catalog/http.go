// Package catalog reads captions from the catalog service over HTTP.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"caption-scheduler/internal/model"
)

const (
	itemsPath   = "/items"
	maxPages    = 1000
	defaultPage = 500
)

// Options parameterise the HTTP catalog client.
type Options struct {
	BaseURL   string
	Token     string
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// Client lists catalog items from the catalog service.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a catalog client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPage
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "catalog_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// ListItems follows the cursor until the service reports no further page.
func (c *Client) ListItems(ctx context.Context, scope model.Scope) ([]model.Item, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}

	var (
		items  []model.Item
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		res, err := c.fetchPage(ctx, scope, cursor)
		if err != nil {
			return nil, err
		}
		for _, it := range res.Items {
			items = append(items, it.toModel())
		}
		if res.NextCursor == "" {
			c.logger.Debug().Str("scope", string(scope)).Int("items", len(items)).Int("pages", page+1).Msg("catalog listed")
			return items, nil
		}
		cursor = res.NextCursor
	}
	return nil, fmt.Errorf("catalog pagination exceeded %d pages", maxPages)
}

func (c *Client) fetchPage(ctx context.Context, scope model.Scope, cursor string) (pageResponse, error) {
	q := url.Values{}
	q.Set("scope", string(scope))
	q.Set("limit", fmt.Sprintf("%d", c.opts.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+itemsPath+"?"+q.Encode(), nil)
	if err != nil {
		return pageResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "captionctl/1.0")
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return pageResponse{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pageResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return pageResponse{}, parseHTTPError(resp.StatusCode, payload)
	}

	var page pageResponse
	if err := json.Unmarshal(payload, &page); err != nil {
		return pageResponse{}, fmt.Errorf("decode catalog page: %w", err)
	}
	return page, nil
}

type pageResponse struct {
	Items      []itemPayload `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

type itemPayload struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Category  string `json:"category"`
	PriceTier string `json:"price_tier"`
	Scope     string `json:"scope"`
	Active    bool   `json:"active"`
	Deleted   bool   `json:"deleted"`
}

func (p itemPayload) toModel() model.Item {
	scope, _ := model.ParseScope(p.Scope)
	return model.Item{
		ID:        p.ID,
		Text:      p.Text,
		Category:  p.Category,
		PriceTier: p.PriceTier,
		Scope:     scope,
		Active:    p.Active,
		Deleted:   p.Deleted,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("catalog api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("catalog api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("catalog api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("catalog api error (%d)", status)
}
