package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ============================================================================
// Adafruit IO feed client
// ============================================================================
// Minimal REST client for the data endpoints of one feed. The dispatch loop
// only ever needs fetch-all, delete and a reachability probe; everything
// else about the service is out of scope.
// ============================================================================

// AIOClient talks to an Adafruit-IO-style feed over HTTP.
type AIOClient struct {
	baseURL  string
	username string
	key      string
	feed     string
	timeout  time.Duration
	logger   *slog.Logger

	httpc *http.Client
}

// NewAIOClient creates a feed client. No network traffic happens until the
// first call; use Ping to verify reachability at bring-up.
func NewAIOClient(baseURL, username, key, feed string, timeout time.Duration, logger *slog.Logger) (*AIOClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid feed base URL: %w", err)
	}
	if username == "" || key == "" {
		return nil, fmt.Errorf("feed credentials are required")
	}

	c := &AIOClient{
		baseURL:  baseURL,
		username: username,
		key:      key,
		feed:     feed,
		timeout:  timeout,
		logger:   logger,
	}
	c.resetSession()
	return c, nil
}

// resetSession replaces the HTTP client and its pooled connections.
func (c *AIOClient) resetSession() {
	if c.httpc != nil {
		c.httpc.CloseIdleConnections()
	}
	c.httpc = &http.Client{
		Timeout: c.timeout,
	}
}

// dataURL builds {base}/{username}/feeds/{feed}/data plus an optional item id.
func (c *AIOClient) dataURL(itemID string) string {
	u := fmt.Sprintf("%s/%s/feeds/%s/data",
		c.baseURL, url.PathEscape(c.username), url.PathEscape(c.feed))
	if itemID != "" {
		u += "/" + url.PathEscape(itemID)
	}
	return u
}

func (c *AIOClient) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-AIO-Key", c.key)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// FetchAll returns all pending items on the feed. The service returns data
// newest-first; callers normalize ordering.
func (c *AIOClient) FetchAll(ctx context.Context) ([]FeedItem, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.dataURL(""))
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch feed data: %s: %s", resp.Status, body)
	}

	var raw []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed data: %w", err)
	}

	items := make([]FeedItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, FeedItem{ID: r.ID, Value: r.Value})
	}

	c.logger.Debug("feed fetch", "feed", c.feed, "items", len(items))
	return items, nil
}

// Delete removes one consumed item from the feed.
func (c *AIOClient) Delete(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.dataURL(id))
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("delete feed item %s: %w", id, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete feed item %s: %s", id, resp.Status)
	}
	return nil
}

// Ping checks that the feed endpoint is reachable and the key is accepted.
func (c *AIOClient) Ping(ctx context.Context) error {
	u := fmt.Sprintf("%s/%s/feeds/%s", c.baseURL, url.PathEscape(c.username), url.PathEscape(c.feed))
	req, err := c.newRequest(ctx, http.MethodGet, u)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("feed unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed ping: %s", resp.Status)
	}
	return nil
}

// Reconnect recreates the HTTP session. Used after repeated poll failures
// and after the health supervisor restores connectivity.
func (c *AIOClient) Reconnect(ctx context.Context) error {
	c.logger.Info("recreating feed session", "feed", c.feed)
	c.resetSession()
	return c.Ping(ctx)
}
