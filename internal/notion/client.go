package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"

	maxAttempts = 5
	pageSize    = 100
)

// APIError is returned for any non-retryable 4xx/5xx response, or once the
// rate-limit retry budget is exhausted.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.Path, e.Status, e.Body)
}

// API is the capability surface the migration engine consumes. *Client is the
// production implementation; tests substitute fakes.
type API interface {
	GetDatabase(ctx context.Context, databaseID string) (*Database, error)
	CreateDatabase(ctx context.Context, parentPageID string, title []RichText, properties map[string]any) (*Database, error)
	UpdateDatabase(ctx context.Context, databaseID string, properties map[string]any) (*Database, error)
	QueryDatabase(databaseID string) *Cursor[Page]
	SearchDatabases() *Cursor[Database]
	ListChildBlocks(blockID string) *Cursor[Block]
	CreatePage(ctx context.Context, databaseID string, properties map[string]any, icon, cover json.RawMessage) (*Page, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]any) (*Page, error)
}

var _ API = (*Client)(nil)

type Client struct {
	baseURL string
	version string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		version: DefaultVersion,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request issues one API call, retrying on rate-limit responses up to the
// attempt ceiling. The result body is decoded into out when out is non-nil.
func (c *Client) Request(ctx context.Context, method, path string, payload any, params url.Values, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		target := c.baseURL + path
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Notion-Version", c.version)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxAttempts {
			wait := retryWait(resp.Header.Get("Retry-After"), attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	return &APIError{Method: method, Path: path, Status: http.StatusTooManyRequests, Body: "exceeded retry attempts"}
}

// retryWait prefers the server-suggested delay, falling back to an escalating
// per-attempt delay.
func retryWait(retryAfter string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(attempt) * time.Second
}

func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	if err := c.Request(ctx, http.MethodGet, "/databases/"+databaseID, nil, nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

func (c *Client) CreateDatabase(ctx context.Context, parentPageID string, title []RichText, properties map[string]any) (*Database, error) {
	payload := map[string]any{
		"parent":     map[string]any{"type": "page_id", "page_id": parentPageID},
		"title":      title,
		"properties": properties,
	}
	var db Database
	if err := c.Request(ctx, http.MethodPost, "/databases", payload, nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

func (c *Client) UpdateDatabase(ctx context.Context, databaseID string, properties map[string]any) (*Database, error) {
	payload := map[string]any{"properties": properties}
	var db Database
	if err := c.Request(ctx, http.MethodPatch, "/databases/"+databaseID, payload, nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

type listBody struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

func (c *Client) QueryDatabase(databaseID string) *Cursor[Page] {
	return newCursor(func(ctx context.Context, start string) ([]Page, string, bool, error) {
		payload := map[string]any{"page_size": pageSize}
		if start != "" {
			payload["start_cursor"] = start
		}
		var body listBody
		if err := c.Request(ctx, http.MethodPost, "/databases/"+databaseID+"/query", payload, nil, &body); err != nil {
			return nil, "", false, err
		}
		pages, err := decodeResults[Page](body.Results)
		if err != nil {
			return nil, "", false, err
		}
		return pages, body.NextCursor, body.HasMore, nil
	})
}

func (c *Client) SearchDatabases() *Cursor[Database] {
	return newCursor(func(ctx context.Context, start string) ([]Database, string, bool, error) {
		payload := map[string]any{
			"page_size": pageSize,
			"filter":    map[string]any{"value": "database", "property": "object"},
		}
		if start != "" {
			payload["start_cursor"] = start
		}
		var body listBody
		if err := c.Request(ctx, http.MethodPost, "/search", payload, nil, &body); err != nil {
			return nil, "", false, err
		}
		all, err := decodeResults[Database](body.Results)
		if err != nil {
			return nil, "", false, err
		}
		dbs := all[:0]
		for _, db := range all {
			if db.Object == "" || db.Object == "database" {
				dbs = append(dbs, db)
			}
		}
		return dbs, body.NextCursor, body.HasMore, nil
	})
}

func (c *Client) ListChildBlocks(blockID string) *Cursor[Block] {
	return newCursor(func(ctx context.Context, start string) ([]Block, string, bool, error) {
		params := url.Values{}
		params.Set("page_size", strconv.Itoa(pageSize))
		if start != "" {
			params.Set("start_cursor", start)
		}
		var body listBody
		if err := c.Request(ctx, http.MethodGet, "/blocks/"+blockID+"/children", nil, params, &body); err != nil {
			return nil, "", false, err
		}
		blocks, err := decodeResults[Block](body.Results)
		if err != nil {
			return nil, "", false, err
		}
		return blocks, body.NextCursor, body.HasMore, nil
	})
}

func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any, icon, cover json.RawMessage) (*Page, error) {
	payload := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	if len(icon) > 0 {
		payload["icon"] = icon
	}
	if len(cover) > 0 {
		payload["cover"] = cover
	}
	var page Page
	if err := c.Request(ctx, http.MethodPost, "/pages", payload, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) (*Page, error) {
	payload := map[string]any{"properties": properties}
	var page Page
	if err := c.Request(ctx, http.MethodPatch, "/pages/"+pageID, payload, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func decodeResults[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var decoded T
		if err := json.Unmarshal(item, &decoded); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, decoded)
	}
	return out, nil
}
