package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/common"
)

// Config for the store client.
type Config struct {
	BaseURL       string // list endpoint root, e.g. https://graph.example.com/v1.0/sites/S/lists/L
	RefreshMargin time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	Timeout       time.Duration
}

// Client talks to the verification list. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenSource
	logger *slog.Logger

	// set once a $filter query came back 400; all later lookups scan.
	filterUnsupported atomic.Bool
}

func NewClient(cfg Config, auth Authenticator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: newTokenSource(auth, cfg.RefreshMargin, logger),
		logger: logger,
	}
}

// GetItem finds the list item for a document node. Returns
// common.ErrNotFound when no row exists. Prefers a server-side $filter;
// stores that have not indexed the NodeID column reject that with 400, in
// which case the whole list is scanned client-side instead.
func (c *Client) GetItem(ctx context.Context, nodeID int64) (Item, error) {
	if !c.filterUnsupported.Load() {
		it, err := c.getByFilter(ctx, nodeID)
		if err == nil || !isBadRequest(err) {
			return it, err
		}
		c.logger.Warn("tracker.get.filter_unsupported", "node_id", nodeID)
		c.filterUnsupported.Store(true)
	}
	return c.getByScan(ctx, nodeID)
}

func (c *Client) getByFilter(ctx context.Context, nodeID int64) (Item, error) {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("fields/%s eq %d", constants.FieldNodeID, nodeID))
	q.Set("$expand", "fields")

	var page listPage
	if err := c.do(ctx, http.MethodGet, "/items?"+q.Encode(), nil, &page); err != nil {
		return Item{}, err
	}
	if len(page.Value) == 0 {
		return Item{}, common.WrapError(common.ErrNotFound, fmt.Sprintf("item for node %d", nodeID))
	}
	return itemFromFields(page.Value[0].ID, page.Value[0].Fields), nil
}

func (c *Client) getByScan(ctx context.Context, nodeID int64) (Item, error) {
	items, err := c.ListItems(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.NodeID == nodeID {
			return it, nil
		}
	}
	return Item{}, common.WrapError(common.ErrNotFound, fmt.Sprintf("item for node %d", nodeID))
}

// ListItems fetches every row of the list, following pagination links.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	var items []Item
	path := "/items?" + url.Values{"$expand": {"fields"}, "$top": {"200"}}.Encode()
	for path != "" {
		var page listPage
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, row := range page.Value {
			items = append(items, itemFromFields(row.ID, row.Fields))
		}
		path = page.NextLink
	}
	return items, nil
}

// UpsertItem writes the AI extraction result for a node: PATCH when a row
// already exists, POST otherwise. Concurrent writers race benignly, the
// later write wins.
func (c *Client) UpsertItem(ctx context.Context, nodeID int64, filename string, fields map[string]any) error {
	fields = sanitizeFields(fields)
	fields[constants.FieldNodeID] = nodeID
	if filename != "" {
		fields[constants.FieldFilename] = filename
	}

	existing, err := c.GetItem(ctx, nodeID)
	switch {
	case err == nil:
		return c.do(ctx, http.MethodPatch, "/items/"+existing.ID+"/fields", fields, nil)
	case isNotFound(err):
		return c.do(ctx, http.MethodPost, "/items", map[string]any{"fields": fields}, nil)
	default:
		return err
	}
}

// SaveValidation stores a human verdict. Read-modify-write: the AI columns
// of the existing row are left untouched, only Human_* columns change.
func (c *Client) SaveValidation(ctx context.Context, v Validation) error {
	existing, err := c.GetItem(ctx, v.NodeID)
	if err != nil {
		return err
	}

	fields := map[string]any{
		constants.FieldHumanInvoiceNumber: v.InvoiceNumber,
		constants.FieldHumanCompanyName:   v.CompanyName,
		constants.FieldHumanTotalAmount:   v.TotalAmount,
		constants.FieldHumanValidated:     true,
		constants.FieldHumanFlagged:       v.Flagged,
		constants.FieldHumanNotes:         v.Notes,
	}
	if v.InvoiceDate != nil {
		fields[constants.FieldHumanInvoiceDate] = *v.InvoiceDate
	}
	return c.do(ctx, http.MethodPatch, "/items/"+existing.ID+"/fields", sanitizeFields(fields), nil)
}

type listPage struct {
	Value []struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// statusError carries a non-2xx response through the retry loop.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("store returned %d: %s", e.status, e.body)
}

func isBadRequest(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusBadRequest
}

func isNotFound(err error) bool {
	if errors.Is(err, common.ErrNotFound) {
		return true
	}
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

// do runs one store request with auth and bounded retries. Exhausting the
// retry budget on a retryable status maps to common.ErrStoreUnavailable.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	fullURL := path
	if !strings.HasPrefix(path, "http") {
		fullURL = strings.TrimRight(c.cfg.BaseURL, "/") + path
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		token, err := c.tokens.token(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("tracker.request.send_error", "method", method, "url", fullURL, "attempt", attempt, "error", err)
			if serr := sleepCtx(ctx, backoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffMax, "")); serr != nil {
				return serr
			}
			continue
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode/100 == 2 {
			if out != nil && len(raw) > 0 {
				if err := json.Unmarshal(raw, out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}

		if resp.StatusCode == http.StatusUnauthorized {
			// token revoked before its stated expiry; re-acquire and retry
			c.tokens.invalidate()
			lastErr = &statusError{status: resp.StatusCode, body: truncateBody(raw)}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return &statusError{status: resp.StatusCode, body: truncateBody(raw)}
		}

		lastErr = &statusError{status: resp.StatusCode, body: truncateBody(raw)}
		c.logger.Warn("tracker.request.retry",
			"method", method, "url", fullURL,
			"status", resp.StatusCode, "attempt", attempt)
		if attempt < c.cfg.MaxRetries {
			d := backoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffMax, resp.Header.Get("Retry-After"))
			if serr := sleepCtx(ctx, d); serr != nil {
				return serr
			}
		}
	}

	c.logger.Error("tracker.request.exhausted", "method", method, "url", fullURL, "error", lastErr)
	return common.WrapError(common.ErrStoreUnavailable, fmt.Sprintf("%s %s after %d attempts", method, path, c.cfg.MaxRetries+1))
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
