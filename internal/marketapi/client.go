// Package marketapi is the HTTP client for the marketplace backend order API.
package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"scheduleguard/internal/model"
)

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	APIKey        string
	Token         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Client calls the marketplace order endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// GetOrderByID fetches an order with its current weekly schedule and version.
func (c *Client) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	if err := c.doJSON(ctx, http.MethodGet, c.orderURL(orderID), nil, nil, &order); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &order, nil
}

// GetOrderBookings returns every booking of an order.
func (c *Client) GetOrderBookings(ctx context.Context, orderID string) ([]model.Booking, error) {
	var wrap struct {
		Bookings []model.Booking `json:"bookings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.orderURL(orderID)+"/bookings", nil, nil, &wrap); err != nil {
		return nil, fmt.Errorf("get bookings of order %s: %w", orderID, err)
	}
	return wrap.Bookings, nil
}

// UpdateOrder sends a merge patch guarded by the expected version. A zero
// ExpectedVersion sends no precondition. A version mismatch is reported as
// model.ErrStaleOrder.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, patch model.OrderPatch) (*model.Order, error) {
	header := http.Header{}
	if patch.ExpectedVersion > 0 {
		header.Set("If-Match", strconv.FormatInt(patch.ExpectedVersion, 10))
	}

	var order *model.Order
	if err := c.doJSON(ctx, http.MethodPatch, c.orderURL(orderID), header, patch, &order); err != nil {
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}
	if order == nil {
		// backend answered without a body; Version 0 means unknown
		return &model.Order{
			ID:             orderID,
			WeeklySchedule: patch.WeeklySchedule,
			BannerImage:    patch.BannerImage,
		}, nil
	}
	return order, nil
}

// UploadMedia uploads local files against an order and returns the stored files.
func (c *Client) UploadMedia(ctx context.Context, orderID string, files []model.LocalFile) ([]model.MediaFile, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.FileName))
		ct := f.MimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.orderURL(orderID)+"/media", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var wrap struct {
		Files []model.MediaFile `json:"files"`
	}
	if err := c.do(req, &wrap); err != nil {
		return nil, fmt.Errorf("upload media for order %s: %w", orderID, err)
	}
	return wrap.Files, nil
}

// HealthCheck pings the backend health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, c.baseURL+"/healthz", nil, nil, nil)
}

func (c *Client) orderURL(orderID string) string {
	return fmt.Sprintf("%s/api/orders/%s", c.baseURL, url.PathEscape(orderID))
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, header http.Header, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.addHeaders(req)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		// empty body, out keeps its zero value
		return nil
	}
	return err
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusError(resp *http.Response) error {
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", model.ErrOrderNotFound, httpErr)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %w", model.ErrStaleOrder, httpErr)
	}
	return httpErr
}

// readMessage extracts {"error": "..."} or {"message": "..."} bodies, else the raw text.
func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
