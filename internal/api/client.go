// Package api provides the HTTP client for the Omas demo-vendor API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omas-app/omas-vendor-go/internal/models"
	"github.com/omas-app/omas-vendor-go/internal/output"
	"github.com/omas-app/omas-vendor-go/internal/version"
)

const (
	maxRetries = 3
	baseDelay  = 1 * time.Second
	maxJitter  = 100 * time.Millisecond
)

// TokenProvider supplies the bearer credential attached to each request.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client is an HTTP client for the vendor API. All request paths use
// AIP-122 resource names ("vendors/x/fulfillments/1") kept literal in the
// URL path.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	baseURL    string
	log        zerolog.Logger
}

// Response wraps a raw API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// NewClient creates a new API client.
func NewClient(baseURL string, tokens TokenProvider, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tokens:  tokens,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log,
	}
}

// GetInfo calls the vendor info endpoint.
func (c *Client) GetInfo(ctx context.Context) (*models.Info, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/info", nil)
	if err != nil {
		return nil, err
	}
	var info models.Info
	if err := resp.UnmarshalData(&info); err != nil {
		return nil, fmt.Errorf("parse info response: %w", err)
	}
	return &info, nil
}

// PollOrders fetches one page of the fulfillment change feed for parent
// ("vendors/{vendor}"). An empty pageToken starts from the beginning.
func (c *Client) PollOrders(ctx context.Context, parent, pageToken string) (*models.PollOrdersResponse, error) {
	path := "/v1/" + parent + "/fulfillments:poll"
	if pageToken != "" {
		path += "?pageToken=" + url.QueryEscape(pageToken)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var page models.PollOrdersResponse
	if err := resp.UnmarshalData(&page); err != nil {
		return nil, fmt.Errorf("parse poll response: %w", err)
	}
	return &page, nil
}

// ConfirmOrder acknowledges, accepts or declines the named fulfillment.
func (c *Client) ConfirmOrder(ctx context.Context, name string, req models.ConfirmOrderRequest) (*models.Fulfillment, error) {
	return c.transition(ctx, name, "confirm", req)
}

// ProcessOrder reports processing progress for the named fulfillment.
func (c *Client) ProcessOrder(ctx context.Context, name string, req models.ProcessOrderRequest) (*models.Fulfillment, error) {
	return c.transition(ctx, name, "process", req)
}

// DeliverOrder reports delivery progress for the named fulfillment.
func (c *Client) DeliverOrder(ctx context.Context, name string, req models.DeliverOrderRequest) (*models.Fulfillment, error) {
	return c.transition(ctx, name, "deliver", req)
}

// CompleteOrder finalizes the named fulfillment.
func (c *Client) CompleteOrder(ctx context.Context, name string, req models.CompleteOrderRequest) (*models.Fulfillment, error) {
	return c.transition(ctx, name, "complete", req)
}

func (c *Client) transition(ctx context.Context, name, verb string, body any) (*models.Fulfillment, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/"+name+":"+verb, body)
	if err != nil {
		return nil, err
	}
	var f models.Fulfillment
	if err := resp.UnmarshalData(&f); err != nil {
		return nil, fmt.Errorf("parse fulfillment response: %w", err)
	}
	return &f, nil
}

// Raw performs an arbitrary request against the API. Used by the api
// escape-hatch command.
func (c *Client) Raw(ctx context.Context, method, path string, body any) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.do(ctx, method, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Response, error) {
	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := c.singleRequest(ctx, method, reqURL, body)
		if err == nil {
			return resp, nil
		}

		apiErr := output.AsError(err)
		if !apiErr.Retryable {
			return nil, err
		}
		lastErr = err

		delay := c.backoffDelay(attempt)
		c.log.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("url", reqURL).
			Err(err).
			Msg("retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *Client) singleRequest(ctx context.Context, method, reqURL string, body any) (*Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "omas-vendor/"+version.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, output.ErrAuth(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, output.ErrAuth("Not authenticated")
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, output.ErrRateLimit(retryAfter)
	case resp.StatusCode >= 400:
		return nil, output.ErrAPI(resp.StatusCode, apiMessage(resp.StatusCode, data))
	}

	return &Response{
		Data:       data,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}, nil
}

// backoffDelay returns the exponential backoff delay with jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := baseDelay * time.Duration(1<<(attempt-1))
	return delay + rand.N(maxJitter)
}

// apiMessage extracts a useful error message from an error response body.
func apiMessage(status int, data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("API error: HTTP %d", status)
}
