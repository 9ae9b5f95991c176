package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nodestatus/internal/model"
	"nodestatus/internal/status"
)

// Client is a thin HTTP client for a running nodestatus server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:5000).
// The timeout covers the slowest route, a full status snapshot.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 45 * time.Second,
		},
	}
}

// Status fetches a full snapshot.
func (c *Client) Status(ctx context.Context) (status.Snapshot, error) {
	var resp status.Snapshot
	err := c.getJSON(ctx, "/api/status", &resp)
	return resp, err
}

// Forwards fetches the forwarding report. Zero values use server defaults.
func (c *Client) Forwards(ctx context.Context, days, top int) (model.AggregationReport, error) {
	q := url.Values{}
	if days != 0 {
		q.Set("days", strconv.Itoa(days))
	}
	if top != 0 {
		q.Set("top", strconv.Itoa(top))
	}
	endpoint := "/api/forwards"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp model.AggregationReport
	err := c.getJSON(ctx, endpoint, &resp)
	return resp, err
}

func (c *Client) Fees(ctx context.Context) (model.FeeQuote, error) {
	var resp model.FeeQuote
	err := c.getJSON(ctx, "/api/fees", &resp)
	return resp, err
}

func (c *Client) Profit(ctx context.Context) (model.ProfitSummary, error) {
	var resp model.ProfitSummary
	err := c.getJSON(ctx, "/api/profit", &resp)
	return resp, err
}

func (c *Client) Logs(ctx context.Context, lines int) (LogsResponse, error) {
	var resp LogsResponse
	endpoint := "/api/logs"
	if lines > 0 {
		endpoint += "?lines=" + strconv.Itoa(lines)
	}
	err := c.getJSON(ctx, endpoint, &resp)
	return resp, err
}

func (c *Client) DecodeInvoice(ctx context.Context, payReq string) (DecodeInvoiceResponse, error) {
	var resp DecodeInvoiceResponse
	err := c.postJSON(ctx, "/decode-invoice", DecodeInvoiceRequest{PayReq: payReq}, &resp)
	return resp, err
}

func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (CreateInvoiceResponse, error) {
	var resp CreateInvoiceResponse
	err := c.postJSON(ctx, "/create-invoice", req, &resp)
	return resp, err
}

func (c *Client) LookupInvoice(ctx context.Context, rHash string) (LookupInvoiceResponse, error) {
	var resp LookupInvoiceResponse
	err := c.getJSON(ctx, "/lookup-invoice?r_hash="+url.QueryEscape(rHash), &resp)
	return resp, err
}

func (c *Client) PayInvoice(ctx context.Context, payReq string) error {
	return c.postJSON(ctx, "/pay-invoice", PayInvoiceRequest{PayReq: payReq}, nil)
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.getJSON(ctx, "/healthz", &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
