// Package csvexport reads month tabs through the public CSV export endpoint
// of a Google spreadsheet. No credentials are involved: the sheet has to be
// shared as "anyone with the link can view".
package csvexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ventas/internal/core"
	"ventas/internal/months"
	"ventas/internal/sheets"
)

// DefaultBaseURL is the Google Docs origin.
const DefaultBaseURL = "https://docs.google.com"

// HTTPClient is the subset of *http.Client used by the exporter.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpc    HTTPClient
	baseURL  string
	sheetID  string
	attempts int
	backoff  time.Duration
}

var _ sheets.RowSource = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithRetry sets the number of attempts and the base backoff between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// New creates an exporter for the given spreadsheet.
func New(httpc HTTPClient, baseURL, sheetID string, opts ...Option) (*Client, error) {
	sheetID = strings.TrimSpace(sheetID)
	if sheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if httpc == nil {
		httpc = NewHTTPClient(30 * time.Second)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpc:    httpc,
		baseURL:  baseURL,
		sheetID:  sheetID,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClient returns a pooled client with sane transport timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// ExportURL builds the CSV export address of a sheet tab.
func (c *Client) ExportURL(gid string) string {
	q := url.Values{}
	q.Set("format", "csv")
	q.Set("gid", gid)
	return fmt.Sprintf("%s/spreadsheets/d/%s/export?%s", c.baseURL, url.PathEscape(c.sheetID), q.Encode())
}

// FetchRows downloads and parses the tab of the given month.
func (c *Client) FetchRows(ctx context.Context, month months.Month) ([]core.Row, error) {
	if !month.Available {
		return nil, fmt.Errorf("%w: %s", sheets.ErrMonthUnavailable, month.Key)
	}
	body, err := c.download(ctx, c.ExportURL(month.SheetGID))
	if err != nil {
		return nil, fmt.Errorf("export month %s: %w", month.Key, err)
	}
	rows, err := sheets.ParseCSV(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("export month %s: %w", month.Key, err)
	}
	return rows, nil
}

// download retries transport errors and 5xx answers with exponential backoff
// plus jitter. 4xx answers fail immediately.
func (c *Client) download(ctx context.Context, target string) (string, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			sleep := time.Duration(1<<(i-1)) * c.backoff
			if c.backoff > 0 {
				sleep += time.Duration(rand.Int63n(int64(c.backoff)))
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(sleep):
			}
		}

		body, retry, err := c.get(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		slog.WarnContext(ctx, "Sheet export attempt failed", "attempt", i+1, "error", err)
	}
	return "", lastErr
}

func (c *Client) get(ctx context.Context, target string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", resp.StatusCode >= 500, &sheets.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	// A private sheet answers 200 with the sign-in page.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return "", false, &sheets.StatusError{Code: resp.StatusCode, Body: "received an HTML page instead of CSV"}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read body: %w", err)
	}
	return string(b), false, nil
}
