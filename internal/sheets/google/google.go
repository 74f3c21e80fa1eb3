// Package google reads month tabs through the Google Sheets API. It is used
// when the spreadsheet is private and a service account or API key is
// available.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ventas/internal/core"
	"ventas/internal/months"
	ports "ventas/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string

	mu     sync.RWMutex
	titles map[int64]string
}

var _ ports.RowSource = (*Client)(nil)

// Config describes how to reach the spreadsheet. CredentialsJSON takes
// precedence over APIKey. ClientOptions are appended last.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON []byte
	APIKey          string
	HTTPClient      *http.Client
	ClientOptions   []option.ClientOption
}

// New creates a Sheets client with read-only scope.
func New(ctx context.Context, cfg Config) (*Client, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing spreadsheet id")
	}

	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		creds, err := google.CredentialsFromJSON(ctx, cfg.CredentialsJSON, gsheet.SpreadsheetsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account credentials: %w", err)
		}
		slog.InfoContext(ctx, "Using service account credentials for Sheets API")
		opts = append(opts, option.WithCredentials(creds))
	case cfg.APIKey != "":
		slog.InfoContext(ctx, "Using API key for Sheets API")
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case len(cfg.ClientOptions) == 0:
		return nil, errors.New("missing Sheets API credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_API_KEY)")
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: id, titles: map[int64]string{}}, nil
}

// FetchRows reads the whole tab of the month with unformatted values so that
// numbers arrive as numbers.
func (c *Client) FetchRows(ctx context.Context, month months.Month) ([]core.Row, error) {
	if !month.Available {
		return nil, fmt.Errorf("%w: %s", ports.ErrMonthUnavailable, month.Key)
	}
	title, err := c.sheetTitle(ctx, month.SheetGID)
	if err != nil {
		return nil, err
	}

	rng := quoteTitle(title)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, upstream(err))
	}
	return ports.RowsFromValues(resp.Values), nil
}

// sheetTitle maps a tab gid to its title. Titles are cached per client; an
// unknown gid refreshes the cache once.
func (c *Client) sheetTitle(ctx context.Context, gid string) (string, error) {
	var id int64
	if _, err := fmt.Sscan(gid, &id); err != nil {
		return "", fmt.Errorf("invalid sheet gid %q: %w", gid, err)
	}

	c.mu.RLock()
	title, ok := c.titles[id]
	c.mu.RUnlock()
	if ok {
		return title, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read spreadsheet metadata: %w", upstream(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		c.titles[sh.Properties.SheetId] = sh.Properties.Title
	}
	title, ok = c.titles[id]
	if !ok {
		return "", &ports.StatusError{Code: http.StatusNotFound, Body: fmt.Sprintf("no tab with gid %s", gid)}
	}
	return title, nil
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// upstream converts API errors into StatusError so callers can match
// ErrUpstream.
func upstream(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &ports.StatusError{Code: gerr.Code, Body: gerr.Message}
	}
	return fmt.Errorf("%w: %v", ports.ErrUpstream, err)
}
