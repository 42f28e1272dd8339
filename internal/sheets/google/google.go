package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"billed/internal/core"
	"billed/internal/log"
	ports "billed/internal/sheets"
)

var _ ports.BillExporter = (*Client)(nil)

type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
}

// Client writes one row per bill to a spreadsheet tab, keyed by bill id in column A.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// New builds a Sheets client. Service account credentials come from
// cfg.CredentialsJSON; extra options (endpoint, http client) are applied after.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...goption.ClientOption) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Bills"
	}
	if logger == nil {
		logger = log.Discard()
	}

	var all []goption.ClientOption
	if len(cfg.CredentialsJSON) > 0 {
		all = append(all,
			goption.WithCredentialsJSON(cfg.CredentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope),
			goption.WithHTTPClient(newHTTPClientWithPooling()),
		)
	} else if len(opts) == 0 {
		return nil, errors.New("missing service account credentials")
	}
	all = append(all, opts...)

	svc, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets exporter ready",
		"spreadsheet_id", cfg.SpreadsheetID, "sheet", cfg.SheetName)

	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetName: cfg.SheetName, logger: logger}, nil
}

// newHTTPClientWithPooling keeps a small pool of connections to the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// ExportBill rewrites the row already holding b.ID or appends a new one.
// An empty tab gets the header row first.
func (c *Client) ExportBill(ctx context.Context, b core.Bill) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	ids, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read bill ids from %s: %w", c.sheetName, err)
	}

	if row := findRow(ids.Values, b.ID); row > 0 {
		rng := fmt.Sprintf("%s!A%d:%s%d", c.sheetName, row, lastColumn(), row)
		vr := &gsheet.ValueRange{Values: [][]any{ports.Row(b)}}
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("update row %d in %s: %w", row, c.sheetName, err)
		}
		c.logger.DebugContext(ctx, "Bill row rewritten", log.FieldBillID, b.ID, "range", rng)
		return rng, nil
	}

	values := [][]any{ports.Row(b)}
	if len(ids.Values) == 0 {
		header := make([]any, len(ports.Header))
		for i, h := range ports.Header {
			header[i] = h
		}
		values = append([][]any{header}, values...)
	}
	rng := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn())
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append row to %s: %w", c.sheetName, err)
	}
	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Bill row appended", log.FieldBillID, b.ID, "range", ref)
	return ref, nil
}

// findRow returns the 1-based row whose first cell equals id, or 0.
func findRow(values [][]any, id string) int {
	if id == "" {
		return 0
	}
	for i, v := range values {
		if len(v) > 0 && fmt.Sprint(v[0]) == id {
			return i + 1
		}
	}
	return 0
}

func lastColumn() string {
	return string(rune('A' + len(ports.Header) - 1))
}
