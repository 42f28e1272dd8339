// Package api is the REST client of the remote bill store.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/store"
)

var _ store.BillStore = (*Client)(nil)

// Client talks to the bill store over HTTP. The zero timeout is deliberate:
// calls are bounded only by the caller's context.
type Client struct {
	baseURL string
	hc      *http.Client
	token   string
	logger  *slog.Logger
}

// New creates a client for the store rooted at baseURL. A nil hc uses NewHTTPClient.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = NewHTTPClient()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
		logger:  log.Component(log.Discard(), log.ComponentStore),
	}
}

// WithLogger returns a copy of the client that logs through l.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	cp := *c
	cp.logger = log.Component(l, log.ComponentStore)
	return &cp
}

// WithToken returns a copy of the client that authenticates with the given jwt.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// NewHTTPClient returns a pooled client with dial and header timeouts but no
// overall request timeout.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// List implements store.BillLister. Records are decoded one by one so a
// record with unexpected field types keeps its place in the batch with the
// fields that could be read.
func (c *Client) List(ctx context.Context) ([]core.Bill, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/bills", nil)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := c.do(req, &records); err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	bills := make([]core.Bill, 0, len(records))
	for i, raw := range records {
		b, err := core.UnmarshalBill(raw)
		if err != nil {
			b = looseBill(raw)
			c.logger.WarnContext(ctx, "Bill record partially decoded",
				log.FieldBillID, b.ID, "index", i, log.FieldError, err)
		}
		bills = append(bills, b)
	}
	return bills, nil
}

// looseBill keeps the scalar fields of a record that does not decode into
// core.Bill. Numbers found in text fields are kept as their text.
func looseBill(raw json.RawMessage) core.Bill {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return core.Bill{}
	}
	text := func(key string) string {
		switch v := m[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return ""
	}
	b := core.Bill{
		ID:           text("id"),
		Email:        text("email"),
		Type:         text("type"),
		Name:         text("name"),
		Date:         text("date"),
		VAT:          core.VAT(text("vat")),
		Pct:          core.Pct(core.ParsePct(text("pct"))),
		Commentary:   text("commentary"),
		FileURL:      core.StringPtr(text("fileUrl")),
		FileName:     core.StringPtr(text("fileName")),
		Status:       core.Status(text("status")),
		CommentAdmin: text("commentAdmin"),
	}
	if amount, err := core.ParseAmount(text("amount")); err == nil {
		b.Amount = amount
	}
	return b
}

// Create implements store.AttachmentCreator with a multipart/form-data body
// holding the "file" and "email" fields.
func (c *Client) Create(ctx context.Context, cr store.CreateRequest) (store.CreateResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(cr.Attachment.Name)))
	ct := cr.Attachment.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return store.CreateResult{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(cr.Attachment.Content); err != nil {
		return store.CreateResult{}, fmt.Errorf("write file part: %w", err)
	}
	if err := mw.WriteField("email", cr.Email); err != nil {
		return store.CreateResult{}, fmt.Errorf("write email field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return store.CreateResult{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/bills", &body)
	if err != nil {
		return store.CreateResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res store.CreateResult
	if err := c.do(req, &res); err != nil {
		return store.CreateResult{}, fmt.Errorf("create attachment: %w", err)
	}
	c.logger.DebugContext(ctx, "Attachment uploaded",
		log.FieldBillID, res.Key, log.FieldFileName, cr.Attachment.Name, "size", len(cr.Attachment.Content))
	return res, nil
}

// Update implements store.BillUpdater. Without a selector the bill is
// created from the JSON body alone.
func (c *Client) Update(ctx context.Context, ur store.UpdateRequest) (core.Bill, error) {
	method, path := http.MethodPatch, "/bills/"+url.PathEscape(ur.Selector)
	if ur.Selector == "" {
		method, path = http.MethodPost, "/bills"
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(ur.Data))
	if err != nil {
		return core.Bill{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var bill core.Bill
	if err := c.do(req, &bill); err != nil {
		return core.Bill{}, fmt.Errorf("update bill %q: %w", ur.Selector, err)
	}
	return bill, nil
}

// Login exchanges credentials for a jwt.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var res struct {
		JWT string `json:"jwt"`
	}
	if err := c.do(req, &res); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if res.JWT == "" {
		return "", errors.New("login: empty token in response")
	}
	return res.JWT, nil
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (core.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users/me", nil)
	if err != nil {
		return core.User{}, err
	}
	var u core.User
	if err := c.do(req, &u); err != nil {
		return core.User{}, fmt.Errorf("current user: %w", err)
	}
	return u, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &store.StatusError{Code: resp.StatusCode, Message: msg}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
