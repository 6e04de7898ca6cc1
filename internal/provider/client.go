// Package provider talks to the upstream mail-provisioning service.
//
// Every call is a single GET carrying the client key; replies share a
// {success, message, data} envelope.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout = 15 * time.Second
	InboxFolder    = "inbox"

	balancePath = "/api/user/balance"
	stockPath   = "/api/mail/getStock"
	acquirePath = "/api/mail/getMail"
	messagePath = "/api/mail/getFirstMail"

	accountSeparator = "|"
	maxBodyBytes     = 1 << 20
)

type Client struct {
	baseURL    string
	clientKey  string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientKey:  cfg.ClientKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	data, err := c.call(ctx, "balance", balancePath, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	if err := json.Unmarshal(data, &balance); err != nil {
		return decimal.Zero, &Error{Op: "balance", Kind: KindDecode, Err: err}
	}
	return balance, nil
}

func (c *Client) GetStock(ctx context.Context) ([]Stock, error) {
	data, err := c.call(ctx, "stock", stockPath, nil)
	if err != nil {
		return nil, err
	}

	var stock []Stock
	if err := json.Unmarshal(data, &stock); err != nil {
		return nil, &Error{Op: "stock", Kind: KindDecode, Err: err}
	}
	return stock, nil
}

// AcquireAccounts buys quantity accounts of mailType and returns their
// handles. An empty slice means the provider reported success without
// delivering anything.
func (c *Client) AcquireAccounts(ctx context.Context, mailType string, quantity int) ([]string, error) {
	params := url.Values{}
	params.Set("mailType", mailType)
	params.Set("quantity", strconv.Itoa(quantity))

	data, err := c.call(ctx, "acquire", acquirePath, params)
	if err != nil {
		return nil, err
	}

	raw, err := decodeAccounts(data)
	if err != nil {
		return nil, &Error{Op: "acquire", Kind: KindDecode, Err: err}
	}

	var handles []string
	for _, h := range strings.Split(raw, accountSeparator) {
		if h = strings.TrimSpace(h); h != "" {
			handles = append(handles, h)
		}
	}
	return handles, nil
}

// GetLatestMessage returns the newest message in folder of the mailbox
// behind handle. Malformed handles fail locally.
func (c *Client) GetLatestMessage(ctx context.Context, handle string, folder string) (string, error) {
	if _, err := ParseHandle(handle); err != nil {
		return "", &Error{Op: "message", Kind: KindValidation, Err: err}
	}
	if folder == "" {
		folder = InboxFolder
	}

	params := url.Values{}
	params.Set("account", handle)
	params.Set("folder", folder)

	data, err := c.call(ctx, "message", messagePath, params)
	if err != nil {
		return "", err
	}

	content, err := decodeMessage(data)
	if err != nil {
		return "", &Error{Op: "message", Kind: KindDecode, Err: err}
	}
	if content == "" {
		return "", &Error{Op: "message", Kind: KindUpstream, Err: ErrNoMessage}
	}
	return content, nil
}

func (c *Client) call(ctx context.Context, op string, path string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("clientKey", c.clientKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindValidation, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("Provider request failed", "op", op, "error", err)
		return nil, &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Op: op, Kind: KindTransport, Err: err}
	}

	slog.Debug("Provider request completed",
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Op: op, Kind: KindTransport, Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Op: op, Kind: KindDecode, Err: err}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request rejected by provider"
		}
		return nil, &Error{Op: op, Kind: KindUpstream, Message: msg}
	}
	return env.Data, nil
}

// The provider documents data as a pipe-delimited string but some
// deployments answer with a JSON array.
func decodeAccounts(data json.RawMessage) (string, error) {
	if isEmpty(data) {
		return "", nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		return joined, nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return "", err
	}
	return strings.Join(list, accountSeparator), nil
}

func decodeMessage(data json.RawMessage) (string, error) {
	if isEmpty(data) {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return strings.TrimSpace(text), nil
	}

	var msg messagePayload
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", err
	}

	body := msg.Content
	if body == "" {
		body = msg.HTML
	}

	parts := make([]string, 0, 2)
	for _, p := range []string{msg.Subject, body} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func isEmpty(data json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}
