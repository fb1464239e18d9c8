// Package postgrest talks to a PostgREST-compatible REST endpoint.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/recordsync/internal/record"
)

// NilUUID is the sentinel used to express "every row" in a bulk delete.
const NilUUID = "00000000-0000-0000-0000-000000000000"

var ErrInvalidInput = errors.New("invalid input")

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// API is the subset of the remote protocol the sync engine uses.
type API interface {
	Select(ctx context.Context, table string, filters url.Values) ([]record.Record, error)
	Insert(ctx context.Context, table string, rows ...record.Record) ([]record.Record, error)
	Update(ctx context.Context, table, id string, patch record.Record) ([]record.Record, error)
	Delete(ctx context.Context, table, id string) error
	DeleteAll(ctx context.Context, table string) error
}

type Options struct {
	APIKey string
	// Token returns the active session token. When it is nil or returns an
	// empty string the API key is sent as the bearer.
	Token func() string
	// HTTPClient defaults to a client without a timeout; deadlines come from
	// the caller's context.
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	token      func() string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(baseURL string, opts Options) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		token:      opts.Token,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
	}
}

func (c *Client) Select(ctx context.Context, table string, filters url.Values) ([]record.Record, error) {
	if strings.TrimSpace(table) == "" {
		return nil, ErrInvalidInput
	}
	q := url.Values{}
	q.Set("select", "*")
	for key, values := range filters {
		for _, value := range values {
			q.Add(key, value)
		}
	}
	var out []record.Record
	if err := c.doJSON(ctx, http.MethodGet, tablePath(table, q), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []record.Record{}
	}
	return out, nil
}

// Insert posts a single object for one row and an array otherwise, and
// returns the representation the server echoes back.
func (c *Client) Insert(ctx context.Context, table string, rows ...record.Record) ([]record.Record, error) {
	if strings.TrimSpace(table) == "" || len(rows) == 0 {
		return nil, ErrInvalidInput
	}
	var body any = rows
	if len(rows) == 1 {
		body = rows[0]
	}
	var out []record.Record
	if err := c.doJSON(ctx, http.MethodPost, tablePath(table, nil), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, table, id string, patch record.Record) ([]record.Record, error) {
	if strings.TrimSpace(table) == "" || strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	q := url.Values{}
	q.Set("id", "eq."+id)
	var out []record.Record
	if err := c.doJSON(ctx, http.MethodPatch, tablePath(table, q), patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	if strings.TrimSpace(table) == "" || strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	q := url.Values{}
	q.Set("id", "eq."+id)
	return c.doJSON(ctx, http.MethodDelete, tablePath(table, q), nil, nil)
}

func (c *Client) DeleteAll(ctx context.Context, table string) error {
	if strings.TrimSpace(table) == "" {
		return ErrInvalidInput
	}
	q := url.Values{}
	q.Set("id", "neq."+NilUUID)
	return c.doJSON(ctx, http.MethodDelete, tablePath(table, q), nil, nil)
}

func tablePath(table string, q url.Values) string {
	path := "/" + url.PathEscape(strings.TrimSpace(table))
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *Client) bearer() string {
	if c.token != nil {
		if token := strings.TrimSpace(c.token()); token != "" {
			return token
		}
	}
	return c.apiKey
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.bearer())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method != http.MethodGet {
			req.Header.Set("Prefer", "return=representation")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payloadBytes)) == 0 {
				return nil
			}
			return decodeRows(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details string `json:"details"`
			Hint    string `json:"hint"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
			Details:    errPayload.Details,
			Hint:       errPayload.Hint,
		}
	}
}

// decodeRows accepts either an array or a single object, since
// representation responses differ between servers.
func decodeRows(payload []byte, out any) error {
	trimmed := bytes.TrimSpace(payload)
	if rows, ok := out.(*[]record.Record); ok && len(trimmed) > 0 && trimmed[0] == '{' {
		var single record.Record
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		*rows = []record.Record{single}
		return nil
	}
	return json.Unmarshal(trimmed, out)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
