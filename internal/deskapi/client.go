package deskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/chat"
)

// Client talks to the authenticated dashboard API.
type Client struct {
	BaseURL  string
	Token    string
	TenantID string
	HTTP     *http.Client
}

const maxClientResponseBodyBytes = 1 << 20

type RequestError struct {
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "request failed"
	}
	return describeFailure("request failed", e.StatusCode, e.Detail)
}

func (e *RequestError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// ServerDetail is the message the backend put in its error payload.
func (e *RequestError) ServerDetail() string {
	if e == nil {
		return ""
	}
	return e.Detail
}

type ResponseDecodeError struct {
	StatusCode int
	Detail     string
}

func (e *ResponseDecodeError) Error() string {
	if e == nil {
		return "invalid response"
	}
	return describeFailure("invalid response", e.StatusCode, e.Detail)
}

func describeFailure(kind string, status int, detail string) string {
	if strings.TrimSpace(detail) == "" {
		return fmt.Sprintf("%s (%d)", kind, status)
	}
	return fmt.Sprintf("%s (%d): %s", kind, status, detail)
}

func (e *ResponseDecodeError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// HTTPStatusCode returns the HTTP status carried by typed client errors.
func HTTPStatusCode(err error) (int, bool) {
	var statusErr interface {
		HTTPStatusCode() int
	}
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	status := statusErr.HTTPStatusCode()
	if status <= 0 {
		return 0, false
	}
	return status, true
}

func NewClient(cfg Config, tenantOverride string) (*Client, error) {
	tenant := strings.TrimSpace(tenantOverride)
	if tenant == "" {
		tenant = strings.TrimSpace(cfg.DefaultTenant)
	}
	baseURL := normalizeAPIBaseURL(cfg.APIBaseURL)
	if baseURL == "" {
		return nil, errors.New("missing API base URL")
	}
	return &Client{
		BaseURL:  baseURL,
		Token:    strings.TrimSpace(cfg.Token),
		TenantID: tenant,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *Client) requireAuth() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("missing auth token; run `agentdesk auth login --token <token>`")
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	baseURL := normalizeAPIBaseURL(c.BaseURL)
	if baseURL == "" {
		return nil, errors.New("missing API base URL")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(c.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenant := strings.TrimSpace(c.TenantID); tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, input any) (*http.Request, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxClientResponseBodyBytes))
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 400 {
		return &RequestError{
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp.Header.Get("Content-Type"), payload),
		}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return io.EOF
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &ResponseDecodeError{
			StatusCode: resp.StatusCode,
			Detail:     decodeFailureDetail(resp.Header.Get("Content-Type"), payload, err),
		}
	}
	return nil
}

// mapNotFound lets callers test fetch misses with chat.ErrNotFound.
func mapNotFound(err error) error {
	if status, ok := HTTPStatusCode(err); ok && status == http.StatusNotFound {
		return fmt.Errorf("%w: %w", chat.ErrNotFound, err)
	}
	return err
}

const maxErrorDetailLen = 200

// errorDetail is the text carried by a RequestError: the backend's own
// message when the body has one, else the collapsed body. HTML error pages
// are never surfaced to users.
func errorDetail(contentType string, payload []byte) string {
	body := strings.TrimSpace(string(payload))
	switch {
	case body == "":
		return ""
	case isHTMLBody(contentType, body):
		return "html response body omitted"
	}
	if msg := backendMessage(payload); msg != "" {
		return clipDetail(msg)
	}
	return clipDetail(body)
}

func decodeFailureDetail(contentType string, payload []byte, err error) string {
	body := strings.TrimSpace(string(payload))
	switch {
	case body == "":
		return "empty response body"
	case isHTMLBody(contentType, body):
		return "expected JSON response but received HTML"
	}
	return fmt.Sprintf("invalid JSON response: %v", err)
}

// backendMessage looks for the message under error, message or detail. Each
// may be a string, an object with a message, or a validation list of
// {"msg": ...} entries.
func backendMessage(payload []byte) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message", "detail"} {
		if msg := messageFromField(body[key]); msg != "" {
			return msg
		}
	}
	return ""
}

func messageFromField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return strings.TrimSpace(nested.Message)
	}
	var validation []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &validation); err == nil {
		for _, entry := range validation {
			if msg := strings.TrimSpace(entry.Msg); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func isHTMLBody(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	lower := strings.ToLower(body)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

func clipDetail(value string) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if len(collapsed) <= maxErrorDetailLen {
		return collapsed
	}
	return collapsed[:maxErrorDetailLen-3] + "..."
}

func normalizeAPIBaseURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(value, "/")
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimRight(parsed.String(), "/")
}
