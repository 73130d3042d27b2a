package statuslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client is a minimal Statusline HTTP API client. BaseURL includes the API
// base path, e.g. http://localhost:8080/api.
type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, secret string) *Client {
	return &Client{
		BaseURL: baseURL,
		Secret:  secret,
		Timeout: 10 * time.Second,
	}
}

type Health struct {
	OK   bool   `json:"ok"`
	Week string `json:"week"`
	TS   string `json:"ts"`
}

// WeeklyPreview is the send_weekly result. OK is false with Error set when
// the member is not in the directory.
type WeeklyPreview struct {
	OK             bool   `json:"ok"`
	PreviewMessage string `json:"preview_message"`
	Tasks          int    `json:"tasks"`
	Error          string `json:"error"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// SendWeekly previews the weekly digest for a member; an empty week means the current one.
func (c *Client) SendWeekly(ctx context.Context, to, week string) (WeeklyPreview, error) {
	body := map[string]any{"to": to}
	if week != "" {
		body["week"] = week
	}
	var resp WeeklyPreview
	err := c.do(ctx, http.MethodPost, "jobs/send_weekly", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Secret != "" {
		req.Header.Set("X-Bot-Secret", c.Secret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       gjson.GetBytes(b, "error.code").String(),
			Body:       string(b),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
