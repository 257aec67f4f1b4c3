package feed

import (
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

	"golang.org/x/time/rate"

	logx "ghwatch/pkg/logx"
)

// ErrNotFound matches an APIError with status 404.
var ErrNotFound = errors.New("not found")

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the GitHub REST API. It never retries: a failed fetch is
// reported to the caller, which moves on.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logx.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRequestsPerHour caps the global request rate. Zero disables the cap.
func WithRequestsPerHour(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/3600), max(1, n/60))
	}
}

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

const pageSize = 100

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logx.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchEvents returns the public events of user, newest first.
func (c *Client) FetchEvents(ctx context.Context, user string) ([]Event, error) {
	q := url.Values{"per_page": {strconv.Itoa(pageSize)}}
	var out []Event
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(user)+"/events", q, &out); err != nil {
		return nil, fmt.Errorf("fetch events of %s: %w", user, err)
	}
	return out, nil
}

// Exists reports whether a GitHub account named user exists.
func (c *Client) Exists(ctx context.Context, user string) (bool, error) {
	var u struct {
		Login string `json:"login"`
	}
	err := c.getJSON(ctx, "/users/"+url.PathEscape(user), nil, &u)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", user, err)
	}
	return true, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "ghwatch")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if rem := resp.Header.Get("X-RateLimit-Remaining"); rem != "" {
		if n, err := strconv.Atoi(rem); err == nil && n < 100 {
			c.log.Warn("github rate limit nearly exhausted", logx.Int("remaining", n), logx.String("reset", resp.Header.Get("X-RateLimit-Reset")))
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s := string(body)
		if len(s) > 512 {
			s = s[:512]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: s}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
