package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/utils/logging"
	"github.com/secmon-lab/iris/pkg/utils/safe"
)

const (
	defaultBaseURL     = "https://graph.microsoft.com/v1.0"
	defaultMaxRetries  = 3
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
	defaultHTTPTimeout = 10 * time.Second
)

// Client fetches resources from the upstream API with the owning user's
// delegated token. Throttling and server errors are retried with
// exponential backoff; a 401 triggers exactly one forced token refresh.
type Client struct {
	baseURL     string
	tokens      interfaces.TokenSource
	httpClient  *http.Client
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
}

// Option is a functional option for Client
type Option func(*Client)

// WithBaseURL overrides the API base URL
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMaxRetries sets how many times a retriable response is retried
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoff sets the exponential backoff base delay and its cap
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

func New(tokens interfaces.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:     defaultBaseURL,
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get fetches one resource by its relative path, e.g.
// "teams/{id}/channels/{id}/messages/{id}", and returns the raw body.
func (c *Client) Get(ctx context.Context, userID types.UserID, resource string) ([]byte, error) {
	return c.do(ctx, userID, c.resourceURL(resource))
}

type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// GetProfile fetches the profile of the token's owner
func (c *Client) GetProfile(ctx context.Context, userID types.UserID) (*Profile, error) {
	body, err := c.do(ctx, userID, c.resourceURL("me"))
	if err != nil {
		return nil, err
	}
	return parseProfile(body)
}

// FetchProfile calls the profile endpoint with a raw bearer token. The
// authorization callback needs this before any session exists, so it
// cannot go through a TokenSource.
func FetchProfile(ctx context.Context, client *http.Client, profileURL, token string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", profileURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create profile request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch profile")
	}
	defer safe.Close(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("profile request failed", goerr.V("status", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read profile response")
	}

	return parseProfile(body)
}

func parseProfile(body []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, goerr.Wrap(err, "failed to parse profile response")
	}
	if p.ID == "" {
		return nil, goerr.New("profile response has no user ID")
	}
	return &p, nil
}

// ListChildMessages fetches all replies of a channel message, following
// pagination links until the collection is exhausted.
func (c *Client) ListChildMessages(ctx context.Context, userID types.UserID, teamID, channelID, messageID string) ([]json.RawMessage, error) {
	next := c.resourceURL(fmt.Sprintf("teams/%s/channels/%s/messages/%s/replies", teamID, channelID, messageID))

	var result []json.RawMessage
	for next != "" {
		body, err := c.do(ctx, userID, next)
		if err != nil {
			return nil, err
		}

		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, goerr.Wrap(err, "failed to parse replies page")
		}

		result = append(result, page.Value...)
		next = page.NextLink
	}

	return result, nil
}

func (c *Client) resourceURL(resource string) string {
	if strings.HasPrefix(resource, "https://") || strings.HasPrefix(resource, "http://") {
		return resource
	}
	resource = strings.TrimPrefix(resource, "/")
	resource = strings.TrimPrefix(resource, "v1.0/")
	resource = strings.TrimPrefix(resource, "beta/")
	return c.baseURL + "/" + resource
}

func (c *Client) do(ctx context.Context, userID types.UserID, url string) ([]byte, error) {
	token, err := c.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get access token", goerr.V("user_id", userID))
	}

	logger := logging.From(ctx)
	refreshed := false

	for attempt := 0; ; attempt++ {
		body, status, retryAfter, err := c.request(ctx, url, token)
		if err != nil {
			return nil, err
		}

		switch {
		case status >= 200 && status < 300:
			return body, nil

		case status == http.StatusUnauthorized:
			if refreshed {
				return nil, goerr.Wrap(ErrAuthenticationFailed, "token rejected after refresh",
					goerr.V("user_id", userID), goerr.V("url", url))
			}
			refreshed = true
			token, err = c.tokens.ForceRefresh(ctx, userID)
			if err != nil {
				return nil, goerr.Wrap(ErrAuthenticationFailed, "forced refresh failed",
					goerr.V("user_id", userID), goerr.V("cause", err))
			}
			continue

		case status == http.StatusTooManyRequests || status >= 500:
			if attempt >= c.maxRetries {
				sentinel := ErrUpstreamUnavailable
				if status == http.StatusTooManyRequests {
					sentinel = ErrRateLimited
				}
				return nil, goerr.Wrap(sentinel, "retries exhausted",
					goerr.V("url", url), goerr.V("status", status), goerr.V("attempts", attempt+1))
			}
			delay := c.backoff(attempt)
			if status == http.StatusTooManyRequests && retryAfter > 0 {
				delay = retryAfter
			}
			logger.Debug("retrying upstream request",
				"url", url, "status", status, "delay", delay, "attempt", attempt+1)
			if err := sleep(ctx, delay); err != nil {
				return nil, goerr.Wrap(err, "canceled while backing off")
			}

		default:
			return nil, &ClientError{StatusCode: status, Body: truncate(string(body), 256)}
		}
	}
}

func (c *Client) request(ctx context.Context, url, token string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, 0, 0, goerr.Wrap(err, "failed to create request", goerr.V("url", url))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, goerr.Wrap(err, "request failed", goerr.V("url", url))
	}
	defer safe.Close(ctx, resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, 0, goerr.Wrap(err, "failed to read response body", goerr.V("url", url))
	}

	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return body, resp.StatusCode, retryAfter, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.backoffBase << attempt
	if delay > c.backoffCap {
		delay = c.backoffCap
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
