package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	logx "kolwatch/pkg/logx"
)

const (
	defaultBaseURL    = "https://api.twitter.com/2"
	defaultMaxResults = 10

	// Search API budget on the basic tier.
	defaultBudgetRequests = 15
	defaultBudgetWindow   = 15 * time.Minute
)

type Config struct {
	BaseURL     string
	BearerToken string
	// MaxResults caps posts fetched per request (API accepts 10..100).
	MaxResults int
	// BudgetRequests/BudgetWindow form the local request budget for the
	// search endpoint. Exhausting it surfaces ErrRateLimited without a
	// wire call.
	BudgetRequests int
	BudgetWindow   time.Duration
}

// Client talks to the Twitter API v2 with bearer auth.
// Transient failures (network, 5xx) are retried by the underlying
// retryablehttp client; 429 is surfaced immediately as ErrRateLimited.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *retryablehttp.Client

	budget *rate.Limiter
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, errors.New("twitter bearer token is empty")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxResults < 10 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.MaxResults > 100 {
		cfg.MaxResults = 100
	}
	if cfg.BudgetRequests <= 0 {
		cfg.BudgetRequests = defaultBudgetRequests
	}
	if cfg.BudgetWindow <= 0 {
		cfg.BudgetWindow = defaultBudgetWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = 2
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 4 * time.Second
	hc.HTTPClient.Timeout = 20 * time.Second
	// Default policy retries 429; we want it back at the caller so the poll
	// loop can sit out the window instead of hammering the API.
	hc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	// Token bucket shaped like the API window: burst = full budget,
	// refill spread across the window.
	lim := rate.NewLimiter(rate.Every(cfg.BudgetWindow/time.Duration(cfg.BudgetRequests)), cfg.BudgetRequests)

	return &Client{cfg: cfg, log: log, http: hc, budget: lim}, nil
}

// ResolveHandles maps handles to user ids in a single batch request.
// Returned keys are lowercased handles.
func (c *Client) ResolveHandles(ctx context.Context, handles []string) (map[string]User, error) {
	if len(handles) == 0 {
		return nil, errors.New("no handles to resolve")
	}

	q := url.Values{}
	q.Set("usernames", strings.Join(handles, ","))

	var out usersByResponse
	if err := c.get(ctx, "/users/by?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("resolve handles: %w", err)
	}

	users := make(map[string]User, len(out.Data))
	for _, u := range out.Data {
		if u.ID == "" || u.Username == "" {
			continue
		}
		users[strings.ToLower(u.Username)] = u
	}
	for _, e := range out.Errors {
		c.log.Warn("handle not resolved", logx.String("handle", e.Value), logx.String("detail", e.Detail))
	}
	if len(users) == 0 {
		return nil, errors.New("resolve handles: no accounts found")
	}
	return users, nil
}

// RecentPosts fetches posts by one account created after since.
// Results arrive newest-first from the API; ordering is left to the caller.
func (c *Client) RecentPosts(ctx context.Context, userID string, since time.Time) ([]Post, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is empty")
	}
	if !c.budget.Allow() {
		return nil, fmt.Errorf("request budget exhausted: %w", ErrRateLimited)
	}

	q := url.Values{}
	q.Set("query", "from:"+userID)
	q.Set("max_results", fmt.Sprint(c.cfg.MaxResults))
	q.Set("tweet.fields", "created_at,author_id")
	if !since.IsZero() {
		q.Set("start_time", since.UTC().Format("2006-01-02T15:04:05Z"))
	}

	var out searchResponse
	if err := c.get(ctx, "/tweets/search/recent?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("fetch posts for %s: %w", userID, err)
	}

	posts := make([]Post, 0, len(out.Data))
	for _, raw := range out.Data {
		p, err := mapPost(raw)
		if err != nil {
			c.log.Warn("skipping malformed post", logx.String("user_id", userID), logx.Err(err))
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// mapPost validates the dynamic API shape into a typed Post.
func mapPost(raw apiPost) (Post, error) {
	if raw.ID == "" {
		return Post{}, errors.New("post has no id")
	}
	if raw.CreatedAt == "" {
		return Post{}, fmt.Errorf("post %s has no created_at", raw.ID)
	}
	ts, err := time.Parse(time.RFC3339, raw.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("post %s: bad created_at %q: %w", raw.ID, raw.CreatedAt, err)
	}
	return Post{
		ID:        raw.ID,
		AuthorID:  raw.AuthorID,
		Text:      raw.Text,
		CreatedAt: ts.UTC(),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
