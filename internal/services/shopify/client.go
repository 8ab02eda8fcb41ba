package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"catalogsync/internal/logger"

	"github.com/cenkalti/backoff/v4"
)

const DefaultAPIVersion = "2024-10"

type Client struct {
	shopDomain  string
	accessToken string
	apiVersion  string
	endpoint    string
	httpClient  *http.Client
	logger      *logger.Logger

	bucket       *TokenBucket
	estimator    CostEstimator
	sleep        Sleeper
	pollInterval time.Duration

	retryInitial time.Duration
	maxRetries   uint64

	locationMu sync.Mutex
	locationID string
}

type Option func(*Client)

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// WithPlan picks the rate limits of a Shopify plan ("standard" or "plus").
func WithPlan(plan string) Option {
	return func(c *Client) { c.bucket = NewTokenBucket(LimitsForPlan(plan)) }
}

// WithEndpoint overrides the GraphQL URL. Used against fake servers.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func WithCostEstimator(e CostEstimator) Option {
	return func(c *Client) { c.estimator = e }
}

// WithSleeper replaces every wait the client performs, including the
// bucket's.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithRetryPolicy tunes ExecuteQueryWithRetry.
func WithRetryPolicy(initial time.Duration, maxRetries int) Option {
	return func(c *Client) {
		c.retryInitial = initial
		c.maxRetries = uint64(maxRetries)
	}
}

func NewClient(shopDomain, accessToken string, logger *logger.Logger, opts ...Option) *Client {
	c := &Client{
		shopDomain:  NormalizeShopDomain(shopDomain),
		accessToken: accessToken,
		apiVersion:  DefaultAPIVersion,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       logger,
		bucket:       NewTokenBucket(StandardPlan),
		estimator:    HeuristicEstimator{},
		sleep:        sleepContext,
		pollInterval: 2 * time.Second,
		retryInitial: time.Second,
		maxRetries:   5,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bucket.sleep = c.sleep
	if c.endpoint == "" {
		c.endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.shopDomain, c.apiVersion)
	}
	return c
}

func (c *Client) ShopDomain() string { return c.shopDomain }

// Bucket exposes the client's rate limiter.
func (c *Client) Bucket() *TokenBucket { return c.bucket }

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     []graphQLError  `json:"errors"`
	Extensions *struct {
		Cost *QueryCost `json:"cost"`
	} `json:"extensions"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// ExecuteQuery runs one GraphQL request and returns its data member. It waits
// for rate limit budget first and reconciles the budget with the cost the
// server reports.
func (c *Client) ExecuteQuery(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	cost := c.estimator.Estimate(query)
	waited, err := c.bucket.Acquire(ctx, cost)
	if err != nil {
		return nil, err
	}
	if waited > 0 {
		c.logger.Debug("Rate limit: waited %s for %.0f points on %s", waited, cost, c.shopDomain)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: truncate(raw)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{Message: truncate(raw), RetryAfter: retryAfter(resp.Header)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(raw)}
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.reconcile(cost, gr)

	if len(gr.Errors) > 0 {
		return nil, c.classify(ctx, cost, gr.Errors[0])
	}
	return gr.Data, nil
}

// Do runs a query and decodes its data member into out.
func (c *Client) Do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	data, err := c.ExecuteQuery(ctx, query, variables)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

// ExecuteQueryWithRetry retries throttled requests with exponential backoff
// and jitter. Every other failure is returned immediately.
func (c *Client) ExecuteQueryWithRetry(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	var data json.RawMessage
	operation := func() error {
		var err error
		data, err = c.ExecuteQuery(ctx, query, variables)
		if err != nil && !IsThrottled(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.MaxInterval = 30 * c.retryInitial
	policy.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		c.logger.Warn("Shopify request throttled on %s, retrying in %s: %v", c.shopDomain, next, err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx), notify)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DoWithRetry is Do on top of ExecuteQueryWithRetry.
func (c *Client) DoWithRetry(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	data, err := c.ExecuteQueryWithRetry(ctx, query, variables)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

const shopQuery = `query shopInfo {
  shop {
    id
    name
    email
    myshopifyDomain
    currencyCode
    weightUnit
    plan { displayName shopifyPlus }
  }
}`

// GetShopInfo fetches shop information. It doubles as a credential check.
func (c *Client) GetShopInfo(ctx context.Context) (*Shop, error) {
	var out struct {
		Shop *Shop `json:"shop"`
	}
	if err := c.Do(ctx, shopQuery, nil, &out); err != nil {
		return nil, err
	}
	if out.Shop == nil {
		return nil, errors.New("shop query returned no shop")
	}
	return out.Shop, nil
}

func (c *Client) reconcile(estimated float64, gr graphQLResponse) {
	if gr.Extensions == nil || gr.Extensions.Cost == nil {
		return
	}
	cost := gr.Extensions.Cost
	switch {
	case cost.ThrottleStatus != nil:
		c.bucket.Reconcile(*cost.ThrottleStatus)
	case cost.ActualQueryCost != nil:
		c.bucket.Refund(estimated - *cost.ActualQueryCost)
	}
}

func (c *Client) classify(ctx context.Context, cost float64, gqlErr graphQLError) error {
	switch gqlErr.Extensions.Code {
	case "THROTTLED":
		wait := c.bucket.WaitFor(cost)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		return &ThrottleError{Message: gqlErr.Message}
	case "UNAUTHENTICATED", "ACCESS_DENIED":
		return &AuthError{Message: gqlErr.Message}
	case "MAX_COST_EXCEEDED":
		return &CostError{Message: gqlErr.Message}
	default:
		return &GraphQLError{Message: gqlErr.Message, Code: gqlErr.Extensions.Code}
	}
}

func truncate(body []byte) string {
	if len(body) > 500 {
		return string(body[:500]) + "..."
	}
	return string(body)
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}
