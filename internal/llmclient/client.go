// Package llmclient talks to an OpenAI-compatible chat completions endpoint:
// it sends the reference and current images with the calibration context and
// turns the reply into a validated list of corrective actions.
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/llmutil"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// Operation labels passed to the Observer.
const (
	OpRequestActions = "request_actions"
	OpTestConnection = "test_connection"
	OpListModels     = "list_models"
)

// Outcome labels passed to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeHTTPError   = "http_error"
	OutcomeNetwork     = "network_error"
	OutcomeInvalid     = "invalid_response"
)

// Observer is notified once per HTTP attempt.
type Observer interface {
	ObserveLLMRequest(op, outcome string, elapsed time.Duration)
}

// RequestContext is everything the model sees for one iteration.
type RequestContext struct {
	Reference    image.Image
	Current      image.Image
	Metrics      vision.Metrics
	Profile      *calibration.Profile
	Instructions string
	CurrentState map[string]float64
}

// Response is a validated model reply. Raw is the normalized JSON object.
type Response struct {
	Raw        map[string]any
	Summary    string
	Actions    []map[string]any
	Stop       bool
	Confidence float64
	// Gated is set when low confidence forced an empty, stopping reply.
	Gated bool
}

// Client is safe for concurrent use.
type Client struct {
	cfg        config.LLMConfig
	logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	timer      backoff.Timer
	observer   Observer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is wrapped for
// decompression and request IDs.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver registers a per-attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTimer replaces the timer used between retries.
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) { c.timer = t }
}

// New creates a client from the llm config section.
func New(cfg config.LLMConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		logger:     logger.Named("llm_client"),
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	wrapped := *c.httpClient
	wrapped.Transport = newTransport(c.httpClient.Transport)
	c.httpClient = &wrapped
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// RequestActions asks the model for the next corrective actions. Transport
// failures and unparseable replies are retried up to MaxRetries times; parse
// failures retry with a stricter system prompt.
func (c *Client) RequestActions(ctx context.Context, rc RequestContext) (*Response, error) {
	if rc.Current == nil {
		return nil, errors.New("llmclient: Current screenshot is empty.")
	}
	if rc.Reference == nil {
		return nil, errors.New("llmclient: reference image is missing")
	}
	ref, err := vision.EncodeJPEG(rc.Reference, c.cfg.MaxImageDim, c.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("llmclient: encode reference: %w", err)
	}
	cur, err := vision.EncodeJPEG(rc.Current, c.cfg.MaxImageDim, c.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("llmclient: encode current: %w", err)
	}
	user, err := userContent(rc, ref, cur)
	if err != nil {
		return nil, fmt.Errorf("llmclient: %w", err)
	}

	policy := newRetryPolicy(c.cfg.BackoffInitial, c.cfg.BackoffMax)
	var (
		hint        string
		attempts    int
		rateLimits  int
		retryAfter  time.Duration
		lastLimited bool
		result      *Response
	)

	operation := func() error {
		attempts++
		body, err := json.Marshal(chatRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt(rc, hint)},
				{Role: "user", Content: user},
			},
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal request payload: %w", err))
		}
		c.logger.Info("LLM request attempt.", zap.Int("attempt", attempts), zap.Int("payload_bytes", len(body)))

		content, err := c.chat(ctx, OpRequestActions, body)
		if err != nil {
			var he *HTTPError
			lastLimited = false
			switch {
			case ctx.Err() != nil:
				return backoff.Permanent(ctx.Err())
			case errors.As(err, &he) && he.StatusCode == http.StatusTooManyRequests:
				rateLimits++
				lastLimited = true
				retryAfter = he.RetryAfter
				if he.RetryAfter > 0 {
					policy.waitNext(he.RetryAfter)
				}
				return err
			case errors.As(err, &he) && !he.Transient():
				return backoff.Permanent(err)
			}
			return err
		}

		resp, err := c.interpret(content)
		if err != nil {
			c.logger.Warn("LLM response parsing failed.", zap.Error(err))
			c.observe(OpRequestActions, OutcomeInvalid, 0)
			hint = strictHint
			policy.waitNext(0)
			return err
		}
		result = resp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Retrying LLM request.", zap.Error(err), zap.Duration("wait", wait))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(c.cfg.MaxRetries, 0))), ctx)
	err = backoff.RetryNotifyWithTimer(operation, b, notify, c.timer)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Parse failures after a 429 keep the rate-limit classification.
	if rateLimits == attempts || lastLimited {
		return nil, &RateLimitError{Attempts: attempts, RetryAfter: retryAfter}
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
}

// interpret parses, normalizes, validates and gates one reply.
func (c *Client) interpret(content string) (*Response, error) {
	parsed, err := llmutil.ParseObject(content)
	if err != nil {
		return nil, err
	}
	data, err := Normalize(parsed)
	if err != nil {
		return nil, err
	}
	if err := Validate(data); err != nil {
		return nil, err
	}

	resp := &Response{
		Raw:        data,
		Summary:    data["summary"].(string),
		Stop:       data["stop"].(bool),
		Confidence: data["confidence"].(float64),
	}
	for _, a := range data["actions"].([]any) {
		resp.Actions = append(resp.Actions, a.(map[string]any))
	}
	if resp.Confidence < c.cfg.MinConfidence {
		c.logger.Info("Model confidence below threshold, stopping.",
			zap.Float64("confidence", resp.Confidence),
			zap.Float64("min_confidence", c.cfg.MinConfidence))
		resp.Actions = nil
		resp.Stop = true
		resp.Gated = true
	}
	return resp, nil
}

// TestConnection sends a trivial prompt and returns the model's reply.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	if c.cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PingTimeout)
		defer cancel()
	}
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a connectivity test. Reply with OK."},
			{Role: "user", Content: "ping"},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("LLM test connection request.")
	return c.chat(ctx, OpTestConnection, body)
}

// ListModels returns the model ids served at {scheme}://{host}/v1/models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	u, err := modelsURL(c.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(OpListModels, OutcomeNetwork, time.Since(start))
		return nil, fmt.Errorf("llmclient: list models: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: read models: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		c.observe(OpListModels, OutcomeHTTPError, time.Since(start))
		return nil, httpError(resp, raw)
	}
	c.observe(OpListModels, OutcomeOK, time.Since(start))

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("llmclient: decode models: %w", err)
	}
	ids := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		ids = append(ids, m.ID)
	}
	models := sortedUnique(ids)
	c.logger.Info("LLM models listed.", zap.Int("count", len(models)))
	return models, nil
}

// chat posts body to the completions endpoint and returns the first choice's content.
func (c *Client) chat(ctx context.Context, op string, body []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, OutcomeNetwork, time.Since(start))
		c.logger.Warn("Network error during LLM request.", zap.Error(err))
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(op, OutcomeNetwork, elapsed)
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	c.logger.Debug("LLM response.",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
		zap.String("body", llmutil.Truncate(string(raw), 2000)))

	if resp.StatusCode/100 != 2 {
		he := httpError(resp, raw)
		if he.StatusCode == http.StatusTooManyRequests {
			c.observe(op, OutcomeRateLimited, elapsed)
			c.logger.Warn("Rate limited (429).", zap.Duration("retry_after", he.RetryAfter))
		} else {
			c.observe(op, OutcomeHTTPError, elapsed)
		}
		return "", he
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.observe(op, OutcomeInvalid, elapsed)
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(payload.Choices) == 0 {
		c.observe(op, OutcomeInvalid, elapsed)
		return "", errors.New("model API returned no choices")
	}
	c.observe(op, OutcomeOK, elapsed)
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) observe(op, outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveLLMRequest(op, outcome, d)
	}
}

func httpError(resp *http.Response, body []byte) *HTTPError {
	he := &HTTPError{StatusCode: resp.StatusCode, Body: llmutil.Truncate(strings.TrimSpace(string(body)), 500)}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			he.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return he
}

func modelsURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("llmclient: endpoint %q is not an absolute URL", endpoint)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/v1/models"}).String(), nil
}
