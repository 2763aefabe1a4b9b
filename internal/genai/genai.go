// Package genai phrases conversation replies using the OpenAI API.
//
// Calls carry a timeout, transient failures are retried with exponential
// backoff, and a rate-limit response puts the whole client into a cooldown
// window so concurrent sessions do not stampede the service.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the phrasing client.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultCooldown    = 30 * time.Second
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 200
	// MinReplyRunes is the shortest reply accepted from the model.
	MinReplyRunes = 5
)

var (
	// ErrNoChoicesReturned is returned when the API response has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned by NewClient without an API key.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")
)

// ErrorKind classifies external failures.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "TIMEOUT"
	KindRateLimit       ErrorKind = "RATE_LIMIT"
	KindNetwork         ErrorKind = "NETWORK"
	KindInvalidResponse ErrorKind = "INVALID_RESPONSE"
	KindAPI             ErrorKind = "API"
)

// Error is returned for every failed Phrase call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindNetwork:
		return true
	case KindAPI:
		return e.StatusCode >= 500
	}
	return false
}

// PromptContext is what the model sees when phrasing a reply.
type PromptContext struct {
	State       models.StateType
	DisplayName string
	UserData    models.UserData
	Recent      []models.Message
	// Template is the canned message the model rewrites; it is also the fallback.
	Template     string
	QuickReplies []string
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Cooldown    time.Duration
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option { return func(o *Opts) { o.APIKey = key } }

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option { return func(o *Opts) { o.BaseURL = url } }

// WithModel sets the chat model.
func WithModel(model string) Option { return func(o *Opts) { o.Model = model } }

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// WithMaxAttempts bounds the number of attempts per call.
func WithMaxAttempts(n int) Option { return func(o *Opts) { o.MaxAttempts = n } }

// WithBaseBackoff sets the first retry delay; it doubles per attempt.
func WithBaseBackoff(d time.Duration) Option { return func(o *Opts) { o.BaseBackoff = d } }

// WithCooldown sets how long calls are suppressed after a rate-limit response.
func WithCooldown(d time.Duration) Option { return func(o *Opts) { o.Cooldown = d } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(o *Opts) { o.Temperature = t } }

// WithMaxTokens caps reply length.
func WithMaxTokens(n int64) Option { return func(o *Opts) { o.MaxTokens = n } }

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat chatService
	cfg  Opts

	mu            sync.Mutex
	cooldownUntil time.Time
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

func defaultOpts() Opts {
	return Opts{
		Model:       DefaultModel,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		Cooldown:    DefaultCooldown,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// NewClient creates a phrasing client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled here so the cooldown sees every rate-limit response.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI client created", "model", cfg.Model, "timeout", cfg.Timeout, "maxAttempts", cfg.MaxAttempts)
	return newClient(completionsAdapter{svc: &cli.Chat.Completions}, cfg), nil
}

func newClient(chat chatService, cfg Opts) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{chat: chat, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InCooldown reports whether calls are currently suppressed.
func (c *Client) InCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.cooldownUntil)
}

func (c *Client) startCooldown() {
	c.mu.Lock()
	c.cooldownUntil = c.now().Add(c.cfg.Cooldown)
	c.mu.Unlock()
	slog.Warn("GenAI rate limited, entering cooldown", "cooldown", c.cfg.Cooldown)
}

// Phrase asks the model to rewrite pc.Template for the conversation at hand.
// Every failure is returned as *Error.
func (c *Client) Phrase(ctx context.Context, pc PromptContext) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildUserPrompt(pc)),
		},
		Temperature: openai.Float(c.cfg.Temperature),
		MaxTokens:   openai.Int(c.cfg.MaxTokens),
	}

	var lastErr *Error
	backoff := c.cfg.BaseBackoff
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.InCooldown() {
			metrics.GenAIRequests.WithLabelValues(metrics.OutcomeCooldown).Inc()
			if lastErr != nil {
				return "", lastErr
			}
			return "", &Error{Kind: KindRateLimit, Err: errors.New("cooldown active")}
		}

		text, err := c.attempt(ctx, params)
		if err == nil {
			metrics.GenAIRequests.WithLabelValues(metrics.OutcomeOK).Inc()
			slog.Debug("GenAI Phrase succeeded", "state", pc.State, "attempt", attempt)
			return text, nil
		}
		lastErr = err
		metrics.GenAIRequests.WithLabelValues(string(err.Kind)).Inc()
		if err.Kind == KindRateLimit {
			c.startCooldown()
		}
		if !err.Transient() || attempt == c.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		slog.Warn("GenAI Phrase transient failure, retrying", "state", pc.State, "attempt", attempt, "kind", err.Kind, "backoff", backoff)
		if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
			break
		}
		backoff *= 2
	}
	slog.Warn("GenAI Phrase failed", "state", pc.State, "kind", lastErr.Kind, "error", lastErr.Err)
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, params openai.ChatCompletionNewParams) (string, *Error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.chat.Create(callCtx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Err: ErrNoChoicesReturned}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if utf8.RuneCountInString(text) < MinReplyRunes {
		return "", &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("reply too short (%d runes)", utf8.RuneCountInString(text))}
	}
	return text, nil
}

func classify(err error) *Error {
	var apiErr *openai.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 429 {
			return &Error{Kind: KindRateLimit, StatusCode: apiErr.StatusCode, Err: err}
		}
		return &Error{Kind: KindAPI, StatusCode: apiErr.StatusCode, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
