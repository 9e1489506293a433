package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schema describes the JSON object a structured call expects back.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	Format      *Schema
}

// Model is a single chat completion backend. Implementations make exactly one outbound call
// per Complete and do not retry.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Prompt struct {
	System string
	User   string
}

type Options struct {
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

type Option func(*Options)

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

func WithInitialBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.InitialBackoff = d
	}
}

func DefaultOptions() Options {
	return Options{
		Temperature:    0,
		MaxTokens:      512,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Client adds per-call timeouts and bounded transport retries on top of a Model.
type Client struct {
	model Model
	opts  Options
}

func NewClient(model Model, opts ...Option) *Client {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{model: model, opts: o}
}

// With returns a copy of the client with the given options applied on top.
func (c *Client) With(opts ...Option) *Client {
	o := c.opts
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{model: c.model, opts: o}
}

func (c *Client) Options() Options {
	return c.opts
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.InitialBackoff
	exp.MaxElapsedTime = 0
	retries := c.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Complete sends the prompt and returns the raw reply. Transport failures are retried up to
// MaxRetries times; after that a *TransportError is returned.
func (c *Client) Complete(ctx context.Context, prompt Prompt, format *Schema) (string, error) {
	req := Request{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Format:      format,
	}

	var reply string
	attempts := 0
	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		res, err := c.model.Complete(callCtx, req)
		if err != nil {
			if ctx.Err() != nil || !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		reply = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("llm call failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, c.newBackoff(ctx), notify); err != nil {
		return "", &TransportError{Attempts: attempts, Err: err}
	}

	slog.Debug("llm reply", "attempts", attempts, "reply", reply)
	return reply, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("llm.Client{max_tokens=%d, timeout=%s, retries=%d}", c.opts.MaxTokens, c.opts.Timeout, c.opts.MaxRetries)
}
