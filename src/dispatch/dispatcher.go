// Package dispatch sends sanitized diagnostic context to an OpenAI-compatible
// endpoint. It owns every outbound network concern: SSRF containment, rate
// limiting, concurrency caps, retry with backoff, and stream watchdogs.
// Payloads enter only as sanitize.Clean values, so unsanitized text cannot
// reach the wire by construction.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"graphdoctor/src/config"
	"graphdoctor/src/logger"
	"graphdoctor/src/metrics"
	"graphdoctor/src/sanitize"
)

const systemPrompt = "You are a diagnostic assistant for a node-graph " +
	"execution host. Given an error traceback and environment context, " +
	"explain the likely cause and suggest concrete fixes. Be specific and brief."

// Dispatcher is the single outbound client. Safe for concurrent use.
type Dispatcher struct {
	client      *openai.Client
	model       string
	limiter     *rate.Limiter
	slots       *semaphore.Weighted
	maxAttempts int
	streamIdle  time.Duration
	local       bool
	log         logger.Logger
	metrics     *metrics.Metrics
}

// New validates the endpoint and builds a dispatcher from cfg. Construction
// fails if the endpoint resolves into a denied address range and the config
// does not mark it local.
func New(cfg *config.Config, log logger.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := CheckEndpoint(ctx, cfg.ProviderBaseURL, cfg.EndpointIsLocal); err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.ProviderAPIKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.ProviderBaseURL, "/")
	clientCfg.HTTPClient = &http.Client{
		Transport:     guardedTransport(cfg.EndpointIsLocal, m.IncSSRFBlocked),
		CheckRedirect: noCrossOriginRedirects,
		Timeout:       2 * time.Minute,
	}

	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &Dispatcher{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		slots:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		maxAttempts: cfg.MaxAttempts,
		streamIdle:  time.Duration(cfg.StreamIdleTimeoutS) * time.Second,
		local:       cfg.EndpointIsLocal,
		log:         log,
		metrics:     m,
	}, nil
}

// Local reports whether the endpoint was configured as a local provider.
func (d *Dispatcher) Local() bool {
	return d.local
}

// Analyze sends clean as a one-shot analysis request and returns the model's
// reply, waiting for a concurrency slot and rate token as needed.
func (d *Dispatcher) Analyze(ctx context.Context, clean sanitize.Clean) (string, error) {
	return d.analyze(ctx, clean, true)
}

// TryAnalyze is the fail-fast variant of Analyze: when no slot or rate token
// is immediately available it returns ErrRateLimited instead of waiting.
func (d *Dispatcher) TryAnalyze(ctx context.Context, clean sanitize.Clean) (string, error) {
	return d.analyze(ctx, clean, false)
}

func (d *Dispatcher) analyze(ctx context.Context, clean sanitize.Clean, wait bool) (string, error) {
	if err := d.acquire(ctx, wait); err != nil {
		return "", err
	}
	defer d.slots.Release(1)

	req := d.request(clean.Text())
	var reply string
	err := d.withRetry(ctx, func(ctx context.Context) error {
		resp, err := d.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty response from provider")
		}
		reply = resp.Choices[0].Message.Content
		return nil
	})
	return reply, err
}

// Stream sends clean as a streaming request, invoking onDelta for each
// content fragment. A stream that stays idle past the watchdog interval is
// aborted with ErrStreamTimeout. Retries cover connection establishment only;
// once deltas have been delivered the stream fails without retry, since the
// caller has already seen partial output.
func (d *Dispatcher) Stream(ctx context.Context, clean sanitize.Clean, onDelta func(string) error) error {
	if err := d.acquire(ctx, true); err != nil {
		return err
	}
	defer d.slots.Release(1)

	req := d.request(clean.Text())
	req.Stream = true

	delivered := false
	err := d.withRetry(ctx, func(ctx context.Context) error {
		stream, err := d.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return err
		}
		defer stream.Close()
		if err := d.consume(ctx, stream, onDelta, &delivered); err != nil {
			if delivered {
				return &permanentError{err}
			}
			return err
		}
		return nil
	})
	return err
}

// permanentError marks an error that must not trigger a retry, regardless of
// its underlying cause.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// consume drains stream under a per-read watchdog. Recv runs in a goroutine
// so a hung read cannot outlive the idle timer.
func (d *Dispatcher) consume(ctx context.Context, stream *openai.ChatCompletionStream, onDelta func(string) error, delivered *bool) error {
	type recvResult struct {
		resp openai.ChatCompletionStreamResponse
		err  error
	}

	results := make(chan recvResult, 1)
	timer := time.NewTimer(d.streamIdle)
	defer timer.Stop()

	for {
		go func() {
			resp, err := stream.Recv()
			results <- recvResult{resp, err}
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrStreamTimeout, d.streamIdle)
		case r := <-results:
			if errors.Is(r.err, io.EOF) {
				return nil
			}
			if r.err != nil {
				return r.err
			}
			if len(r.resp.Choices) > 0 {
				delta := r.resp.Choices[0].Delta.Content
				if delta != "" {
					*delivered = true
					if err := onDelta(delta); err != nil {
						return err
					}
				}
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d.streamIdle)
		}
	}
}

func (d *Dispatcher) request(content string) openai.ChatCompletionRequest {
	d.log.Debug("dispatching ~%d tokens", estimateTokens(content))
	return openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}
}

// acquire takes a concurrency slot then waits for the rate limiter, in that
// order so a caller waiting on the limiter already holds its slot and cannot
// be starved by later arrivals. With wait false it never blocks: an
// unavailable slot or token fails immediately with ErrRateLimited.
func (d *Dispatcher) acquire(ctx context.Context, wait bool) error {
	if !wait {
		if !d.slots.TryAcquire(1) {
			return fmt.Errorf("%w: no free dispatch slot", ErrRateLimited)
		}
		if !d.limiter.Allow() {
			d.slots.Release(1)
			return fmt.Errorf("%w: request budget exhausted", ErrRateLimited)
		}
		return nil
	}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		d.slots.Release(1)
		return err
	}
	return nil
}

// withRetry runs fn up to maxAttempts times, backing off between retryable
// failures. Exactly maxAttempts tries happen before giving up; SSRF blocks,
// auth failures, and context cancellation are terminal on the first hit.
func (d *Dispatcher) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		d.metrics.IncDispatchAttempts()

		start := time.Now()
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		d.log.Debug("dispatch attempt %d/%d failed after %s: %v",
			attempt, d.maxAttempts, time.Since(start).Round(time.Millisecond), err)

		// Terminal failures surface directly so callers can match on the
		// underlying sentinel.
		if !retryable(err) {
			var pe *permanentError
			if errors.As(err, &pe) {
				return pe.err
			}
			return err
		}
		if attempt == d.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	if isRateLimit(lastErr) {
		lastErr = fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
	}
	return &NetworkFatal{
		Attempts: d.maxAttempts,
		Err:      fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr),
	}
}

// retryable reports whether err is worth another attempt: 429, 5xx, and
// transport-level failures qualify. Blocked endpoints and client errors do
// not.
func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrStreamTimeout) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= 500
	}
	// Transport errors carry no status; assume transient.
	return true
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests
}

// backoff returns the wait before the next attempt: 500ms doubling per
// attempt, with up to 25% jitter so concurrent retries fan out.
func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond << (attempt - 1)
	if base > 8*time.Second {
		base = 8 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base / 4)))
	return base + jitter
}

// estimateTokens approximates token count at four characters per token, which
// is close enough for budget logging across the tokenizers in common use.
func estimateTokens(text string) int {
	return len(text) / 4
}
