// Package notify delivers run results to the evaluation endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yangwenmai/pagesmith/internal/metrics"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("notify: all attempts failed")

// Defaults match the evaluator contract: 4 attempts, 1s doubling backoff,
// 20s per attempt.
const (
	DefaultAttempts  = 4
	DefaultBaseDelay = time.Second
	DefaultTimeout   = 20 * time.Second
)

// Notifier POSTs JSON payloads with bounded retries.
type Notifier struct {
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) Option {
	return func(no *Notifier) {
		if n > 0 {
			no.attempts = n
		}
	}
}

// WithBaseDelay sets the delay after the first failure. Non-positive values
// keep the default.
func WithBaseDelay(d time.Duration) Option {
	return func(no *Notifier) {
		if d > 0 {
			no.baseDelay = d
		}
	}
}

// WithTimeout sets the per-attempt timeout. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(no *Notifier) {
		if d > 0 {
			no.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(no *Notifier) { no.client = c }
}

// New creates a Notifier with the default policy.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts payload to url. Non-2xx responses and transport errors are
// failed attempts; the first success ends the loop. The same bytes are sent on
// every attempt.
func (n *Notifier) Notify(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	logger := log.Ctx(ctx)
	logger.Info().Str("url", url).Msg("pinging evaluation server")

	backoff := retry.WithMaxRetries(uint64(n.attempts-1), retry.NewExponential(n.baseDelay))
	attempt := 0
	var lastErr error
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := n.post(ctx, url, body); err != nil {
			lastErr = err
			metrics.NotifyAttempts.WithLabelValues("failure").Inc()
			logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", n.attempts).Msg("ping attempt failed")
			return retry.RetryableError(err)
		}
		metrics.NotifyAttempts.WithLabelValues("success").Inc()
		return nil
	})
	if err == nil {
		logger.Info().Int("attempt", attempt).Msg("successfully pinged evaluation server")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("notify: %w", ctxErr)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
