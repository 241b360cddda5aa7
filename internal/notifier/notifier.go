// Package notifier makes the fire-and-forget HTTP calls one service sends to
// the other: cascade deletes and list lifecycle notifications.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"listsync/internal/metrics"
	"listsync/pkg/logger"
)

// InternalTokenHeader authenticates service-to-service calls.
const InternalTokenHeader = "X-Internal-Token"

// Outcome is the terminal state of a call.
type Outcome int

const (
	Succeeded Outcome = iota
	Exhausted
)

func (o Outcome) String() string {
	if o == Succeeded {
		return "succeeded"
	}
	return "exhausted"
}

// Result reports how a call ended. Err is the last failure when Exhausted.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// StatusError is a non-2xx response from the peer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned %d: %s", e.Code, e.Body)
}

type Option func(*Notifier)

// WithAttempts sets the total number of attempts Notify makes (minimum 1).
func WithAttempts(n int) Option {
	return func(c *Notifier) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithDelay sets the fixed pause between attempts.
func WithDelay(d time.Duration) Option {
	return func(c *Notifier) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Notifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithToken sets the internal token sent on every call.
func WithToken(token string) Option {
	return func(c *Notifier) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Notifier) {
		if hc != nil {
			c.client = hc
		}
	}
}

// Notifier calls endpoints of one peer service.
type Notifier struct {
	base     string
	client   *http.Client
	token    string
	attempts int
	delay    time.Duration
	timeout  time.Duration
}

// New returns a Notifier for the peer at baseURL. Defaults: 3 attempts, 1s
// apart, 3s per attempt.
func New(baseURL string, opts ...Option) *Notifier {
	n := &Notifier{
		base:     strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		attempts: 3,
		delay:    time.Second,
		timeout:  3 * time.Second,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify sends the request and retries every failure (transport error or
// non-2xx) with a fixed delay until it succeeds or the attempts run out.
func (n *Notifier) Notify(ctx context.Context, method, path string, payload any) Result {
	return n.call(ctx, method, path, payload, n.attempts)
}

// Fire makes a single attempt. Used for notifications whose loss is tolerated.
func (n *Notifier) Fire(ctx context.Context, method, path string, payload any) Result {
	return n.call(ctx, method, path, payload, 1)
}

func (n *Notifier) call(ctx context.Context, method, path string, payload any, attempts int) Result {
	body, err := encode(payload)
	if err != nil {
		return Result{Outcome: Exhausted, Err: err}
	}
	endpoint := endpointLabel(method, path)

	var (
		tries   int
		lastErr error
	)
	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(n.delay))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		tries++
		if err := n.once(ctx, method, path, body); err != nil {
			lastErr = err
			metrics.NotifyAttempts.WithLabelValues(endpoint, "failure").Inc()
			logger.Warn(ctx, "Peer call failed", "endpoint", endpoint, "attempt", tries, "error", err)
			return retry.RetryableError(err)
		}
		metrics.NotifyAttempts.WithLabelValues(endpoint, "success").Inc()
		return nil
	})
	if err != nil {
		if lastErr == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			lastErr = err
		}
		return Result{Outcome: Exhausted, Attempts: tries, Err: lastErr}
	}
	return Result{Outcome: Succeeded, Attempts: tries}
}

func (n *Notifier) once(ctx context.Context, method, path string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if n.token != "" {
		req.Header.Set(InternalTokenHeader, n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func encode(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// endpointLabel collapses ids in the path so metrics keep a bounded label set.
func endpointLabel(method, path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = ":id"
		}
	}
	return method + " " + strings.Join(parts, "/")
}
