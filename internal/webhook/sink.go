package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rebrick/rebrick/internal/deploy"
	"github.com/rebrick/rebrick/internal/model"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 10 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 5 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 8 * time.Second

	// DefaultMaxAttempts bounds deliveries per batch. Dispatch runs inline
	// after each save, so retries stay short.
	DefaultMaxAttempts = 3
	// DefaultRetryBase is the delay after the first failed delivery.
	DefaultRetryBase = 200 * time.Millisecond

	userAgent = "Rebrick-Webhook/1.0"

	// maxResponseBody is how much of a failed response is kept for the error.
	maxResponseBody = 512
)

// ErrSecretRequired is returned when a sink is configured without a secret.
var ErrSecretRequired = errors.New("webhook secret is required")

// Config configures a Sink.
type Config struct {
	URL          string
	Secret       string
	AllowPrivate bool
	MaxAttempts  int
	RetryBase    time.Duration
	// Resolver overrides DNS for the URL check; nil uses the system resolver.
	Resolver Resolver
}

// DeliveryError is a non-2xx subscriber response.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether another delivery could succeed.
func (e *DeliveryError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Delivery is the JSON body posted to the subscriber.
type Delivery struct {
	DeliveryID string              `json:"delivery_id"`
	SentAt     time.Time           `json:"sent_at"`
	Events     []model.DomainEvent `json:"events"`
}

// Sink posts each batch of domain events as one signed Delivery.
type Sink struct {
	url         string
	secret      string
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	retryBase   time.Duration
}

// NewSink validates cfg and creates a Sink.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	policy := TargetPolicy{AllowPrivate: cfg.AllowPrivate, Resolver: cfg.Resolver}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	if err := policy.Check(ctx, cfg.URL); err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if cfg.Secret == "" {
		return nil, ErrSecretRequired
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &Sink{
		url:         cfg.URL,
		secret:      cfg.Secret,
		client:      newHTTPClient(policy),
		logger:      logger.With("component", "webhook.sink", "host", ExtractHost(cfg.URL)),
		maxAttempts: attempts,
		retryBase:   base,
	}, nil
}

// newHTTPClient builds the delivery client. Redirects are not followed and
// every dial is checked against policy.
func newHTTPClient(policy TargetPolicy) *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
				Control:   policy.dialControl,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Publish implements events.Sink. One delivery id covers every attempt so
// subscribers can deduplicate retries.
func (s *Sink) Publish(ctx context.Context, events []model.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	deliveryID := uuid.NewString()
	body, err := json.Marshal(Delivery{
		DeliveryID: deliveryID,
		SentAt:     time.Now().UTC(),
		Events:     events,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.deliver(ctx, deliveryID, len(events), body)
		if lastErr == nil {
			return nil
		}
		if !deploy.IsRetryable(lastErr) || deploy.IsExhausted(attempt, s.maxAttempts) {
			break
		}
		delay := deploy.NextRetryDelay(s.retryBase, attempt)
		s.logger.Warn("webhook delivery failed, retrying",
			"delivery_id", deliveryID,
			"attempt", attempt,
			"retry_in", delay,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (s *Sink) deliver(ctx context.Context, deliveryID string, count int, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err: err}
	}

	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, GenerateSignature(s.secret, ts, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderDeliveryID, deliveryID)
	req.Header.Set(HeaderEventCount, strconv.Itoa(count))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return &DeliveryError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }
