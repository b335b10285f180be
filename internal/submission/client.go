package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
)

const apiName = "submission"

// Submitter sends a payload and reports the outcome.
type Submitter interface {
	Submit(ctx context.Context, payload Payload) error
}

// ClientConfig configures HTTPClient.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	Retry    apperrors.RetryPolicy
}

// HTTPClient posts payloads as JSON, retrying transient failures behind a circuit breaker.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	retry    apperrors.RetryPolicy
	breaker  *apperrors.CircuitBreaker
	log      *slog.Logger
}

// NewHTTPClient builds an HTTPClient. A zero timeout defaults to ten seconds.
func NewHTTPClient(cfg ClientConfig, breaker *apperrors.CircuitBreaker, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	if breaker == nil {
		breaker = apperrors.NewCircuitBreaker()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == (apperrors.RetryPolicy{}) {
		cfg.Retry = apperrors.DefaultRetryPolicy()
	}

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
		retry:    cfg.Retry,
		breaker:  breaker,
		log:      log,
	}
}

// Submit posts payload to the endpoint.
func (c *HTTPClient) Submit(ctx context.Context, payload Payload) error {
	if c.endpoint == "" {
		return apperrors.NewExternalAPIError(apiName, http.StatusBadRequest, fmt.Errorf("endpoint not configured"))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return c.breaker.Call(func() error {
		return apperrors.WithRetryPolicy(ctx, c.retry, func() error {
			return c.post(ctx, body)
		})
	})
}

func (c *HTTPClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, http.StatusBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return apperrors.NewExternalAPIError(apiName, resp.StatusCode, nil)
	}

	c.log.Debug("submission delivered", slog.Int("status", resp.StatusCode))
	return nil
}
