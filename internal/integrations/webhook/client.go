// Package webhook publishes cart sync events to an external HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"cartsync/internal/domain"
	"cartsync/internal/metrics"
)

type Client struct {
	webhookURL string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

func NewClient(webhookURL string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}
	if retryMax < retryBase {
		retryMax = retryBase
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
	}
}

// Publish posts the event. Receivers deduplicate redeliveries by the
// X-Idempotency-Key header, which carries the event ID. An empty webhook URL
// disables publishing.
func (c *Client) Publish(ctx context.Context, event domain.Event) error {
	if c == nil || c.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-ID", event.ID)
		req.Header.Set("X-Event-Type", string(event.Type))
		req.Header.Set("X-Idempotency-Key", event.ID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return errors.Newf("webhook responded %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(errors.Newf("webhook responded %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.MaxInterval = c.retryMax
	policy.MaxElapsedTime = 0
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(metrics.OutcomeFailure).Inc()
		return errors.Wrapf(err, "publish event %s", event.ID)
	}
	metrics.WebhookDeliveries.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return nil
}
