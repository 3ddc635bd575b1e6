// Package taskqueue executes network tasks against the remote cart backend
// with bounded, backed-off retries.
package taskqueue

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cartsync/internal/domain"
	"cartsync/internal/metrics"
)

const maxResponseBytes = 1 << 20

type Options struct {
	Timeout    time.Duration
	RetryBase  time.Duration
	RetryMax   time.Duration
	RatePerSec float64
	// OfflineAfter consecutive transport failures flip Online to false until
	// OfflineRecovery has passed since the last failure.
	OfflineAfter    int
	OfflineRecovery time.Duration
	HTTPClient      *http.Client
}

type Queue struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retryBase  time.Duration
	retryMax   time.Duration
	logger     *zap.SugaredLogger

	mu              sync.Mutex
	failures        int
	lastFailure     time.Time
	offlineAfter    int
	offlineRecovery time.Duration
	now             func() time.Time
}

func New(opts Options, logger *zap.SugaredLogger) *Queue {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	retryMax := opts.RetryMax
	if retryMax < retryBase {
		retryMax = retryBase
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Queue{
		httpClient:      httpClient,
		limiter:         rate.NewLimiter(limit, burst),
		retryBase:       retryBase,
		retryMax:        retryMax,
		logger:          logger,
		offlineAfter:    opts.OfflineAfter,
		offlineRecovery: opts.OfflineRecovery,
		now:             time.Now,
	}
}

// Execute runs the task up to task.Attempts times. Transport errors, 5xx,
// 408 and 429 are retried; any other non-success answer fails immediately
// with a *domain.TaskError.
func (q *Queue) Execute(ctx context.Context, task domain.Task) (domain.TaskResult, error) {
	attempts := task.Attempts
	if attempts < 1 {
		attempts = 1
	}
	method := task.Method
	if method == "" {
		method = http.MethodPost
	}

	var body []byte
	if task.Payload != nil {
		raw, err := json.Marshal(task.Payload)
		if err != nil {
			return domain.TaskResult{}, errors.Wrap(err, "encode task payload")
		}
		body = raw
	}

	start := q.now()
	defer func() {
		metrics.TaskDuration.WithLabelValues(method).Observe(q.now().Sub(start).Seconds())
	}()

	var result domain.TaskResult
	attempt := 0
	operation := func() error {
		attempt++
		if err := q.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(errors.Wrap(err, "rate limit wait"))
		}
		res, err := q.do(ctx, method, task, body)
		if err != nil {
			var te *domain.TaskError
			if errors.As(err, &te) && !te.Retryable() {
				metrics.TaskAttempts.WithLabelValues(method, metrics.OutcomeFailure).Inc()
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			metrics.TaskAttempts.WithLabelValues(method, metrics.OutcomeRetry).Inc()
			return err
		}
		metrics.TaskAttempts.WithLabelValues(method, metrics.OutcomeSuccess).Inc()
		result = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.retryBase
	policy.MaxInterval = q.retryMax
	policy.MaxElapsedTime = 0
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	err := backoff.RetryNotify(operation, bounded, func(err error, wait time.Duration) {
		q.logger.Warnw("network task attempt failed",
			"url", task.URL,
			"method", method,
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", wait,
			"error", err)
	})
	if err != nil {
		return domain.TaskResult{}, errors.Wrapf(err, "%s %s failed after %d attempt(s)", method, task.URL, attempt)
	}
	return result, nil
}

func (q *Queue) do(ctx context.Context, method string, task domain.Task, body []byte) (domain.TaskResult, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, task.URL, reader)
	if err != nil {
		return domain.TaskResult{}, &domain.TaskError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range task.Headers {
		req.Header.Set(k, v)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		q.markTransportFailure()
		return domain.TaskResult{}, errors.Wrap(err, "send task request")
	}
	defer resp.Body.Close()
	q.markReachable()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.TaskResult{}, errors.Wrap(err, "read task response")
	}

	// The backend wraps results as {"code": <status>, "result": <payload>}.
	var envelope struct {
		Code   int             `json:"code"`
		Result json.RawMessage `json:"result"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return domain.TaskResult{}, &domain.TaskError{StatusCode: resp.StatusCode, Message: "malformed response body"}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || (envelope.Code != 0 && envelope.Code != http.StatusOK) {
		return domain.TaskResult{}, &domain.TaskError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Code,
			Message:    errorMessage(envelope.Result),
		}
	}
	code := envelope.Code
	if code == 0 {
		code = resp.StatusCode
	}
	return domain.TaskResult{
		StatusCode: resp.StatusCode,
		Code:       code,
		Result:     []byte(envelope.Result),
	}, nil
}

// errorMessage extracts a readable message from an error result which is
// either a string or an object with a "message" field.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func (q *Queue) markTransportFailure() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures++
	q.lastFailure = q.now()
}

func (q *Queue) markReachable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures = 0
}

// Online reports whether the backend is considered reachable.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.offlineAfter <= 0 || q.failures < q.offlineAfter {
		return true
	}
	return q.now().Sub(q.lastFailure) >= q.offlineRecovery
}
