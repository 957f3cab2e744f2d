package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy bounds each backend call.
type Policy struct {
	// Timeout applies to every attempt. Zero disables it.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// Backoff is the first delay between retries; later delays double.
	Backoff time.Duration
}

// DefaultPolicy returns a 30s timeout with no retries.
func DefaultPolicy() Policy {
	return Policy{Timeout: 30 * time.Second, Retries: 0, Backoff: 500 * time.Millisecond}
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat backend responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("chat backend responded %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

type replyRequest struct {
	Message string `json:"message"`
}

type replyResponse struct {
	Reply *string `json:"reply"`
}

const maxErrorBody = 512

// ErrMalformedReply marks a 2xx response whose body is not a reply object.
var ErrMalformedReply = errors.New("malformed chat response")

// HTTPReplier posts {"message": ...} to a fixed endpoint and reads {"reply": ...}.
type HTTPReplier struct {
	endpoint string
	client   *http.Client
	policy   Policy
	logger   *zap.Logger
}

// NewHTTPReplier creates a replier for endpoint. A nil client uses http.DefaultClient.
func NewHTTPReplier(endpoint string, policy Policy, client *http.Client, logger *zap.Logger) *HTTPReplier {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &HTTPReplier{endpoint: endpoint, client: client, policy: policy, logger: logger}
}

// Reply implements Replier.
func (r *HTTPReplier) Reply(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(replyRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	op := func() (string, error) {
		reply, err := r.attempt(ctx, payload)
		if err != nil && !retryable(err) {
			return "", backoff.Permanent(err)
		}
		return reply, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("retrying chat backend request", zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotifyWithData(op, r.schedule(ctx), notify)
}

// schedule allows policy.Retries extra attempts and stops with ctx.
func (r *HTTPReplier) schedule(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if r.policy.Backoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = r.policy.Backoff
		exp.Multiplier = 2
		exp.RandomizationFactor = 0.2
		exp.MaxInterval = 30 * r.policy.Backoff
		exp.MaxElapsedTime = 0
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.Retries)), ctx)
}

func (r *HTTPReplier) attempt(ctx context.Context, payload []byte) (string, error) {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var decoded replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if decoded.Reply == nil {
		return "", nil
	}
	return *decoded.Reply, nil
}

// retryable reports whether another attempt could succeed: transport errors and 5xx.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return !errors.Is(err, ErrMalformedReply)
}
