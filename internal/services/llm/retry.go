package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"relingo/internal/services"
)

type retryPolicy struct {
	attempts int
	base     time.Duration
	limit    time.Duration
	wait     func(context.Context, time.Duration) error
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 4, base: time.Second, limit: 10 * time.Second, wait: sleepContext}
}

// delay doubles base per attempt up to limit. A server supplied Retry-After
// wins when present.
func (p retryPolicy) delay(attempt int, err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return min(apiErr.RetryAfter, p.limit)
	}
	if p.base <= 0 {
		return 0
	}
	d := p.base
	for i := 1; i < attempt && d < p.limit; i++ {
		d *= 2
	}
	return min(d, p.limit)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether another request inside the same call may help.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyCompletion) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify tags a failed call for the orchestrator: exhausted rate limits,
// server faults and incomplete answers are transient, rejected credentials
// are configuration errors and other rejected requests are input errors.
func classify(operation string, err error) error {
	const stageName = "translation"
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCancelled, stageName, operation, "interrupted", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, stageName, operation, "timed out", err)
	case errors.Is(err, ErrIncompleteTranslation), errors.Is(err, ErrEmptyCompletion):
		return services.Wrap(services.ErrTransient, stageName, operation, "model answer incomplete", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		detail := fmt.Sprintf("HTTP %d", apiErr.StatusCode)
		switch {
		case apiErr.Temporary():
			return services.Wrap(services.ErrTransient, stageName, operation, detail, err)
		case apiErr.StatusCode == 401, apiErr.StatusCode == 403:
			return services.Wrap(services.ErrConfiguration, stageName, operation, "LLM credentials rejected", err)
		default:
			return services.Wrap(services.ErrInput, stageName, operation, detail, err)
		}
	}
	return services.Wrap(services.ErrTransient, stageName, operation, "", err)
}
