// retry.go - Retry logic and error categorisation for provider calls

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// RetryConfig defines retry behavior for provider calls
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults for retry behavior
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

// HTTPStatusError is a non-2xx answer from an HTTP provider.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, body)
}

// ProviderError represents a categorized provider error
type ProviderError struct {
	Provider      string
	OriginalError error
	Category      string
	StatusCode    int
	Message       string
	Retryable     bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s [%s] %s (status: %d, retryable: %v): %v", e.Provider, e.Category, e.Message, e.StatusCode, e.Retryable, e.OriginalError)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// categorizeError analyzes error and determines retry strategy
func categorizeError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	pe := &ProviderError{
		Provider:      provider,
		OriginalError: err,
		Category:      "unknown",
		Message:       err.Error(),
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.Code
		categorizeStatus(pe, apiErr.Code, apiErr.Message)
		return pe
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		pe.StatusCode = statusErr.StatusCode
		categorizeStatus(pe, statusErr.StatusCode, statusErr.Body)
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Category = "canceled"
		pe.Message = "request was canceled"
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Category = "timeout"
		pe.Message = "request timeout - processing took too long"
		pe.Retryable = true
		return pe
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		pe.Category = "network_error"
		pe.Message = "network connection error"
		pe.Retryable = true
		return pe
	}

	// Check error message for common patterns
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "quota") {
		pe.Category = "quota_exceeded"
		pe.Message = "API quota exceeded - daily or monthly limit reached"
		return pe
	}

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline") {
		pe.Category = "timeout"
		pe.Message = "request timeout"
		pe.Retryable = true
		return pe
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") || strings.Contains(errMsg, "eof") {
		pe.Category = "network_error"
		pe.Message = "network connection error"
		pe.Retryable = true
		return pe
	}

	return pe
}

func categorizeStatus(pe *ProviderError, code int, detail string) {
	switch code {
	case 400:
		pe.Category = "bad_request"
		pe.Message = "invalid request format or parameters"
	case 401:
		pe.Category = "unauthorized"
		pe.Message = "invalid API key or authentication failed"
	case 403:
		pe.Category = "forbidden"
		pe.Message = "credentials lack required permissions"
	case 404:
		pe.Category = "not_found"
		pe.Message = "model not found or invalid endpoint"
	case 413:
		pe.Category = "payload_too_large"
		pe.Message = "request size exceeds limit (reduce image size)"
	case 429:
		pe.Category = "rate_limit"
		pe.Message = "rate limit exceeded - too many requests"
		pe.Retryable = true
	case 500, 502, 503, 504:
		pe.Category = "server_error"
		pe.Message = fmt.Sprintf("server error (%d)", code)
		pe.Retryable = true
	default:
		pe.Category = "unknown_api_error"
		pe.Message = fmt.Sprintf("API error: %s", detail)
		pe.Retryable = code >= 500
	}
}

// withRetry executes call with bounded, exponentially backed-off retries.
// Non-retryable errors return at once.
func withRetry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, provider string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr *ProviderError
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.Info("retry attempt", "provider", provider, "attempt", attempt, "max_attempts", cfg.MaxAttempts)
		}

		result, err := call(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded", "provider", provider, "attempt", attempt)
			}
			return result, nil
		}

		lastErr = categorizeError(provider, err)
		logger.Warn("provider call failed", "provider", provider, "attempt", attempt, "category", lastErr.Category, "error", err)

		if !lastErr.Retryable {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, cfg)
		// Rate limits get a longer pause
		if lastErr.Category == "rate_limit" {
			delay *= 2
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry wait: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("%s call failed after %d attempts: %w", provider, cfg.MaxAttempts, lastErr)
}

// calculateBackoff computes exponential backoff delay
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	multiple := cfg.BackoffMultiple
	if multiple <= 0 {
		multiple = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiple, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
