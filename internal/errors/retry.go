package errors

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig defines retry behavior for transient operations. The planner
// itself never retries; only backends pass a config here.
type RetryConfig struct {
	MaxRetries      int             `json:"max_retries"`
	InitialInterval time.Duration   `json:"initial_interval"`
	MaxInterval     time.Duration   `json:"max_interval"`
	Multiplier      float64         `json:"multiplier"`
	Jitter          bool            `json:"jitter"`
	RetryableErrors []ErrorCategory `json:"retryable_errors,omitempty"`
}

// DefaultRetryConfig returns the retry configuration used by the push
// backend
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []ErrorCategory{
			ErrorCategoryNetwork,
			ErrorCategoryRegistry,
			ErrorCategoryTimeout,
		},
	}
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryWithContext executes fn with exponential backoff between attempts,
// honoring context cancellation before each attempt and during waits.
// Non-retryable errors are returned immediately.
func RetryWithContext(ctx context.Context, config *RetryConfig, operation string, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = config.InitialInterval
	bo.MaxInterval = config.MaxInterval
	bo.Multiplier = config.Multiplier
	if !config.Jitter {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return NewErrorBuilder().
				Category(ErrorCategoryTimeout).
				Severity(ErrorSeverityCritical).
				Operation(operation).
				Message("operation cancelled by context").
				Cause(ctx.Err()).
				Retryable(false).
				Build()
		}

		if attempt > 0 {
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return NewErrorBuilder().
					Category(ErrorCategoryTimeout).
					Severity(ErrorSeverityCritical).
					Operation(operation).
					Message("operation cancelled during retry wait").
					Cause(ctx.Err()).
					Retryable(false).
					Build()
			case <-time.After(wait):
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			if !isRetryableError(err, config) {
				return err
			}
			continue
		}
		return nil
	}

	return NewErrorBuilder().
		Category(ErrorCategoryRegistry).
		Severity(ErrorSeverityHigh).
		Operation(operation).
		Messagef("operation failed after %d retries", config.MaxRetries).
		Cause(lastErr).
		Retryable(false).
		Suggestion("Check the underlying issue and try again later").
		Metadata("max_retries", config.MaxRetries).
		Build()
}

// Retry executes fn with retry logic without a context
func Retry(config *RetryConfig, operation string, fn RetryableFunc) error {
	return RetryWithContext(context.Background(), config, operation, fn)
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error, config *RetryConfig) bool {
	if planErr, ok := AsPlanError(err); ok {
		if !planErr.IsRetryable() {
			return false
		}
		for _, category := range config.RetryableErrors {
			if planErr.Category == category {
				return true
			}
		}
		return false
	}
	return isRetryableByMessage(err.Error())
}

// isRetryableByMessage applies transport heuristics to plain errors
func isRetryableByMessage(errMsg string) bool {
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"temporary failure",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
		"too many requests",
		"rate limit",
		"timeout",
		"deadline exceeded",
		"i/o timeout",
		"no route to host",
	}

	errMsgLower := strings.ToLower(errMsg)
	for _, pattern := range retryablePatterns {
		if strings.Contains(errMsgLower, pattern) {
			return true
		}
	}
	return false
}
