// Package oracle is the boundary to the external reasoning service.
// Providers implement a synchronous Complete over the system/user/
// assistant message taxonomy; failures are classified transient
// (retryable under the backoff policy) or fatal.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Oracle is the reasoning capability consumed by the engine. Test
// suites inject deterministic stubs implementing the same interface.
type Oracle interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// TransientError marks a retryable provider failure (rate limit,
// timeout, throttling).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("oracle: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a non-retryable provider failure (bad credentials,
// bad configuration). Surfaced immediately.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("oracle: fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// RetryPolicy is the explicit backoff schedule for transient provider
// errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy waits 5s, 10s, 20s across three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, Multiplier: 2}
}

// Delay returns the wait before retry number attempt (zero-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// CompleteWithRetry runs Complete under the policy, sleeping between
// transient failures. Fatal errors and context cancellation surface
// immediately; exhausting the attempts surfaces the last transient
// error.
func CompleteWithRetry(ctx context.Context, o Oracle, messages []Message, opts Options, policy RetryPolicy) (string, error) {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(policy.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
		text, err := o.Complete(ctx, messages, opts)
		if err == nil {
			return text, nil
		}
		if !IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// CleanJSON strips markdown code fences from a model response so it can
// be unmarshalled.
func CleanJSON(response string) string {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// Truncate bounds text included in prompts.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[... truncated ...]"
}
