package telegraph

import (
	"context"
	"strings"
	"time"
)

// RetryPolicy bounds how an adapter retries a rate-limited platform call.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first call.
	Retries int
	Base    time.Duration
	Max     time.Duration
	// RetryAfter reports whether err is a rate limit. A positive wait is the
	// platform's hint and replaces the computed backoff.
	RetryAfter func(err error) (wait time.Duration, ok bool)
	// OnRetry, if set, is told about each wait before it starts.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Backoff returns base doubled attempt times, capped at max when max > 0.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	wait := base
	for i := 0; i < attempt; i++ {
		wait *= 2
		if max > 0 && wait >= max {
			return max
		}
	}
	if max > 0 && wait > max {
		return max
	}
	return wait
}

// Retry calls fn until it succeeds, fails with an error RetryAfter rejects,
// or runs out of retries. Waiting stops early when ctx is done.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if p.RetryAfter == nil || attempt >= p.Retries {
			return err
		}
		hint, ok := p.RetryAfter(err)
		if !ok {
			return err
		}
		wait := hint
		if wait <= 0 {
			wait = Backoff(attempt, p.Base, p.Max)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// StripMention removes a leading mention token such as "<@U123>" and trims
// the result. An empty mention only trims.
func StripMention(text, mention string) string {
	text = strings.TrimSpace(text)
	if mention != "" {
		text = strings.TrimPrefix(text, mention)
	}
	return strings.TrimSpace(text)
}

// SplitText breaks text into chunks of at most limit bytes, cutting at the
// last newline inside each chunk when there is one.
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
