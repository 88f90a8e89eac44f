package telegraph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errLimited = errors.New("rate limited")

func limitedOnly(err error) (time.Duration, bool) {
	return 0, errors.Is(err, errLimited)
}

// --- Backoff tests ---

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{0, 0, time.Second},
		{1, 0, 2 * time.Second},
		{3, 0, 8 * time.Second},
		{3, 5 * time.Second, 5 * time.Second},
		{40, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, time.Second, tt.max); got != tt.want {
			t.Errorf("Backoff(%d, 1s, %v) = %v, want %v", tt.attempt, tt.max, got, tt.want)
		}
	}
}

// --- Retry tests ---

func TestRetry_SucceedsAfterLimit(t *testing.T) {
	calls, notified := 0, 0
	p := RetryPolicy{
		Retries:    3,
		Base:       time.Millisecond,
		RetryAfter: limitedOnly,
		OnRetry:    func(int, time.Duration, error) { notified++ },
	}
	err := Retry(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 || notified != 2 {
		t.Errorf("calls=%d notified=%d, want 3 and 2", calls, notified)
	}
}

func TestRetry_OtherErrorNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("channel_not_found")
	err := Retry(context.Background(), RetryPolicy{Retries: 3, Base: time.Millisecond, RetryAfter: limitedOnly}, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Retries: 2, Base: time.Millisecond, RetryAfter: limitedOnly}, func() error {
		calls++
		return errLimited
	})
	if !errors.Is(err, errLimited) || calls != 3 {
		t.Errorf("err=%v calls=%d, want 3 calls", err, calls)
	}
}

func TestRetry_NoPolicyCallsOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryPolicy{Retries: 5}, func() error {
		calls++
		return errLimited
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := RetryPolicy{
		Retries:    3,
		RetryAfter: func(error) (time.Duration, bool) { return time.Hour, true },
	}
	err := Retry(ctx, p, func() error { return errLimited })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- text helper tests ---

func TestStripMention(t *testing.T) {
	tests := []struct{ in, mention, want string }{
		{"<@UB> hello", "<@UB>", "hello"},
		{"hello <@UB>", "<@UB>", "hello <@UB>"},
		{"  plain ", "", "plain"},
	}
	for _, tt := range tests {
		if got := StripMention(tt.in, tt.mention); got != tt.want {
			t.Errorf("StripMention(%q, %q) = %q, want %q", tt.in, tt.mention, got, tt.want)
		}
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		text  string
		limit int
		want  []string
	}{
		{"short", 10, []string{"short"}},
		{"aaaa\nbbbb\ncc", 10, []string{"aaaa\nbbbb", "cc"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"anything", 0, []string{"anything"}},
	}
	for _, tt := range tests {
		got := SplitText(tt.text, tt.limit)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("SplitText(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
		}
	}
}
