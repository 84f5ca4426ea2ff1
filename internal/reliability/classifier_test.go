package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{409, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"422", &StatusError{Op: "put", StatusCode: 422}, false},
		{"502", fmt.Errorf("wrap: %w", &StatusError{Op: "put", StatusCode: 502}), true},
		{"plain", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
