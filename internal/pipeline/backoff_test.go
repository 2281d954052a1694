package pipeline

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	max := 900 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: 60 * time.Second},
		{attempt: 3, want: 120 * time.Second},
		{attempt: 6, want: 900 * time.Second},
		{attempt: 50, want: 900 * time.Second},
		{attempt: 0, want: 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, max, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDelayZeroBase(t *testing.T) {
	if got := backoffDelay(0, time.Minute, 3); got != 0 {
		t.Errorf("backoffDelay with zero base = %s, want 0", got)
	}
}
