package util

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := time.Minute
	max := time.Hour

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Minute},
		{attempt: 1, want: 2 * time.Minute},
		{attempt: 2, want: 4 * time.Minute},
		{attempt: 3, want: 8 * time.Minute},
		{attempt: 5, want: 32 * time.Minute},
		{attempt: 6, want: time.Hour},
		{attempt: 20, want: time.Hour},
	}

	for _, tt := range tests {
		if got := Backoff(base, max, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffZeroBase(t *testing.T) {
	if got := Backoff(0, time.Hour, 3); got != 0 {
		t.Errorf("Backoff with zero base = %v, want 0", got)
	}
}
