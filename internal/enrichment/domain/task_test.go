package domain

import (
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	testCases := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{5 * time.Second, 1, 5 * time.Second},
		{5 * time.Second, 2, 10 * time.Second},
		{5 * time.Second, 4, 40 * time.Second},
		{5 * time.Second, 0, 5 * time.Second},
		{0, 1, time.Second},
		{10 * time.Minute, 5, MaxRetryDelay},
	}
	for _, tc := range testCases {
		if got := RetryDelay(tc.base, tc.attempt); got != tc.want {
			t.Errorf("RetryDelay(%v, %d) = %v, want %v", tc.base, tc.attempt, got, tc.want)
		}
	}
}

func TestTask_Exhausted(t *testing.T) {
	if (Task{Attempts: 0, MaxAttempts: 3}).Exhausted() {
		t.Error("first failure of three should not exhaust")
	}
	if !(Task{Attempts: 2, MaxAttempts: 3}).Exhausted() {
		t.Error("third failure of three should exhaust")
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusGenerating, StatusDone, StatusGenerationFailed, StatusShouldRegenerate} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("pending").Valid() {
		t.Error("unknown status reported valid")
	}
}
