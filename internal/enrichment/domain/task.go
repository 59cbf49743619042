package domain

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Status is the enrichment state of a place.
type Status string

const (
	StatusGenerating       Status = "generating"
	StatusDone             Status = "done"
	StatusGenerationFailed Status = "generation_failed"
	StatusShouldRegenerate Status = "should_regenerate"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusGenerating, StatusDone, StatusGenerationFailed, StatusShouldRegenerate:
		return true
	}
	return false
}

// Task is one queued enrichment run for a place.
type Task struct {
	ID          int64
	PlaceID     int64
	Description string
	// Attempts counts failed runs so far.
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LastError   string
}

// Exhausted reports whether one more failure makes the task terminal.
func (t Task) Exhausted() bool {
	return t.Attempts+1 >= t.MaxAttempts
}

// MaxRetryDelay caps RetryDelay.
const MaxRetryDelay = time.Hour

// RetryDelay returns the wait before retrying after the given failed attempt (1-based):
// base, 2*base, 4*base, ... capped at MaxRetryDelay.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval: base,
		Multiplier:      2,
		MaxInterval:     MaxRetryDelay,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
