package health

import (
	"context"
	"time"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Prober checks whether a store URL is being served
type Prober interface {
	Probe(ctx context.Context, url string) Result
}

func failed(start time.Time, format string, err error) Result {
	return Result{
		Healthy:   false,
		Message:   format + ": " + err.Error(),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
