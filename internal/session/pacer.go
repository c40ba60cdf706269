package session

import (
	"context"
	"time"
)

// Pacer spaces out work items. The production pacer sleeps on the wall
// clock; tests swap in NopPacer so pacing contracts stay exercised without
// real delays.
type Pacer interface {
	Wait(ctx context.Context, d time.Duration)
}

type timerPacer struct{}

// NewPacer returns the wall-clock pacer
func NewPacer() Pacer {
	return timerPacer{}
}

func (timerPacer) Wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NopPacer never waits
type NopPacer struct{}

func (NopPacer) Wait(context.Context, time.Duration) {}
