package session

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultIdleTimeout   = 2 * time.Hour
	DefaultCleanInterval = 10 * time.Minute
)

// Janitor periodically removes sessions idle for longer than IdleTimeout.
type Janitor struct {
	Store       Store
	IdleTimeout time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
	// OnSweep, when set, receives the number of remaining sessions after each sweep.
	OnSweep func(remaining int)

	now func() time.Time
}

// Start runs the sweep loop in a goroutine until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	if j.Interval <= 0 {
		j.Interval = DefaultCleanInterval
	}
	if j.IdleTimeout <= 0 {
		j.IdleTimeout = DefaultIdleTimeout
	}
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	go j.loop(ctx)
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.Logger.Error("session sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one expiry pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	idle := j.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	n, err := j.Store.DeleteIdle(ctx, now().Add(-idle))
	if err != nil {
		return 0, err
	}
	if n > 0 && j.Logger != nil {
		j.Logger.Info("expired idle sessions", "count", n)
	}
	if j.OnSweep != nil {
		if ids, err := j.Store.List(ctx); err == nil {
			j.OnSweep(len(ids))
		}
	}
	return n, nil
}
