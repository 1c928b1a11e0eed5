package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls l.Sweep every interval until ctx is cancelled. It is independent of any
// request and only bounds memory; Check is correct without it.
func RunSweeper(ctx context.Context, l *Limiter, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				log.Warn("rate limit sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Debug("rate limit sweep", "removed", n)
			}
		}
	}
}
