package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"scroll-press/internal/observability"
)

// Sweeper removes expired records from one store.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// RunCleanup sweeps every store on each tick until ctx is done. Sweeping
// only reclaims memory; lookups already ignore expired records.
func RunCleanup(ctx context.Context, interval time.Duration, sweepers map[string]Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping cleanup task")
			return
		case <-ticker.C:
			SweepAll(ctx, sweepers)
		}
	}
}

// SweepAll runs one pass over sweepers and returns the removed count per store.
func SweepAll(ctx context.Context, sweepers map[string]Sweeper) map[string]int64 {
	names := make([]string, 0, len(sweepers))
	for name := range sweepers {
		names = append(names, name)
	}
	sort.Strings(names)

	deleted := make(map[string]int64, len(sweepers))
	for _, name := range names {
		sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		count, err := sweepers[name].Sweep(sweepCtx)
		cancel()

		if err != nil {
			slog.Error("cleanup failed", slog.String("store", name), slog.String("error", err.Error()))
			continue
		}

		deleted[name] = count
		observability.StoreSweepDeleted.WithLabelValues(name).Add(float64(count))
		if count > 0 {
			slog.Info("cleanup completed", slog.String("store", name), slog.Int64("deleted", count))
		}
	}
	return deleted
}
