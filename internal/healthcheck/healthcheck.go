package healthcheck

import (
	"context"
	"log/slog"
	"time"
)

// Probe reports whether a dependency is reachable. It must honour ctx.
type Probe func(ctx context.Context) bool

// Poll calls probe every interval until it reports healthy or ctx is
// cancelled. Each probe runs under its own timeout. Poll returns true only
// when the dependency recovered.
func Poll(
	ctx context.Context,
	name string,
	interval time.Duration,
	timeout time.Duration,
	probe Probe,
	logger *slog.Logger,
) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Health check stopped",
				slog.String("dependency", name))
			return false

		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			healthy := probe(probeCtx)
			cancel()

			if ctx.Err() != nil {
				return false
			}

			if healthy {
				logger.Info("Dependency is back up",
					slog.String("dependency", name))
				return true
			}

			logger.Debug("Dependency still down",
				slog.String("dependency", name))
		}
	}
}
