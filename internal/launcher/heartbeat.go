package launcher

import (
	"context"
	"time"

	"stagecoach/internal/logging"
)

// heartbeatLoop stamps the session row on the configured interval until ctx
// is cancelled. Sessions whose heartbeat goes stale past the timeout are
// reclaimed by the next run on this host.
func (l *Launcher) heartbeatLoop(ctx context.Context, sessionID string) {
	interval := l.heartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.store.UpdateHeartbeat(ctx, sessionID); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("heartbeat update failed",
					logging.String("session_id", sessionID),
					logging.Error(err))
			}
		}
	}
}
