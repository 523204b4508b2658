package main

import (
	"context"
	"log"
	"time"

	"lair-chat/server/chatserver"
)

// RunMetrics logs connection/room stats every interval until ctx is canceled.
func RunMetrics(ctx context.Context, state *chatserver.State, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers, users, rooms := state.Stats()
			if peers > 0 {
				log.Printf("[metrics] connections=%d authenticated_users=%d rooms=%d", peers, users, rooms)
			}
		}
	}
}
