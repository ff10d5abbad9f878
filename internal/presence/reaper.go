package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/store"
)

var timeNow = time.Now

// Reaper sweeps membership rows whose heartbeat went stale. The
// disconnect beacon is fire-and-forget, so a client that vanishes
// ungracefully leaves a ghost row behind; the sweep makes membership
// eventually consistent instead of relying on a clean delete.
type Reaper struct {
	store    store.Membership
	ttl      time.Duration
	interval time.Duration
}

func NewReaper(st store.Membership, ttl, interval time.Duration) *Reaper {
	return &Reaper{store: st, ttl: ttl, interval: interval}
}

// Run sweeps until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep deletes every row whose last heartbeat is older than the TTL.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := timeNow().Add(-r.ttl)
	stale, err := r.store.Stale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Str("module", "presence.reaper").Msg("stale scan")
		return
	}
	for _, p := range stale {
		if err := r.store.Delete(ctx, p.UserID, p.Slug); err != nil {
			log.Error().Err(err).Str("module", "presence.reaper").Str("user", string(p.UserID)).Msg("reap delete")
			continue
		}
		log.Info().Str("module", "presence.reaper").Str("user", string(p.UserID)).Str("slug", string(p.Slug)).Time("last_seen", p.LastSeen).Msg("reaped ghost participant")
	}
}
