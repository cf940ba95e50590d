package sqlite

import (
	"context"
	"log/slog"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// Broadcaster is the interface for emitting events to websocket clients.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

// Sweeper runs a background goroutine that periodically deletes dead
// reservations held by idle or deregistered agents. Conflict detection never
// depends on it: expiry is evaluated lazily at query time, so the sweep is
// storage hygiene only.
type Sweeper struct {
	store    storage.Store
	bus      Broadcaster
	interval time.Duration
	grace    time.Duration // owner idle grace period
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(store storage.Store, bus Broadcaster, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		bus:      bus,
		interval: interval,
		grace:    grace,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		// Startup sweep: only touch rows dead for >5min, so a restart
		// doesn't race claims that just lapsed.
		sw.runSweep(ctx, time.Now().UTC().Add(-5*time.Minute))

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx, time.Now().UTC())
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context, cutoff time.Time) {
	var purged []storage.PurgedReservation
	err := sw.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		purged, err = tx.PurgeReservations(storage.PurgeFilter{
			Cutoff:         cutoff,
			OwnerIdleSince: time.Now().UTC().Add(-sw.grace),
		})
		return err
	})
	if err != nil {
		slog.Error("sweeper", "error", err)
		return
	}
	if len(purged) == 0 {
		return
	}

	slog.Info("sweeper purged dead reservations", "count", len(purged))

	if sw.bus == nil {
		return
	}
	for _, r := range purged {
		sw.bus.Broadcast(r.ProjectSlug, r.AgentName, core.NewEvent(
			core.EventReservationExpired, r.ProjectSlug, r.AgentName, map[string]any{
				"reservation_id": r.ID,
				"path_pattern":   r.PathPattern,
			}))
	}
}
