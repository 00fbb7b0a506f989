package syncer

import (
	"context"
	"log/slog"
	"time"

	"organiza/internal/config"
	"organiza/internal/store"
)

// Daemon drives the background sync loop: a fixed interval tick, a
// debounced trigger fed by local outbox writes, and a connectivity probe
// that fires a catch-up cycle when the remote comes back.
type Daemon struct {
	client *Client
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger
	kick   chan struct{}
}

func NewDaemon(client *Client, st *store.Store, cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		client: client,
		store:  st,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Kick requests an immediate sync cycle. Safe to call from any goroutine;
// requests collapse if one is already queued.
func (d *Daemon) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Background cycle errors are logged,
// never returned; a transport failure flips the loop into offline mode
// where only the health probe runs until the remote answers again.
func (d *Daemon) Run(ctx context.Context) error {
	changes, cancel := d.store.SubscribeOutbox()
	defer cancel()

	ticker := time.NewTicker(d.cfg.Sync.Interval())
	defer ticker.Stop()

	// Outbox writes arrive in bursts; the debounce timer collapses a
	// burst into one cycle after the configured quiet period.
	var debounce *time.Timer
	var debounced <-chan time.Time
	armDebounce := func() {
		if debounce == nil {
			debounce = time.NewTimer(d.cfg.Sync.Debounce())
			debounced = debounce.C
			return
		}
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(d.cfg.Sync.Debounce())
	}
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	offline := false
	probe := time.NewTicker(d.cfg.Sync.ProbeInterval())
	probe.Stop()

	runCycle := func(manual bool) {
		err := d.client.Sync(ctx, manual)
		if err != nil {
			d.logger.Warn("sync cycle failed", "error", err)
			if !offline {
				offline = true
				probe.Reset(d.cfg.Sync.ProbeInterval())
			}
			return
		}
		if offline {
			offline = false
			probe.Stop()
			d.logger.Info("remote reachable again")
		}
	}

	// Catch up on anything queued while the daemon was down.
	runCycle(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !offline {
				runCycle(false)
			}
		case <-changes:
			armDebounce()
		case <-debounced:
			if !offline {
				runCycle(false)
			}
		case <-d.kick:
			runCycle(false)
		case <-probe.C:
			if d.client.Health(ctx) {
				runCycle(false)
			}
		}
	}
}
