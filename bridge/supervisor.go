// Package bridge implements the cross-chain relayer: chain monitors that
// capture lock events into a durable queue, and a settlement worker that
// executes the matching payout on the destination chain.
package bridge

import (
	"context"
	"log/slog"
	"time"
)

// Chain identifiers used in event routing.
const (
	ChainSolana = "solana"
	ChainBSC    = "bsc"
	ChainSheet  = "sheet"
)

const (
	restartBaseDelay = time.Second
	restartMaxDelay  = 60 * time.Second
)

// Supervisor restarts long-running workers with exponential backoff. The zero
// value uses the default delays.
type Supervisor struct {
	Base time.Duration
	Max  time.Duration
}

// Run executes fn and restarts it whenever it returns. The restart delay
// doubles on consecutive failures up to the cap and resets after a clean run.
// Run returns once ctx is cancelled.
func (s Supervisor) Run(ctx context.Context, name string, fn func(context.Context) error) {
	base := s.Base
	if base <= 0 {
		base = restartBaseDelay
	}
	max := s.Max
	if max <= 0 {
		max = restartMaxDelay
	}
	log := slog.Default().With("worker", name)
	delay := base
	for {
		if ctx.Err() != nil {
			return
		}
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("worker exited with error", "error", err, "restart_in", delay.String())
		} else {
			log.Warn("worker exited, restarting", "restart_in", base.String())
			delay = base
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err != nil {
			delay *= 2
			if delay > max {
				delay = max
			}
		}
	}
}

// Run supervises fn with the default restart delays.
func Run(ctx context.Context, name string, fn func(context.Context) error) {
	Supervisor{}.Run(ctx, name, fn)
}
