package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sheetchain/bridge/store"
	"sheetchain/observability"
)

// ErrUnsupportedRoute is returned when no transfer executor is registered for
// an event's chain pair.
var ErrUnsupportedRoute = errors.New("bridge: unsupported route")

// Route is a directed chain pair.
type Route struct {
	From string
	To   string
}

func (r Route) String() string { return r.From + "->" + r.To }

// TransferFunc executes the destination-chain payout for one captured event.
type TransferFunc func(ctx context.Context, event store.BridgeEvent) error

// Worker drains the pending queue on a fixed interval and executes payouts.
//
// Settlement is not transactional with the status write: a crash after the
// payout lands but before the event is marked processed settles the event
// again on the next run. Operators reconcile duplicates from the chain
// history.
type Worker struct {
	store    *store.Store
	routes   map[Route]TransferFunc
	interval time.Duration
	log      *slog.Logger
}

// NewWorker builds the settlement worker.
func NewWorker(st *store.Store, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Worker{
		store:    st,
		routes:   make(map[Route]TransferFunc),
		interval: interval,
		log:      slog.Default().With("component", "settlement"),
	}
}

// Register installs the executor for a route, replacing any previous one.
func (w *Worker) Register(route Route, fn TransferFunc) {
	w.routes[route] = fn
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info("settlement worker running", "interval", w.interval.String())
	for {
		if err := w.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick settles every pending event once. A failed payout marks the event
// failed and is never retried; only store errors abort the tick.
func (w *Worker) Tick(ctx context.Context) error {
	pending, err := w.store.Pending()
	if err != nil {
		return err
	}
	for _, event := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		route := Route{From: event.FromChain, To: event.ToChain}
		fn, ok := w.routes[route]
		if !ok {
			cause := fmt.Sprintf("%v: %s", ErrUnsupportedRoute, route)
			w.log.Error("no executor for route", "route", route.String(), "event_id", event.ID)
			observability.Settlements().WithLabelValues(route.String(), "failed").Inc()
			if err := w.store.MarkFailed(event.ID, cause); err != nil {
				return err
			}
			continue
		}
		if err := fn(ctx, event); err != nil {
			w.log.Error("settlement failed", "route", route.String(), "event_id", event.ID, "error", err)
			observability.Settlements().WithLabelValues(route.String(), "failed").Inc()
			if err := w.store.MarkFailed(event.ID, err.Error()); err != nil {
				return err
			}
			continue
		}
		observability.Settlements().WithLabelValues(route.String(), "ok").Inc()
		w.log.Info("settlement executed", "route", route.String(), "event_id", event.ID, "recipient", event.ToAddress, "amount", event.ToAmount)
		if err := w.store.MarkProcessed(event.ID); err != nil {
			return err
		}
	}
	return nil
}
