package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sheetchain/bridge/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.InMemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertEvent(t *testing.T, st *store.Store, from, to, signature string) {
	t.Helper()
	inserted, err := st.Insert(&store.BridgeEvent{
		FromChain:   from,
		FromAddress: "sender",
		FromAmount:  "100",
		ToChain:     to,
		ToAddress:   "recipient-" + signature,
		ToAmount:    "100",
		Signature:   signature,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestTickSettlesPendingEvents(t *testing.T) {
	st := openTestStore(t)
	insertEvent(t, st, ChainSolana, ChainSheet, "sig-1")

	var settled []store.BridgeEvent
	worker := NewWorker(st, time.Second)
	worker.Register(Route{From: ChainSolana, To: ChainSheet}, func(ctx context.Context, event store.BridgeEvent) error {
		settled = append(settled, event)
		return nil
	})

	require.NoError(t, worker.Tick(context.Background()))
	require.Len(t, settled, 1)

	stats, err := st.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Processed)
	require.Equal(t, int64(0), stats.Pending)
}

func TestFailedSettlementIsTerminal(t *testing.T) {
	st := openTestStore(t)
	insertEvent(t, st, ChainSolana, ChainSheet, "sig-1")

	attempts := 0
	worker := NewWorker(st, time.Second)
	worker.Register(Route{From: ChainSolana, To: ChainSheet}, func(ctx context.Context, event store.BridgeEvent) error {
		attempts++
		return errors.New("rpc unavailable")
	})

	require.NoError(t, worker.Tick(context.Background()))
	require.Equal(t, 1, attempts)

	// A failed event must never be retried on later ticks.
	require.NoError(t, worker.Tick(context.Background()))
	require.Equal(t, 1, attempts)

	stats, err := st.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failed)
}

func TestUnsupportedRouteFails(t *testing.T) {
	st := openTestStore(t)
	insertEvent(t, st, ChainSheet, ChainBSC, "sig-1")

	worker := NewWorker(st, time.Second)
	require.NoError(t, worker.Tick(context.Background()))

	stats, err := st.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failed)
	require.Equal(t, int64(0), stats.Pending)
}

func TestTickProcessesOldestFirst(t *testing.T) {
	st := openTestStore(t)
	insertEvent(t, st, ChainSolana, ChainSheet, "sig-1")
	insertEvent(t, st, ChainSolana, ChainSheet, "sig-2")

	var order []string
	worker := NewWorker(st, time.Second)
	worker.Register(Route{From: ChainSolana, To: ChainSheet}, func(ctx context.Context, event store.BridgeEvent) error {
		order = append(order, event.Signature)
		return nil
	})
	require.NoError(t, worker.Tick(context.Background()))
	require.Equal(t, []string{"sig-1", "sig-2"}, order)
}
