package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(InMemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testEvent() *BridgeEvent {
	return &BridgeEvent{
		FromChain:   "solana",
		FromAddress: "Sender1111111111111111111111111111111111111",
		FromAmount:  "1000",
		ToChain:     "sheet",
		ToAddress:   "0x1111111111111111111111111111111111111111",
		ToAmount:    "1000",
		Signature:   "sig-1",
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	st := openTestStore(t)

	inserted, err := st.Insert(testEvent())
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = st.Insert(testEvent())
	require.NoError(t, err)
	require.False(t, inserted, "identical tuple must not create a second row")

	pending, err := st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, StatusPending, pending[0].Status)
}

func TestDifferentTuplesBothStored(t *testing.T) {
	st := openTestStore(t)

	_, err := st.Insert(testEvent())
	require.NoError(t, err)

	second := testEvent()
	second.FromAmount = "2000"
	second.ToAmount = "2000"
	inserted, err := st.Insert(second)
	require.NoError(t, err)
	require.True(t, inserted)

	pending, err := st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestStatusTransitions(t *testing.T) {
	st := openTestStore(t)

	_, err := st.Insert(testEvent())
	require.NoError(t, err)
	pending, err := st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, st.MarkProcessed(pending[0].ID))
	pending, err = st.Pending()
	require.NoError(t, err)
	require.Empty(t, pending, "processed events leave the pending queue")

	second := testEvent()
	second.Signature = "sig-2"
	second.FromAmount = "5"
	second.ToAmount = "5"
	_, err = st.Insert(second)
	require.NoError(t, err)
	pending, err = st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, st.MarkFailed(pending[0].ID, "transfer reverted"))
	pending, err = st.Pending()
	require.NoError(t, err)
	require.Empty(t, pending, "failed events are terminal")

	stats, err := st.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Pending)
	require.Equal(t, int64(1), stats.Processed)
	require.Equal(t, int64(1), stats.Failed)
}

func TestMarkUnknownEvent(t *testing.T) {
	st := openTestStore(t)
	require.Error(t, st.MarkProcessed(42))
}
