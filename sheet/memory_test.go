package sheet

import (
	"context"
	"testing"
)

func TestRangeHelpers(t *testing.T) {
	if got := RowRange(TabBalances, 3, "A", "C"); got != "Balances!A3:C3" {
		t.Fatalf("unexpected row range: %q", got)
	}
	if got := ColumnRange(TabTransactions, "A", "I"); got != "Transactions!A:I" {
		t.Fatalf("unexpected column range: %q", got)
	}
}

func TestMemoryReadAppendUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed(TabBalances,
		[]string{"Address", "Balance", "Nonce"},
		[]string{"0xabc", "10", "0"},
	)

	rows, err := m.ReadRange(ctx, ColumnRange(TabBalances, "A", "C"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if err := m.AppendRow(ctx, TabBalances, []string{"0xdef", "20", "1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	rows, _ = m.ReadRange(ctx, ColumnRange(TabBalances, "A", "C"))
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows after append, got %d", len(rows))
	}

	if err := m.UpdateRange(ctx, RowRange(TabBalances, 2, "A", "C"), [][]string{{"0xabc", "99", "7"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, _ = m.ReadRange(ctx, RowRange(TabBalances, 2, "A", "C"))
	if len(rows) != 1 || rows[0][1] != "99" {
		t.Fatalf("expected updated balance 99, got %+v", rows)
	}
}

func TestMemoryBoundedRead(t *testing.T) {
	m := NewMemory()
	m.Seed(TabTransactions,
		[]string{"h"},
		[]string{"r1"},
		[]string{"r2"},
	)
	rows, err := m.ReadRange(context.Background(), RowRange(TabTransactions, 2, "A", "A"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "r1" {
		t.Fatalf("expected bounded read of row 2, got %+v", rows)
	}
}
