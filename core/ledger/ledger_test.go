package ledger

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"sheetchain/sheet"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0x2222222222222222222222222222222222222222"
)

func seededClient(t *testing.T) *sheet.Memory {
	t.Helper()
	client := sheet.NewMemory()
	client.Seed(sheet.TabBalances,
		[]string{"Address", "Balance", "Nonce"},
		[]string{addrA, "1000", "5"},
		[]string{addrB, "250", "0"},
	)
	return client
}

func TestGetBalanceAndNonce(t *testing.T) {
	l := New(seededClient(t))
	ctx := context.Background()

	balance, err := l.GetBalance(ctx, addrA)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected balance 1000, got %s", balance)
	}
	nonce, err := l.GetNonce(ctx, addrA)
	if err != nil {
		t.Fatalf("get nonce: %v", err)
	}
	if nonce != 5 {
		t.Fatalf("expected nonce 5, got %d", nonce)
	}
}

func TestUnknownAccountReadsAsZero(t *testing.T) {
	l := New(seededClient(t))
	balance, err := l.GetBalance(context.Background(), "0x3333333333333333333333333333333333333333")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", balance)
	}
}

func TestMalformedCellsReadAsZero(t *testing.T) {
	client := sheet.NewMemory()
	client.Seed(sheet.TabBalances,
		[]string{"Address", "Balance", "Nonce"},
		[]string{addrA, "not-a-number", "also-bad"},
	)
	l := New(client)

	balance, err := l.GetBalance(context.Background(), addrA)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero balance for malformed cell, got %s", balance)
	}
	nonce, err := l.GetNonce(context.Background(), addrA)
	if err != nil {
		t.Fatalf("get nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("expected zero nonce for malformed cell, got %d", nonce)
	}
}

func TestInvalidAddressRejected(t *testing.T) {
	l := New(seededClient(t))
	if _, err := l.GetBalance(context.Background(), "nope"); err == nil {
		t.Fatal("expected invalid address error")
	}
}

func TestCreditCreatesAccount(t *testing.T) {
	l := New(seededClient(t))
	ctx := context.Background()
	newAddr := "0x4444444444444444444444444444444444444444"

	if err := l.Credit(ctx, newAddr, big.NewInt(77)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := l.GetBalance(ctx, newAddr)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("expected balance 77, got %s", balance)
	}
	nonce, err := l.GetNonce(ctx, newAddr)
	if err != nil {
		t.Fatalf("get nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("credit must not touch the nonce, got %d", nonce)
	}
}

func TestConcurrentCreditsSerialize(t *testing.T) {
	l := New(seededClient(t))
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Credit(ctx, addrB, big.NewInt(10)); err != nil {
				t.Errorf("credit: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, err := l.GetBalance(ctx, addrB)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	want := big.NewInt(250 + workers*10)
	if balance.Cmp(want) != 0 {
		t.Fatalf("lost update: expected %s, got %s", want, balance)
	}
}

func TestLockAddressesDedupes(t *testing.T) {
	l := New(seededClient(t))
	// Locking the same address twice in one call must not deadlock.
	unlock := l.LockAddresses(addrA, addrA, "")
	unlock()
}
