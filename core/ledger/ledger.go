// Package ledger keeps account balances and nonces on the external tabular
// store and applies value transfers against them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"sheetchain/sheet"
)

var (
	// ErrInvalidAddress rejects inputs that are not 20-byte hex addresses.
	ErrInvalidAddress = errors.New("ledger: invalid address")
	// ErrInsufficientBalance is returned when a transfer's total cost exceeds
	// the sender's balance. No partial debit is applied.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// NormalizeAddress validates the address and lowers its hex form, the
// canonical key used across every tab.
func NormalizeAddress(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

// Ledger is the single writer of the Balances tab. The backing store offers no
// compare-and-swap, so the ledger serializes conflicting read-modify-write
// sequences itself with one mutex per address.
type Ledger struct {
	client sheet.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wraps the tabular store client.
func New(client sheet.Client) *Ledger {
	return &Ledger{client: client, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) lockFor(addr string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[addr]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[addr] = lock
	}
	return lock
}

// LockAddresses acquires the per-address locks for the given normalized
// addresses in a deterministic order and returns the release function.
// Duplicate addresses are locked once.
func (l *Ledger) LockAddresses(addrs ...string) func() {
	unique := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		unique = append(unique, addr)
	}
	sort.Strings(unique)
	locked := make([]*sync.Mutex, 0, len(unique))
	for _, addr := range unique {
		lock := l.lockFor(addr)
		lock.Lock()
		locked = append(locked, lock)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// lookup scans the Balances tab for the address row. The returned index is
// 1-based (matching the store's row addressing); 0 means not found. A row with
// malformed numeric cells reads as balance and nonce zero.
func (l *Ledger) lookup(ctx context.Context, addr string) (row int, balance *big.Int, nonce uint64, err error) {
	rows, err := l.client.ReadRange(ctx, sheet.ColumnRange(sheet.TabBalances, "A", "C"))
	if err != nil {
		return 0, nil, 0, fmt.Errorf("read balances: %w", err)
	}
	for i, cells := range rows {
		if len(cells) == 0 || !strings.EqualFold(cells[0], addr) {
			continue
		}
		balance = big.NewInt(0)
		if len(cells) > 1 {
			if parsed, ok := new(big.Int).SetString(strings.TrimSpace(cells[1]), 10); ok && parsed.Sign() >= 0 {
				balance = parsed
			}
		}
		if len(cells) > 2 {
			if parsed, perr := strconv.ParseUint(strings.TrimSpace(cells[2]), 10, 64); perr == nil {
				nonce = parsed
			}
		}
		return i + 1, balance, nonce, nil
	}
	return 0, big.NewInt(0), 0, nil
}

// GetBalance returns the address balance, zero for unknown accounts.
func (l *Ledger) GetBalance(ctx context.Context, addr string) (*big.Int, error) {
	normalized, err := NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	_, balance, _, err := l.lookup(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// GetNonce returns the address nonce, zero for unknown accounts.
func (l *Ledger) GetNonce(ctx context.Context, addr string) (uint64, error) {
	normalized, err := NormalizeAddress(addr)
	if err != nil {
		return 0, err
	}
	_, _, nonce, err := l.lookup(ctx, normalized)
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

// UpdateBalance writes the new balance and nonce for the address, appending a
// fresh row for first-time accounts. Accounts are never deleted. Callers that
// derived the new values from a prior read must hold the address lock across
// the whole sequence; see LockAddresses.
func (l *Ledger) UpdateBalance(ctx context.Context, addr string, balance *big.Int, nonce uint64) error {
	normalized, err := NormalizeAddress(addr)
	if err != nil {
		return err
	}
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("ledger: balance must be non-negative")
	}
	row, _, _, err := l.lookup(ctx, normalized)
	if err != nil {
		return err
	}
	cells := []string{normalized, balance.String(), strconv.FormatUint(nonce, 10)}
	if row == 0 {
		if err := l.client.AppendRow(ctx, sheet.TabBalances, cells); err != nil {
			return fmt.Errorf("append account row: %w", err)
		}
		return nil
	}
	spec := sheet.RowRange(sheet.TabBalances, row, "A", "C")
	if err := l.client.UpdateRange(ctx, spec, [][]string{cells}); err != nil {
		return fmt.Errorf("update account row: %w", err)
	}
	return nil
}

// Credit adds amount to the address balance under the address lock, leaving
// the nonce untouched. Used by claim payouts and bridge settlements.
func (l *Ledger) Credit(ctx context.Context, addr string, amount *big.Int) error {
	normalized, err := NormalizeAddress(addr)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: credit amount must be non-negative")
	}
	unlock := l.LockAddresses(normalized)
	defer unlock()
	_, balance, nonce, err := l.lookup(ctx, normalized)
	if err != nil {
		return err
	}
	return l.UpdateBalance(ctx, normalized, new(big.Int).Add(balance, amount), nonce)
}
