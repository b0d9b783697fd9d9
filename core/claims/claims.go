// Package claims implements the airdrop claim lifecycle. Each address may
// complete at most one claim, the network enforces a global claimant cap, and
// every claim moves through a pending then completed state recorded in the
// Claims tab.
package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetchain/core/ledger"
	"sheetchain/sheet"
)

// Status tracks a claim through its lifecycle.
type Status uint8

const (
	// StatusPending marks a registered claim awaiting payout.
	StatusPending Status = iota
	// StatusCompleted marks a claim whose payout has been credited.
	StatusCompleted
)

// Valid reports whether the status is a defined lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func parseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, true
	case "completed":
		return StatusCompleted, true
	default:
		return 0, false
	}
}

var (
	// ErrNotFound is returned when no claim matches the supplied identifier.
	ErrNotFound = errors.New("claims: not found")
	// ErrNotPending is returned when processing a claim that already completed.
	ErrNotPending = errors.New("claims: claim is not pending")
	// ErrAlreadyClaimed is returned when an address holds a completed claim.
	ErrAlreadyClaimed = errors.New("claims: address already claimed")
	// ErrCapReached is returned once the completed-claim cap is exhausted.
	ErrCapReached = errors.New("claims: claimant cap reached")
	// ErrInvalidAmount is returned for zero or negative claim amounts.
	ErrInvalidAmount = errors.New("claims: amount must be positive")
)

// Claim is a single airdrop entitlement for an address.
type Claim struct {
	ID          string
	Address     string
	Amount      *big.Int
	Timestamp   time.Time
	Status      Status
	TxHash      string
	BlockNumber uint64
}

// BlockCounter reserves block numbers for claim payouts so they share the
// transfer sequence.
type BlockCounter interface {
	NextBlockNumber(ctx context.Context) (uint64, error)
}

// Service coordinates claim registration and payout against the shared store.
type Service struct {
	client       sheet.Client
	ledger       *ledger.Ledger
	blocks       BlockCounter
	maxClaimants int

	mu  sync.Mutex
	now func() time.Time
}

// ServiceOption customises the service instance.
type ServiceOption func(*Service)

// WithClock sets the function used to derive claim timestamps.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.now = clock }
}

// New wires the claim service. maxClaimants of zero disables the cap.
func New(client sheet.Client, l *ledger.Ledger, blocks BlockCounter, maxClaimants int, opts ...ServiceOption) *Service {
	svc := &Service{
		client:       client,
		ledger:       l,
		blocks:       blocks,
		maxClaimants: maxClaimants,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// MaxClaimants returns the configured completed-claim cap.
func (s *Service) MaxClaimants() int { return s.maxClaimants }

func claimFromRow(cells []string) (*Claim, bool) {
	if len(cells) < 5 {
		return nil, false
	}
	status, ok := parseStatus(cells[4])
	if !ok {
		return nil, false
	}
	claim := &Claim{
		ID:      cells[0],
		Address: cells[1],
		Status:  status,
		Amount:  big.NewInt(0),
	}
	if parsed, parsedOK := new(big.Int).SetString(cells[2], 10); parsedOK {
		claim.Amount = parsed
	}
	if ts, err := time.Parse(time.RFC3339, cells[3]); err == nil {
		claim.Timestamp = ts
	}
	if len(cells) > 5 {
		claim.TxHash = cells[5]
	}
	if len(cells) > 6 {
		if block, err := strconv.ParseUint(cells[6], 10, 64); err == nil {
			claim.BlockNumber = block
		}
	}
	return claim, true
}

// rows returns the data rows of the Claims tab together with the 1-based row
// offset of the first data row.
func (s *Service) rows(ctx context.Context) ([][]string, int, error) {
	rows, err := s.client.ReadRange(ctx, sheet.ColumnRange(sheet.TabClaims, "A", "G"))
	if err != nil {
		return nil, 0, fmt.Errorf("read claims: %w", err)
	}
	offset := 1
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == "ClaimID" {
		rows = rows[1:]
		offset = 2
	}
	return rows, offset, nil
}

func claimRowCells(c *Claim) []string {
	txHash := c.TxHash
	block := ""
	if c.Status == StatusCompleted {
		block = strconv.FormatUint(c.BlockNumber, 10)
	}
	return []string{
		c.ID,
		c.Address,
		c.Amount.String(),
		c.Timestamp.UTC().Format(time.RFC3339),
		c.Status.String(),
		txHash,
		block,
	}
}

// Create registers a pending claim for the address. It fails when the address
// already completed a claim or the claimant cap is reached. A pending claim
// does not count against the cap until it completes.
func (s *Service) Create(ctx context.Context, addr string, amount *big.Int) (*Claim, error) {
	normalized, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, _, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	completed := 0
	for _, cells := range rows {
		claim, ok := claimFromRow(cells)
		if !ok || claim.Status != StatusCompleted {
			continue
		}
		completed++
		if strings.EqualFold(claim.Address, normalized) {
			return nil, ErrAlreadyClaimed
		}
	}
	if s.maxClaimants > 0 && completed >= s.maxClaimants {
		return nil, ErrCapReached
	}

	claim := &Claim{
		ID:        uuid.NewString(),
		Address:   normalized,
		Amount:    new(big.Int).Set(amount),
		Timestamp: s.now(),
		Status:    StatusPending,
	}
	if err := s.client.AppendRow(ctx, sheet.TabClaims, claimRowCells(claim)); err != nil {
		return nil, fmt.Errorf("append claim row: %w", err)
	}
	return claim, nil
}

// Process completes a pending claim: it credits the claim amount to the
// address, reserves a block number, and flips the row to completed with the
// payout hash. A second Process for the same claim returns ErrNotPending.
func (s *Service) Process(ctx context.Context, claimID, txHash string) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, offset, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	for i, cells := range rows {
		if len(cells) == 0 || cells[0] != claimID {
			continue
		}
		claim, ok := claimFromRow(cells)
		if !ok {
			return nil, ErrNotFound
		}
		if claim.Status != StatusPending {
			return nil, ErrNotPending
		}
		block, err := s.blocks.NextBlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Credit(ctx, claim.Address, claim.Amount); err != nil {
			return nil, err
		}
		claim.Status = StatusCompleted
		claim.TxHash = txHash
		claim.BlockNumber = block
		rangeSpec := sheet.RowRange(sheet.TabClaims, offset+i, "A", "G")
		if err := s.client.UpdateRange(ctx, rangeSpec, [][]string{claimRowCells(claim)}); err != nil {
			return nil, fmt.Errorf("update claim row: %w", err)
		}
		return claim, nil
	}
	return nil, ErrNotFound
}

// Get looks a claim up by identifier.
func (s *Service) Get(ctx context.Context, claimID string) (*Claim, error) {
	rows, _, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	for _, cells := range rows {
		if len(cells) > 0 && cells[0] == claimID {
			if claim, ok := claimFromRow(cells); ok {
				return claim, nil
			}
		}
	}
	return nil, ErrNotFound
}

// HasCompleted reports whether the address holds a completed claim.
func (s *Service) HasCompleted(ctx context.Context, addr string) (bool, error) {
	normalized, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return false, err
	}
	rows, _, err := s.rows(ctx)
	if err != nil {
		return false, err
	}
	for _, cells := range rows {
		claim, ok := claimFromRow(cells)
		if !ok {
			continue
		}
		if claim.Status == StatusCompleted && strings.EqualFold(claim.Address, normalized) {
			return true, nil
		}
	}
	return false, nil
}

// CompletedCount returns the number of completed claims.
func (s *Service) CompletedCount(ctx context.Context) (int, error) {
	rows, _, err := s.rows(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, cells := range rows {
		if claim, ok := claimFromRow(cells); ok && claim.Status == StatusCompleted {
			count++
		}
	}
	return count, nil
}

// ByAddress returns every claim registered for the address, in table order.
func (s *Service) ByAddress(ctx context.Context, addr string) ([]*Claim, error) {
	normalized, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	var claims []*Claim
	for _, cells := range rows {
		claim, ok := claimFromRow(cells)
		if !ok {
			continue
		}
		if strings.EqualFold(claim.Address, normalized) {
			claims = append(claims, claim)
		}
	}
	return claims, nil
}

// Stats summarises the claim table for the operator surface.
type Stats struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Completed    int `json:"completed"`
	MaxClaimants int `json:"maxClaimants"`
}

// Stats tallies claims by status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	rows, _, err := s.rows(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{MaxClaimants: s.maxClaimants}
	for _, cells := range rows {
		claim, ok := claimFromRow(cells)
		if !ok {
			continue
		}
		stats.Total++
		switch claim.Status {
		case StatusPending:
			stats.Pending++
		case StatusCompleted:
			stats.Completed++
		}
	}
	return stats, nil
}
