package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"sheetchain/bridge/store"
	"sheetchain/observability"
	"sheetchain/sheet"
)

// SheetMonitor polls the Bridge tab for outbound transfer rows written by the
// RPC node and captures them into the pending queue. The queue insert is
// idempotent on the event tuple, so re-reading the same rows on every poll is
// harmless.
type SheetMonitor struct {
	client     sheet.Client
	store      *store.Store
	interval   time.Duration
	destChains map[string]string

	seen map[string]struct{}
	log  *slog.Logger
}

// NewSheetMonitor builds the Bridge-tab poller. destChains maps the DestChain
// cell value (a chain id) onto a chain name; the literal chain names are
// always accepted.
func NewSheetMonitor(client sheet.Client, st *store.Store, interval time.Duration, destChains map[string]string) *SheetMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SheetMonitor{
		client:     client,
		store:      st,
		interval:   interval,
		destChains: destChains,
		seen:       make(map[string]struct{}),
		log:        slog.Default().With("component", "sheet_monitor"),
	}
}

func (m *SheetMonitor) resolveDestChain(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ChainSolana, ChainBSC, ChainSheet:
		return value, true
	}
	if named, ok := m.destChains[value]; ok {
		return named, true
	}
	return "", false
}

// Run polls until ctx is cancelled. A read failure is returned so the
// supervisor restarts the monitor with backoff.
func (m *SheetMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info("bridge tab monitor running", "interval", m.interval.String())
	for {
		if err := m.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *SheetMonitor) poll(ctx context.Context) error {
	rows, err := m.client.ReadRange(ctx, sheet.ColumnRange(sheet.TabBridge, "A", "H"))
	if err != nil {
		return err
	}
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == "Timestamp" {
		rows = rows[1:]
	}
	for _, cells := range rows {
		// Timestamp, TxHash, From, Amount, ToAddress, DestChain, Status, BlockNumber
		if len(cells) < 7 {
			continue
		}
		txHash := strings.TrimSpace(cells[1])
		if txHash == "" {
			continue
		}
		if _, ok := m.seen[txHash]; ok {
			continue
		}
		m.seen[txHash] = struct{}{}
		if !strings.EqualFold(strings.TrimSpace(cells[6]), "pending") {
			continue
		}
		destChain, ok := m.resolveDestChain(cells[5])
		if !ok {
			m.log.Warn("dropping bridge row with unknown destination chain", "tx_hash", txHash, "dest_chain", cells[5])
			continue
		}
		recipient := strings.TrimSpace(cells[4])
		if recipient == "" {
			m.log.Warn("dropping bridge row with empty recipient", "tx_hash", txHash)
			continue
		}
		amount := strings.TrimSpace(cells[3])
		inserted, err := m.store.Insert(&store.BridgeEvent{
			FromChain:   ChainSheet,
			FromAddress: strings.TrimSpace(cells[2]),
			FromAmount:  amount,
			ToChain:     destChain,
			ToAddress:   recipient,
			ToAmount:    amount,
			Signature:   txHash,
		})
		if err != nil {
			return err
		}
		if inserted {
			observability.BridgeEventsCaptured().WithLabelValues(ChainSheet).Inc()
			m.log.Info("bridge-out captured", "tx_hash", txHash, "dest_chain", destChain, "amount", amount)
		}
	}
	return nil
}
