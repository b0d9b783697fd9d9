package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"sheetchain/sheet"
)

// Transaction statuses persisted in the Transactions tab.
const (
	StatusSuccess = "Success"

	// contractCreationCell marks a transfer with no recipient in the To column.
	contractCreationCell = "Contract Creation"

	defaultGasLimit = 21000
)

// Tx is a validated transfer request. Nil gas fields take the gas-less network
// defaults. The caller-supplied nonce, if any, is ignored: the ledger assigns
// the next nonce server-side.
type Tx struct {
	From     string
	To       string
	Value    *big.Int
	GasLimit *big.Int
	GasPrice *big.Int
	Data     []byte
}

// TransactionRecord is the append-only row written for every processed
// transfer. Records are identified by hash and never mutated.
type TransactionRecord struct {
	Hash        string
	From        string
	To          string
	Value       *big.Int
	Nonce       uint64
	Status      string
	BlockNumber uint64
	GasUsed     *big.Int
	Timestamp   time.Time
}

// Processor validates and applies transfers, owning the transaction history
// and the block counter derived from it.
type Processor struct {
	ledger *Ledger
	client sheet.Client
	now    func() time.Time
}

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = clock }
}

// NewProcessor wires the processor over the ledger and its backing store.
func NewProcessor(l *Ledger, client sheet.Client, opts ...ProcessorOption) *Processor {
	proc := &Processor{ledger: l, client: client, now: time.Now}
	for _, opt := range opts {
		opt(proc)
	}
	return proc
}

// transactionRows returns the data rows of the Transactions tab, skipping a
// header row when present.
func (p *Processor) transactionRows(ctx context.Context) ([][]string, error) {
	rows, err := p.client.ReadRange(ctx, sheet.ColumnRange(sheet.TabTransactions, "A", "I"))
	if err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == "Timestamp" {
		rows = rows[1:]
	}
	return rows, nil
}

// BlockNumber is the count of processed transactions. Deriving it from the
// table keeps the counter monotonic across restarts.
func (p *Processor) BlockNumber(ctx context.Context) (uint64, error) {
	rows, err := p.transactionRows(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(len(rows)), nil
}

// NextBlockNumber reserves the next sequential block value. Claim payouts
// consume block numbers through the same counter as transfers.
func (p *Processor) NextBlockNumber(ctx context.Context) (uint64, error) {
	current, err := p.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

// txHash derives the transaction hash from the transfer fields and the
// submission timestamp in milliseconds. Two identical submissions within the
// same millisecond collide; acceptable for a simulated chain.
func txHash(from, to string, value *big.Int, nonce uint64, at time.Time) string {
	toField := "null"
	if to != "" {
		toField = fmt.Sprintf("%q", to)
	}
	preimage := fmt.Sprintf(`{"from":%q,"to":%s,"value":%q,"nonce":%d,"timestamp":%d}`,
		from, toField, value.String(), nonce, at.UnixMilli())
	return crypto.Keccak256Hash([]byte(preimage)).Hex()
}

// ProcessTransaction applies the transfer. The sender's balance is debited by
// value plus gasLimit*gasPrice and its nonce incremented; the recipient, when
// set, is credited with value and its nonce left untouched. Both account locks
// are held for the full read-modify-write sequence so concurrent submissions
// against the same address serialize instead of losing updates.
func (p *Processor) ProcessTransaction(ctx context.Context, tx Tx) (*TransactionRecord, error) {
	from, err := NormalizeAddress(tx.From)
	if err != nil {
		return nil, err
	}
	to := ""
	if strings.TrimSpace(tx.To) != "" {
		if to, err = NormalizeAddress(tx.To); err != nil {
			return nil, err
		}
	}
	value := big.NewInt(0)
	if tx.Value != nil {
		if tx.Value.Sign() < 0 {
			return nil, fmt.Errorf("ledger: value must be non-negative")
		}
		value = new(big.Int).Set(tx.Value)
	}
	gasLimit := big.NewInt(defaultGasLimit)
	if tx.GasLimit != nil && tx.GasLimit.Sign() > 0 {
		gasLimit = new(big.Int).Set(tx.GasLimit)
	}
	gasPrice := big.NewInt(0)
	if tx.GasPrice != nil && tx.GasPrice.Sign() > 0 {
		gasPrice = new(big.Int).Set(tx.GasPrice)
	}
	totalCost := new(big.Int).Add(value, new(big.Int).Mul(gasLimit, gasPrice))

	unlock := p.ledger.LockAddresses(from, to)
	defer unlock()

	_, fromBalance, fromNonce, err := p.ledger.lookup(ctx, from)
	if err != nil {
		return nil, err
	}
	if fromBalance.Cmp(totalCost) < 0 {
		return nil, fmt.Errorf("%w: required %s, available %s", ErrInsufficientBalance, totalCost, fromBalance)
	}

	blockNumber, err := p.NextBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := p.now()
	record := &TransactionRecord{
		Hash:        txHash(from, to, value, fromNonce, now),
		From:        from,
		To:          to,
		Value:       value,
		Nonce:       fromNonce,
		Status:      StatusSuccess,
		BlockNumber: blockNumber,
		GasUsed:     gasLimit,
		Timestamp:   now,
	}

	if to != "" && to != from {
		_, toBalance, toNonce, err := p.ledger.lookup(ctx, to)
		if err != nil {
			return nil, err
		}
		if err := p.ledger.UpdateBalance(ctx, to, new(big.Int).Add(toBalance, value), toNonce); err != nil {
			return nil, err
		}
	}
	newFromBalance := new(big.Int).Sub(fromBalance, totalCost)
	if to == from && to != "" {
		newFromBalance.Add(newFromBalance, value)
	}
	if err := p.ledger.UpdateBalance(ctx, from, newFromBalance, fromNonce+1); err != nil {
		return nil, err
	}

	toCell := record.To
	if toCell == "" {
		toCell = contractCreationCell
	}
	row := []string{
		now.UTC().Format(time.RFC3339),
		record.Hash,
		record.From,
		toCell,
		value.String(),
		strconv.FormatUint(record.Nonce, 10),
		record.Status,
		strconv.FormatUint(blockNumber, 10),
		gasLimit.String(),
	}
	if err := p.client.AppendRow(ctx, sheet.TabTransactions, row); err != nil {
		return nil, fmt.Errorf("append transaction row: %w", err)
	}
	return record, nil
}

func recordFromRow(cells []string) (*TransactionRecord, bool) {
	if len(cells) < 8 {
		return nil, false
	}
	record := &TransactionRecord{
		Hash:   cells[1],
		From:   cells[2],
		Status: cells[6],
	}
	if cells[3] != contractCreationCell {
		record.To = cells[3]
	}
	record.Value = big.NewInt(0)
	if parsed, ok := new(big.Int).SetString(cells[4], 10); ok {
		record.Value = parsed
	}
	if nonce, err := strconv.ParseUint(cells[5], 10, 64); err == nil {
		record.Nonce = nonce
	}
	if block, err := strconv.ParseUint(cells[7], 10, 64); err == nil {
		record.BlockNumber = block
	}
	record.GasUsed = big.NewInt(defaultGasLimit)
	if len(cells) > 8 {
		if parsed, ok := new(big.Int).SetString(cells[8], 10); ok {
			record.GasUsed = parsed
		}
	}
	if ts, err := time.Parse(time.RFC3339, cells[0]); err == nil {
		record.Timestamp = ts
	}
	return record, true
}

// GetTransaction looks a record up by hash. It returns nil without error when
// the hash is unknown, matching the RPC surface's null result.
func (p *Processor) GetTransaction(ctx context.Context, hash string) (*TransactionRecord, error) {
	rows, err := p.transactionRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, cells := range rows {
		if len(cells) > 1 && strings.EqualFold(cells[1], hash) {
			if record, ok := recordFromRow(cells); ok {
				return record, nil
			}
		}
	}
	return nil, nil
}

// GetTransactionsByAddress returns every record where the address appears as
// sender or recipient, in table order.
func (p *Processor) GetTransactionsByAddress(ctx context.Context, addr string) ([]*TransactionRecord, error) {
	normalized, err := NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	rows, err := p.transactionRows(ctx)
	if err != nil {
		return nil, err
	}
	var records []*TransactionRecord
	for _, cells := range rows {
		if len(cells) < 4 {
			continue
		}
		if !strings.EqualFold(cells[2], normalized) && !strings.EqualFold(cells[3], normalized) {
			continue
		}
		if record, ok := recordFromRow(cells); ok {
			records = append(records, record)
		}
	}
	return records, nil
}
