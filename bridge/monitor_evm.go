package bridge

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"sheetchain/bridge/store"
	"sheetchain/observability"
)

// tokensLockedTopic is keccak256("TokensLocked(address,address,uint256)")
// with the sender indexed.
var tokensLockedTopic = crypto.Keccak256Hash([]byte("TokensLocked(address,address,uint256)"))

var tokensLockedData = abi.Arguments{
	{Name: "recipient", Type: mustABIType("address")},
	{Name: "amount", Type: mustABIType("uint256")},
}

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// evmLogClient is the slice of ethclient the monitor needs; tests stub it.
type evmLogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EVMMonitor polls an EVM chain for TokensLocked events on the lock contract
// and captures them into the pending queue.
type EVMMonitor struct {
	client    evmLogClient
	store     *store.Store
	contract  common.Address
	interval  time.Duration
	lastBlock uint64
	log       *slog.Logger
}

// NewEVMMonitor dials rpcURL and builds the lock-contract poller.
func NewEVMMonitor(rpcURL, lockContract string, st *store.Store, interval time.Duration) (*EVMMonitor, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return newEVMMonitor(client, lockContract, st, interval), nil
}

func newEVMMonitor(client evmLogClient, lockContract string, st *store.Store, interval time.Duration) *EVMMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &EVMMonitor{
		client:   client,
		store:    st,
		contract: common.HexToAddress(lockContract),
		interval: interval,
		log:      slog.Default().With("component", "bsc_monitor"),
	}
}

// Run polls until ctx is cancelled. Errors are returned so the supervisor
// restarts the monitor; lastBlock survives restarts within the process.
func (m *EVMMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info("lock contract monitor running", "contract", m.contract.Hex(), "interval", m.interval.String())
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

func (m *EVMMonitor) poll(ctx context.Context) error {
	head, err := m.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if m.lastBlock == 0 {
		// First poll establishes the baseline; history is not replayed.
		m.lastBlock = head
		return nil
	}
	if head <= m.lastBlock {
		return nil
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(m.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{m.contract},
		Topics:    [][]common.Hash{{tokensLockedTopic}},
	}
	logs, err := m.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}
	for _, entry := range logs {
		if err := m.capture(entry); err != nil {
			return err
		}
	}
	m.lastBlock = head
	return nil
}

func (m *EVMMonitor) capture(entry types.Log) error {
	if len(entry.Topics) < 2 {
		return nil
	}
	sender := common.BytesToAddress(entry.Topics[1].Bytes())
	values, err := tokensLockedData.Unpack(entry.Data)
	if err != nil {
		m.log.Warn("dropping undecodable lock event", "tx_hash", entry.TxHash.Hex(), "error", err)
		return nil
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		m.log.Warn("dropping lock event with malformed recipient", "tx_hash", entry.TxHash.Hex())
		return nil
	}
	amount, ok := values[1].(*big.Int)
	if !ok || amount.Sign() <= 0 {
		m.log.Warn("dropping lock event with malformed amount", "tx_hash", entry.TxHash.Hex())
		return nil
	}
	signature := entry.TxHash.Hex() + ":" + hexUint(entry.Index)
	inserted, err := m.store.Insert(&store.BridgeEvent{
		FromChain:   ChainBSC,
		FromAddress: sender.Hex(),
		FromAmount:  amount.String(),
		ToChain:     ChainSheet,
		ToAddress:   recipient.Hex(),
		ToAmount:    amount.String(),
		Signature:   signature,
	})
	if err != nil {
		return err
	}
	if inserted {
		observability.BridgeEventsCaptured().WithLabelValues(ChainBSC).Inc()
		m.log.Info("lock event captured", "sender", sender.Hex(), "recipient", recipient.Hex(), "amount", amount.String())
	}
	return nil
}

func hexUint(v uint) string {
	return new(big.Int).SetUint64(uint64(v)).Text(16)
}
