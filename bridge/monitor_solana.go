package bridge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"

	"sheetchain/bridge/store"
	"sheetchain/observability"
)

const programDataPrefix = "Program data: "

// tokensLockedDiscriminator is the anchor event discriminator, the first
// eight bytes of sha256("event:TokensLocked").
var tokensLockedDiscriminator = func() []byte {
	sum := sha256.Sum256([]byte("event:TokensLocked"))
	return sum[:8]
}()

// solanaTxClient is the slice of the solana rpc client the monitor needs.
type solanaTxClient interface {
	GetSignaturesForAddress(ctx context.Context, account solana.PublicKey) ([]*solrpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *solrpc.GetTransactionOpts) (*solrpc.GetTransactionResult, error)
}

// SolanaMonitor polls the lock program for TokensLocked events and captures
// them into the pending queue.
type SolanaMonitor struct {
	client   solanaTxClient
	store    *store.Store
	program  solana.PublicKey
	interval time.Duration

	primed bool
	seen   map[string]struct{}
	log    *slog.Logger
}

// NewSolanaMonitor builds the lock-program poller.
func NewSolanaMonitor(rpcURL, lockProgram string, st *store.Store, interval time.Duration) (*SolanaMonitor, error) {
	program, err := solana.PublicKeyFromBase58(lockProgram)
	if err != nil {
		return nil, err
	}
	return newSolanaMonitor(solrpc.New(rpcURL), program, st, interval), nil
}

func newSolanaMonitor(client solanaTxClient, program solana.PublicKey, st *store.Store, interval time.Duration) *SolanaMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SolanaMonitor{
		client:   client,
		store:    st,
		program:  program,
		interval: interval,
		seen:     make(map[string]struct{}),
		log:      slog.Default().With("component", "solana_monitor"),
	}
}

// Run polls until ctx is cancelled. RPC errors are returned so the supervisor
// restarts the monitor with backoff; the seen set keeps a restarted poller
// from re-fetching transactions, and the store dedups across process
// restarts.
func (m *SolanaMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info("lock program monitor running", "program", m.program.String(), "interval", m.interval.String())
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

func (m *SolanaMonitor) poll(ctx context.Context) error {
	signatures, err := m.client.GetSignaturesForAddress(ctx, m.program)
	if err != nil {
		return err
	}
	if !m.primed {
		// First poll records the existing signatures as the baseline; history
		// is not replayed, matching the EVM monitor's head baseline.
		for _, sig := range signatures {
			if sig != nil {
				m.seen[sig.Signature.String()] = struct{}{}
			}
		}
		m.primed = true
		return nil
	}
	// Signatures arrive newest first; walk backwards for insertion order.
	for i := len(signatures) - 1; i >= 0; i-- {
		sig := signatures[i]
		if sig == nil || sig.Err != nil {
			continue
		}
		key := sig.Signature.String()
		if _, ok := m.seen[key]; ok {
			continue
		}
		m.seen[key] = struct{}{}
		if err := m.inspect(ctx, sig.Signature); err != nil {
			return err
		}
	}
	return nil
}

func (m *SolanaMonitor) inspect(ctx context.Context, signature solana.Signature) error {
	maxVersion := uint64(0)
	tx, err := m.client.GetTransaction(ctx, signature, &solrpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     solrpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return err
	}
	if tx == nil || tx.Meta == nil {
		return nil
	}
	for index, line := range tx.Meta.LogMessages {
		sender, amount, recipient, ok := parseTokensLockedLog(line)
		if !ok {
			continue
		}
		if strings.TrimSpace(recipient) == "" {
			m.log.Warn("dropping lock event with empty recipient", "signature", signature.String())
			continue
		}
		amountStr := strconv.FormatUint(amount, 10)
		inserted, err := m.store.Insert(&store.BridgeEvent{
			FromChain:   ChainSolana,
			FromAddress: sender.String(),
			FromAmount:  amountStr,
			ToChain:     ChainSheet,
			ToAddress:   recipient,
			ToAmount:    amountStr,
			Signature:   signature.String() + ":" + strconv.Itoa(index),
		})
		if err != nil {
			return err
		}
		if inserted {
			observability.BridgeEventsCaptured().WithLabelValues(ChainSolana).Inc()
			m.log.Info("lock event captured", "sender", sender.String(), "recipient", recipient, "amount", amountStr)
		}
	}
	return nil
}

// parseTokensLockedLog decodes an anchor "Program data:" log line carrying a
// TokensLocked event: the discriminator, a 32-byte sender key, a
// little-endian u64 amount, and a length-prefixed recipient string.
func parseTokensLockedLog(line string) (solana.PublicKey, uint64, string, bool) {
	idx := strings.Index(line, programDataPrefix)
	if idx < 0 {
		return solana.PublicKey{}, 0, "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[idx+len(programDataPrefix):]))
	if err != nil || len(raw) < 8 {
		return solana.PublicKey{}, 0, "", false
	}
	if !bytes.Equal(raw[:8], tokensLockedDiscriminator) {
		return solana.PublicKey{}, 0, "", false
	}
	rest := raw[8:]
	if len(rest) < 32+8+4 {
		return solana.PublicKey{}, 0, "", false
	}
	sender := solana.PublicKeyFromBytes(rest[:32])
	amount := binary.LittleEndian.Uint64(rest[32:40])
	strLen := binary.LittleEndian.Uint32(rest[40:44])
	if len(rest) < 44+int(strLen) {
		return solana.PublicKey{}, 0, "", false
	}
	recipient := string(rest[44 : 44+strLen])
	return sender, amount, recipient, true
}
