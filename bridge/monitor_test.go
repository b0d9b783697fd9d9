package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"sheetchain/sheet"
)

func TestSheetMonitorCapturesPendingRows(t *testing.T) {
	st := openTestStore(t)
	client := sheet.NewMemory()
	client.Seed(sheet.TabBridge,
		[]string{"Timestamp", "TxHash", "From", "Amount", "ToAddress", "DestChain", "Status", "BlockNumber"},
		[]string{"2025-09-20T12:00:00Z", "0xaaa", "0x1111111111111111111111111111111111111111", "100", "0x2222222222222222222222222222222222222222", "56", "Pending", "1"},
		[]string{"2025-09-20T12:01:00Z", "0xbbb", "0x1111111111111111111111111111111111111111", "200", "0x3333333333333333333333333333333333333333", "999", "Pending", "2"},
		[]string{"2025-09-20T12:02:00Z", "0xccc", "0x1111111111111111111111111111111111111111", "300", "", "56", "Pending", "3"},
	)

	monitor := NewSheetMonitor(client, st, 0, map[string]string{"56": ChainBSC})
	require.NoError(t, monitor.poll(context.Background()))

	pending, err := st.Pending()
	require.NoError(t, err)
	// Unknown chain and empty recipient rows are dropped.
	require.Len(t, pending, 1)
	require.Equal(t, ChainSheet, pending[0].FromChain)
	require.Equal(t, ChainBSC, pending[0].ToChain)
	require.Equal(t, "100", pending[0].ToAmount)

	// A second poll over the same rows captures nothing new.
	require.NoError(t, monitor.poll(context.Background()))
	pending, err = st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func encodeTokensLockedLog(t *testing.T, sender solana.PublicKey, amount uint64, recipient string) string {
	t.Helper()
	sum := sha256.Sum256([]byte("event:TokensLocked"))
	payload := append([]byte{}, sum[:8]...)
	payload = append(payload, sender.Bytes()...)
	payload = binary.LittleEndian.AppendUint64(payload, amount)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(recipient)))
	payload = append(payload, []byte(recipient)...)
	return "Program data: " + base64.StdEncoding.EncodeToString(payload)
}

func TestParseTokensLockedLog(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	line := encodeTokensLockedLog(t, sender, 12345, "0x1111111111111111111111111111111111111111")

	gotSender, amount, recipient, ok := parseTokensLockedLog(line)
	require.True(t, ok)
	require.Equal(t, sender, gotSender)
	require.Equal(t, uint64(12345), amount)
	require.Equal(t, "0x1111111111111111111111111111111111111111", recipient)

	_, _, _, ok = parseTokensLockedLog("Program log: Instruction: Lock")
	require.False(t, ok)
	_, _, _, ok = parseTokensLockedLog("Program data: not-base64!!")
	require.False(t, ok)
}

type stubSolanaClient struct {
	sigs []*solrpc.TransactionSignature
	txs  map[solana.Signature]*solrpc.GetTransactionResult
}

func (s *stubSolanaClient) GetSignaturesForAddress(context.Context, solana.PublicKey) ([]*solrpc.TransactionSignature, error) {
	return s.sigs, nil
}

func (s *stubSolanaClient) GetTransaction(_ context.Context, sig solana.Signature, _ *solrpc.GetTransactionOpts) (*solrpc.GetTransactionResult, error) {
	return s.txs[sig], nil
}

func lockedTxResult(t *testing.T, sender solana.PublicKey, amount uint64, recipient string) *solrpc.GetTransactionResult {
	t.Helper()
	return &solrpc.GetTransactionResult{
		Meta: &solrpc.TransactionMeta{
			LogMessages: []string{encodeTokensLockedLog(t, sender, amount, recipient)},
		},
	}
}

func TestSolanaMonitorDoesNotReplayHistory(t *testing.T) {
	st := openTestStore(t)
	sender := solana.NewWallet().PublicKey()
	historical := solana.Signature{1}
	stub := &stubSolanaClient{
		sigs: []*solrpc.TransactionSignature{{Signature: historical}},
		txs: map[solana.Signature]*solrpc.GetTransactionResult{
			historical: lockedTxResult(t, sender, 100, "0x1111111111111111111111111111111111111111"),
		},
	}
	monitor := newSolanaMonitor(stub, solana.NewWallet().PublicKey(), st, 0)

	// The first poll only records the existing signatures as a baseline.
	require.NoError(t, monitor.poll(context.Background()))
	pending, err := st.Pending()
	require.NoError(t, err)
	require.Empty(t, pending, "historical locks must not be enqueued")

	fresh := solana.Signature{2}
	stub.sigs = append([]*solrpc.TransactionSignature{{Signature: fresh}}, stub.sigs...)
	stub.txs[fresh] = lockedTxResult(t, sender, 200, "0x2222222222222222222222222222222222222222")
	require.NoError(t, monitor.poll(context.Background()))

	pending, err = st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, ChainSolana, pending[0].FromChain)
	require.Equal(t, "200", pending[0].ToAmount)
	require.Equal(t, "0x2222222222222222222222222222222222222222", pending[0].ToAddress)
}

type stubEVMClient struct {
	head uint64
	logs []types.Log
}

func (s *stubEVMClient) BlockNumber(context.Context) (uint64, error) { return s.head, nil }

func (s *stubEVMClient) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return s.logs, nil
}

func TestEVMMonitorCapturesLockEvents(t *testing.T) {
	st := openTestStore(t)
	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	recipient := common.HexToAddress("0x5555555555555555555555555555555555555555")
	data, err := tokensLockedData.Pack(recipient, big.NewInt(700))
	require.NoError(t, err)

	stub := &stubEVMClient{head: 100}
	monitor := newEVMMonitor(stub, "0x6666666666666666666666666666666666666666", st, 0)

	// First poll only establishes the baseline block.
	require.NoError(t, monitor.poll(context.Background()))
	pending, err := st.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)

	stub.head = 101
	stub.logs = []types.Log{{
		Topics: []common.Hash{tokensLockedTopic, common.BytesToHash(sender.Bytes())},
		Data:   data,
		TxHash: common.HexToHash("0x7777"),
		Index:  0,
	}}
	require.NoError(t, monitor.poll(context.Background()))

	pending, err = st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, ChainBSC, pending[0].FromChain)
	require.Equal(t, sender.Hex(), pending[0].FromAddress)
	require.Equal(t, recipient.Hex(), pending[0].ToAddress)
	require.Equal(t, "700", pending[0].ToAmount)
}
