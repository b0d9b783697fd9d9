package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sheetchain/core/claims"
	"sheetchain/core/ledger"
	"sheetchain/sheet"
)

const (
	testAddrFunded = "0x1111111111111111111111111111111111111111"
	testAddrEmpty  = "0x2222222222222222222222222222222222222222"
	testBridgeAddr = "0x00000000000000000000000000000000000000b2"
)

func newTestServer(t *testing.T) (*Server, *sheet.Memory) {
	t.Helper()
	client := sheet.NewMemory()
	client.Seed(sheet.TabBalances,
		[]string{"Address", "Balance", "Nonce"},
		[]string{testAddrFunded, "1000000", "0"},
	)
	client.Seed(sheet.TabTransactions,
		[]string{"Timestamp", "TxHash", "From", "To", "Value", "Nonce", "Status", "BlockNumber", "GasUsed"},
	)
	client.Seed(sheet.TabClaims,
		[]string{"ClaimID", "Address", "Amount", "Timestamp", "Status", "TxHash", "BlockNumber"},
	)
	accounts := ledger.New(client)
	processor := ledger.NewProcessor(accounts, client)
	claimSvc := claims.New(client, accounts, processor, 1000)
	amount := big.NewInt(500)
	server := NewServer(ServerConfig{
		ChainID:       big.NewInt(12345),
		NetworkName:   "SheetChain",
		ClaimAmount:   amount,
		BridgeAddress: testBridgeAddr,
	}, accounts, processor, claimSvc, NewContractSim(claimSvc, amount), client)
	server.now = func() time.Time { return time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC) }
	return server, client
}

func call(t *testing.T, server *Server, body string) RPCResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	server.Handle(rec, req)
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func callMethod(t *testing.T, server *Server, method string, params ...any) RPCResponse {
	t.Helper()
	encoded, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return call(t, server, string(encoded))
}

func TestParseError(t *testing.T) {
	server, _ := newTestServer(t)
	resp := call(t, server, "{not json")
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestMissingMethod(t *testing.T) {
	server, _ := newTestServer(t)
	resp := call(t, server, `{"jsonrpc":"2.0","id":1}`)
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_subscribe")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestChainIdentity(t *testing.T) {
	server, _ := newTestServer(t)
	if resp := callMethod(t, server, "eth_chainId"); resp.Result != "0x3039" {
		t.Fatalf("expected 0x3039, got %v", resp.Result)
	}
	if resp := callMethod(t, server, "net_version"); resp.Result != "12345" {
		t.Fatalf("expected 12345, got %v", resp.Result)
	}
	if resp := callMethod(t, server, "eth_gasPrice"); resp.Result != "0x0" {
		t.Fatalf("expected 0x0 gas price, got %v", resp.Result)
	}
	if resp := callMethod(t, server, "eth_estimateGas"); resp.Result != "0x5208" {
		t.Fatalf("expected 0x5208, got %v", resp.Result)
	}
}

func TestGetBalance(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_getBalance", testAddrFunded, "latest")
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "0xf4240" {
		t.Fatalf("expected hex balance 0xf4240, got %v", resp.Result)
	}
	resp = callMethod(t, server, "eth_getBalance", testAddrEmpty, "latest")
	if resp.Result != "0x0" {
		t.Fatalf("expected zero balance, got %v", resp.Result)
	}
}

func TestSendTransactionAndLookup(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_sendTransaction", map[string]any{
		"from":  testAddrFunded,
		"to":    testAddrEmpty,
		"value": "0x64",
	})
	if resp.Error != nil {
		t.Fatalf("send failed: %+v", resp.Error)
	}
	hash, ok := resp.Result.(string)
	if !ok || hash == "" {
		t.Fatalf("expected tx hash, got %v", resp.Result)
	}

	resp = callMethod(t, server, "eth_getBalance", testAddrEmpty, "latest")
	if resp.Result != "0x64" {
		t.Fatalf("expected credited balance 0x64, got %v", resp.Result)
	}
	resp = callMethod(t, server, "eth_getTransactionCount", testAddrFunded, "latest")
	if resp.Result != "0x1" {
		t.Fatalf("expected nonce 0x1, got %v", resp.Result)
	}
	resp = callMethod(t, server, "eth_blockNumber")
	if resp.Result != "0x1" {
		t.Fatalf("expected block 0x1, got %v", resp.Result)
	}

	resp = callMethod(t, server, "eth_getTransactionByHash", hash)
	tx, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected tx object, got %v", resp.Result)
	}
	if tx["status"] != "0x1" {
		t.Fatalf("expected success status, got %v", tx["status"])
	}

	resp = callMethod(t, server, "eth_getTransactionReceipt", hash)
	receipt, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected receipt object, got %v", resp.Result)
	}
	if receipt["transactionHash"] != hash {
		t.Fatalf("receipt hash mismatch: %v", receipt["transactionHash"])
	}
}

func TestSendTransactionInsufficient(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_sendTransaction", map[string]any{
		"from":  testAddrEmpty,
		"to":    testAddrFunded,
		"value": "0x64",
	})
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("expected server error for insufficient balance, got %+v", resp.Error)
	}
}

func TestUnknownTransactionIsNull(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_getTransactionByHash", "0xabc")
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != nil {
		t.Fatalf("expected null result, got %v", resp.Result)
	}
}

func claimCallData() string {
	return fmt.Sprintf("0x%x", selectorClaim[:])
}

func TestClaimViaSendTransaction(t *testing.T) {
	server, _ := newTestServer(t)

	resp := callMethod(t, server, "eth_sendTransaction", map[string]any{
		"from": testAddrEmpty,
		"to":   AirdropContractAddress,
		"data": claimCallData(),
	})
	if resp.Error != nil {
		t.Fatalf("claim failed: %+v", resp.Error)
	}
	hash, ok := resp.Result.(string)
	if !ok || hash == "" {
		t.Fatalf("expected claim tx hash, got %v", resp.Result)
	}

	// The fixed airdrop amount lands on the claimant.
	resp = callMethod(t, server, "eth_getBalance", testAddrEmpty, "latest")
	if resp.Result != "0x1f4" {
		t.Fatalf("expected airdrop amount 0x1f4, got %v", resp.Result)
	}

	// The payout is recorded as a transaction from the airdrop contract and
	// consumes a block number.
	resp = callMethod(t, server, "eth_getTransactionByHash", hash)
	payout, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected payout tx object, got %v", resp.Result)
	}
	if payout["from"] != AirdropContractAddress {
		t.Fatalf("expected payout from airdrop contract, got %v", payout["from"])
	}
	if payout["blockNumber"] != "0x1" {
		t.Fatalf("expected payout block 0x1, got %v", payout["blockNumber"])
	}
	resp = callMethod(t, server, "eth_blockNumber")
	if resp.Result != "0x1" {
		t.Fatalf("expected chain height 0x1 after payout, got %v", resp.Result)
	}

	// The next transfer lands on a fresh block.
	resp = callMethod(t, server, "eth_sendTransaction", map[string]any{
		"from":  testAddrFunded,
		"to":    testAddrEmpty,
		"value": "0x1",
	})
	if resp.Error != nil {
		t.Fatalf("transfer after claim failed: %+v", resp.Error)
	}
	resp = callMethod(t, server, "eth_getTransactionByHash", resp.Result.(string))
	transfer, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected transfer tx object, got %v", resp.Result)
	}
	if transfer["blockNumber"] != "0x2" {
		t.Fatalf("expected transfer block 0x2, got %v", transfer["blockNumber"])
	}

	// A second claim from the same address is rejected.
	resp = callMethod(t, server, "eth_sendTransaction", map[string]any{
		"from": testAddrEmpty,
		"to":   AirdropContractAddress,
		"data": claimCallData(),
	})
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("expected already-claimed rejection, got %+v", resp.Error)
	}
}

func TestCallUnknownSelector(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_call", map[string]any{
		"to":   AirdropContractAddress,
		"data": "0xdeadbeef",
	}, "latest")
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "0x" {
		t.Fatalf("expected empty result, got %v", resp.Result)
	}
}

func TestSyntheticBlock(t *testing.T) {
	server, _ := newTestServer(t)
	resp := callMethod(t, server, "eth_getBlockByNumber", "latest", false)
	block, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected block object, got %v", resp.Result)
	}
	if block["number"] != "0x0" {
		t.Fatalf("expected block 0x0 on empty chain, got %v", block["number"])
	}
	if block["hash"] == "" {
		t.Fatal("expected a derived block hash")
	}
}
