// Package rpc exposes the JSON-RPC façade over the sheet-backed ledger. It
// answers the standard chain-query methods, routes submitted transactions to
// the claim, bridge-out, or plain transfer paths, and simulates the airdrop
// contract for eth_call.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"sheetchain/core/claims"
	"sheetchain/core/ledger"
	"sheetchain/observability"
	"sheetchain/sheet"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	// codeServerError carries request-scoped business rejections (insufficient
	// balance, claim rules, unsupported signing) as distinct from -32603
	// internal faults.
	codeServerError    = -32000
)

// ServerConfig carries the network identity and routing constants the
// dispatcher needs.
type ServerConfig struct {
	ChainID       *big.Int
	NetworkName   string
	ClientVersion string
	ClaimAmount   *big.Int
	BridgeAddress string
}

// Server is the JSON-RPC dispatcher. One instance serves a single POST
// endpoint and fans out on the method name.
type Server struct {
	cfg       ServerConfig
	ledger    *ledger.Ledger
	processor *ledger.Processor
	claims    *claims.Service
	sim       *ContractSim
	client    sheet.Client
	log       *slog.Logger
	now       func() time.Time
}

// NewServer wires the dispatcher over the core services.
func NewServer(cfg ServerConfig, l *ledger.Ledger, proc *ledger.Processor, claimSvc *claims.Service, sim *ContractSim, client sheet.Client) *Server {
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "SheetChain/1.0.0"
	}
	return &Server{
		cfg:       cfg,
		ledger:    l,
		processor: proc,
		claims:    claimSvc,
		sim:       sim,
		client:    client,
		log:       slog.Default().With("component", "rpc"),
		now:       time.Now,
	}
}

// Start serves the RPC endpoint on addr and blocks until the listener fails
// or ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.Handle)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("json-rpc server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// Handle is the single-endpoint request handler.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	s.dispatch(w, r, req)
}

// writeOK and writeErr wrap the response helpers with per-method metrics.
func (s *Server) writeOK(w http.ResponseWriter, req *RPCRequest, result interface{}) {
	observability.RPCRequests().WithLabelValues(req.Method, "ok").Inc()
	writeResult(w, req.ID, result)
}

func (s *Server) writeErr(w http.ResponseWriter, req *RPCRequest, code int, message string, data interface{}) {
	observability.RPCRequests().WithLabelValues(req.Method, "error").Inc()
	writeError(w, http.StatusOK, req.ID, code, message, data)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "eth_chainId":
		s.writeOK(w, req, hexBig(s.cfg.ChainID))
	case "net_version":
		s.writeOK(w, req, s.cfg.ChainID.String())
	case "eth_getBalance":
		s.handleGetBalance(w, r, req)
	case "eth_getTransactionCount":
		s.handleGetTransactionCount(w, r, req)
	case "eth_sendRawTransaction":
		s.handleSendRawTransaction(w, r, req)
	case "eth_sendTransaction":
		s.handleSendTransaction(w, r, req)
	case "eth_getTransactionByHash":
		s.handleGetTransactionByHash(w, r, req)
	case "eth_getTransactionReceipt":
		s.handleGetTransactionReceipt(w, r, req)
	case "eth_blockNumber":
		s.handleBlockNumber(w, r, req)
	case "eth_gasPrice":
		s.writeOK(w, req, "0x0")
	case "eth_estimateGas":
		s.writeOK(w, req, "0x5208")
	case "eth_call":
		s.handleCall(w, r, req)
	case "eth_getLogs":
		s.writeOK(w, req, []interface{}{})
	case "eth_getCode":
		s.writeOK(w, req, "0x")
	case "eth_getStorageAt":
		s.writeOK(w, req, "0x")
	case "eth_accounts":
		s.writeOK(w, req, []interface{}{})
	case "eth_getBlockByNumber":
		s.handleGetBlockByNumber(w, r, req)
	case "eth_getBlockByHash":
		s.handleGetBlockByHash(w, r, req)
	case "web3_clientVersion":
		s.writeOK(w, req, s.cfg.ClientVersion)
	case "net_listening":
		s.writeOK(w, req, true)
	case "net_peerCount":
		s.writeOK(w, req, "0x0")
	case "eth_sign", "personal_sign":
		s.writeErr(w, req, codeServerError, "signing not supported", nil)
	default:
		s.writeErr(w, req, codeMethodNotFound, fmt.Sprintf("method %s not supported", req.Method), nil)
	}
}
