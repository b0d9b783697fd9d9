package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidHex is returned for malformed hex quantities and byte strings.
var ErrInvalidHex = errors.New("rpc: invalid hex value")

// hexUint64 renders a quantity as 0x-prefixed hex without leading zeros.
func hexUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// hexBig renders a big integer as 0x-prefixed hex. Nil renders as zero.
func hexBig(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// parseHexBig decodes a 0x-prefixed quantity. Empty input yields nil.
func parseHexBig(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return nil, fmt.Errorf("%w: missing 0x prefix in %q", ErrInvalidHex, raw)
	}
	digits := trimmed[2:]
	if digits == "" {
		return nil, fmt.Errorf("%w: empty quantity", ErrInvalidHex)
	}
	value, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, raw)
	}
	return value, nil
}

// parseHexBytes decodes a 0x-prefixed byte string. Empty and "0x" yield nil.
func parseHexBytes(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return nil, fmt.Errorf("%w: missing 0x prefix in %q", ErrInvalidHex, raw)
	}
	decoded, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, raw)
	}
	return decoded, nil
}

// txObjectParams is the eth_sendTransaction / eth_call object form.
type txObjectParams struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Data     string `json:"data"`
	Input    string `json:"input"`
	Nonce    string `json:"nonce"`
}

// data returns the call payload, preferring the data field over input.
func (p txObjectParams) data() ([]byte, error) {
	if strings.TrimSpace(p.Data) != "" && p.Data != "0x" {
		return parseHexBytes(p.Data)
	}
	return parseHexBytes(p.Input)
}
