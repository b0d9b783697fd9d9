package rpc

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"sheetchain/core/claims"
)

// AirdropContractAddress is the fixed address the claim contract is simulated
// at. There is no deployed bytecode behind it; calls dispatch on the selector.
const AirdropContractAddress = "0x0000000000000000000000000000000000000001"

// selector is the first four bytes of a call payload.
type selector [4]byte

var (
	selectorTotalClaimants       = selector{0x3f, 0x13, 0x68, 0xde}
	selectorTotalClaimantsLegacy = selector{0x87, 0x76, 0x45, 0x71}
	selectorHasClaimed           = selector{0x70, 0xa0, 0x82, 0x31}
	selectorAirdropAmount        = selector{0x18, 0x16, 0x0d, 0xdd}
	selectorMaxClaimants         = selector{0x06, 0xfd, 0xde, 0x03}
	selectorClaim                = selector{0x75, 0x06, 0x6b, 0xe0}

	// selectorBridgeOut is the first four bytes of
	// keccak256("bridgeOut(uint256,string)").
	selectorBridgeOut = func() selector {
		var sel selector
		copy(sel[:], crypto.Keccak256([]byte("bridgeOut(uint256,string)"))[:4])
		return sel
	}()
)

func selectorOf(data []byte) (selector, bool) {
	if len(data) < 4 {
		return selector{}, false
	}
	var sel selector
	copy(sel[:], data[:4])
	return sel, true
}

// ContractSim answers read-only eth_call requests against the simulated
// airdrop contract.
type ContractSim struct {
	claims *claims.Service
	amount *big.Int
}

// NewContractSim wires the simulation over the claim service. amount is the
// fixed per-claim payout reported by the AIRDROP_AMOUNT view.
func NewContractSim(service *claims.Service, amount *big.Int) *ContractSim {
	return &ContractSim{claims: service, amount: amount}
}

// word encodes a value as a single 32-byte ABI word.
func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func boolWord(v bool) []byte {
	if v {
		return word(big.NewInt(1))
	}
	return word(big.NewInt(0))
}

// Call evaluates a simulated contract call. Unknown contracts and selectors
// return an empty result rather than an error, matching a node evaluating a
// call against an address without code.
func (c *ContractSim) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	if !strings.EqualFold(to, AirdropContractAddress) {
		return nil, nil
	}
	sel, ok := selectorOf(data)
	if !ok {
		return nil, nil
	}
	switch sel {
	case selectorTotalClaimants, selectorTotalClaimantsLegacy:
		count, err := c.claims.CompletedCount(ctx)
		if err != nil {
			return nil, err
		}
		return word(big.NewInt(int64(count))), nil
	case selectorHasClaimed:
		// The address argument is the low 20 bytes of the first word.
		if len(data) < 36 {
			return boolWord(false), nil
		}
		addr := common.BytesToAddress(data[16:36]).Hex()
		claimed, err := c.claims.HasCompleted(ctx, addr)
		if err != nil {
			return nil, err
		}
		return boolWord(claimed), nil
	case selectorAirdropAmount:
		return word(c.amount), nil
	case selectorMaxClaimants:
		return word(big.NewInt(int64(c.claims.MaxClaimants()))), nil
	case selectorClaim:
		return boolWord(true), nil
	default:
		return nil, nil
	}
}

// isClaimCall reports whether the payload carries the claim selector.
func isClaimCall(data []byte) bool {
	sel, ok := selectorOf(data)
	return ok && sel == selectorClaim
}
