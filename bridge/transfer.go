package bridge

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solrpc "github.com/gagliardetto/solana-go/rpc"

	"sheetchain/bridge/store"
)

const evmReleaseGasLimit = 200_000

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("bridge: invalid amount %q", raw)
	}
	return amount, nil
}

// evmSender holds the shared pieces of the two EVM-style executors.
type evmSender struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

func newEVMSender(ctx context.Context, rpcURL, relayerKey string) (*evmSender, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(relayerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	return &evmSender{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *evmSender) send(ctx context.Context, to common.Address, value *big.Int, gasPrice *big.Int, data []byte) error {
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      evmReleaseGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	return nil
}

// NewSheetCredit returns the executor that mints an inbound transfer on the
// sheet chain by sending a zero-gas-price value transfer from the relayer
// account to the recipient.
func NewSheetCredit(ctx context.Context, rpcURL, relayerKey string) (TransferFunc, error) {
	sender, err := newEVMSender(ctx, rpcURL, relayerKey)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, event store.BridgeEvent) error {
		if !common.IsHexAddress(event.ToAddress) {
			return fmt.Errorf("bridge: invalid sheet recipient %q", event.ToAddress)
		}
		amount, err := parseAmount(event.ToAmount)
		if err != nil {
			return err
		}
		return sender.send(ctx, common.HexToAddress(event.ToAddress), amount, big.NewInt(0), nil)
	}, nil
}

var releaseArgs = abi.Arguments{
	{Name: "recipient", Type: mustABIType("address")},
	{Name: "amount", Type: mustABIType("uint256")},
}

// releaseSelector is the first four bytes of keccak256("release(address,uint256)").
var releaseSelector = crypto.Keccak256([]byte("release(address,uint256)"))[:4]

// NewBSCRelease returns the executor that calls release(recipient, amount) on
// the lock contract to hand locked tokens back on the EVM side.
func NewBSCRelease(ctx context.Context, rpcURL, lockContract, relayerKey string) (TransferFunc, error) {
	sender, err := newEVMSender(ctx, rpcURL, relayerKey)
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(lockContract)
	return func(ctx context.Context, event store.BridgeEvent) error {
		if !common.IsHexAddress(event.ToAddress) {
			return fmt.Errorf("bridge: invalid release recipient %q", event.ToAddress)
		}
		amount, err := parseAmount(event.ToAmount)
		if err != nil {
			return err
		}
		packed, err := releaseArgs.Pack(common.HexToAddress(event.ToAddress), amount)
		if err != nil {
			return fmt.Errorf("pack release call: %w", err)
		}
		gasPrice, err := sender.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("suggest gas price: %w", err)
		}
		data := append(append([]byte{}, releaseSelector...), packed...)
		return sender.send(ctx, contract, big.NewInt(0), gasPrice, data)
	}, nil
}

// NewSolanaTransfer returns the executor that moves SPL tokens from the
// relayer's associated token account to the recipient's. The recipient's
// associated account must already exist.
func NewSolanaTransfer(rpcURL, relayerKey, tokenMint string) (TransferFunc, error) {
	client := solrpc.New(rpcURL)
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(relayerKey))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return nil, fmt.Errorf("parse token mint: %w", err)
	}
	owner := key.PublicKey()
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	return func(ctx context.Context, event store.BridgeEvent) error {
		recipient, err := solana.PublicKeyFromBase58(strings.TrimSpace(event.ToAddress))
		if err != nil {
			return fmt.Errorf("bridge: invalid solana recipient %q: %w", event.ToAddress, err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(event.ToAmount), 10, 64)
		if err != nil || amount == 0 {
			return fmt.Errorf("bridge: invalid amount %q", event.ToAmount)
		}
		destination, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
		if err != nil {
			return fmt.Errorf("derive destination token account: %w", err)
		}
		recent, err := client.GetLatestBlockhash(ctx, solrpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("fetch blockhash: %w", err)
		}
		instruction := token.NewTransferInstruction(amount, source, destination, owner, nil).Build()
		tx, err := solana.NewTransaction(
			[]solana.Instruction{instruction},
			recent.Value.Blockhash,
			solana.TransactionPayer(owner),
		)
		if err != nil {
			return fmt.Errorf("build transaction: %w", err)
		}
		if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
			if pub.Equals(owner) {
				return &key
			}
			return nil
		}); err != nil {
			return fmt.Errorf("sign transaction: %w", err)
		}
		if _, err := client.SendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("send transaction: %w", err)
		}
		return nil
	}, nil
}
