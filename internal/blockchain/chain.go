package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// EVMReader is the read-only slice of an Ethereum JSON-RPC client we use.
type EVMReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSender recovers the address that signed tx on chainID.
func TxSender(tx *types.Transaction, chainID int64) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(big.NewInt(chainID)), tx)
}

// Dialer opens an EVM client for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (EVMReader, error)

// DialEVM dials rpcURL with go-ethereum's ethclient.
func DialEVM(ctx context.Context, rpcURL string) (EVMReader, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

var (
	hederaAccountRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	hederaTxIDRe    = regexp.MustCompile(`^(\d+\.\d+\.\d+)@(\d+)\.(\d+)$`)
	evmTxHashRe     = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// ValidAddress checks an address against the network family's format.
func ValidAddress(family, address string) bool {
	switch family {
	case FamilyEVM:
		return common.IsHexAddress(address) && strings.HasPrefix(address, "0x")
	case FamilyHedera:
		return hederaAccountRe.MatchString(address)
	}
	return false
}

// NormalizeAddress returns the canonical form used for storage and comparison.
func NormalizeAddress(family, address string) string {
	address = strings.TrimSpace(address)
	if family == FamilyEVM && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// ValidTxHash checks a transaction identifier: a 32-byte hash for EVM chains,
// a shard.realm.num@seconds.nanos id for Hedera.
func ValidTxHash(family, hash string) bool {
	switch family {
	case FamilyEVM:
		return evmTxHashRe.MatchString(hash)
	case FamilyHedera:
		return hederaTxIDRe.MatchString(hash)
	}
	return false
}

// FormatUnits renders raw smallest-unit amounts with the given decimals.
func FormatUnits(raw *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(raw, -decimals).StringFixed(decimals)
}

// Mirror reads the Hedera mirror node REST API.
type Mirror struct {
	timeout time.Duration
}

// NewMirror builds a mirror-node client. A zero timeout means 10s.
func NewMirror(timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mirror{timeout: timeout}
}

func (m *Mirror) get(ctx context.Context, endpoint string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	a := fiber.Get(endpoint)
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	a.Timeout(m.timeout)
	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, errors.Join(errs...))
	}
	return status, body, nil
}

// Balance returns an account's balance in tinybar.
func (m *Mirror) Balance(ctx context.Context, baseURL, accountID string) (*big.Int, error) {
	status, body, err := m.get(ctx, baseURL+"/api/v1/balances?account.id="+url.QueryEscape(accountID))
	if err != nil {
		return nil, err
	}
	if status != fiber.StatusOK {
		return nil, fmt.Errorf("%w: mirror node returned %d", ErrUnavailable, status)
	}
	res := gjson.GetBytes(body, "balances.0.balance")
	if !res.Exists() {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(res.Raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected balance %q", ErrUnavailable, res.Raw)
	}
	return v, nil
}

// MirrorTx is what the mirror node reports about a transaction.
type MirrorTx struct {
	Status string
	// Payer is the account that paid for and signed the transaction.
	Payer string
}

// Transaction reports a Hedera transaction's outcome and payer. Transactions
// the mirror node has not seen yet are pending.
func (m *Mirror) Transaction(ctx context.Context, baseURL, txID string) (MirrorTx, error) {
	match := hederaTxIDRe.FindStringSubmatch(txID)
	if match == nil {
		return MirrorTx{}, ErrInvalidTxHash
	}
	mirrorID := fmt.Sprintf("%s-%s-%s", match[1], match[2], match[3])
	status, body, err := m.get(ctx, baseURL+"/api/v1/transactions/"+mirrorID)
	if err != nil {
		return MirrorTx{}, err
	}
	switch status {
	case fiber.StatusOK:
	case fiber.StatusNotFound:
		return MirrorTx{Status: TxPending}, nil
	default:
		return MirrorTx{}, fmt.Errorf("%w: mirror node returned %d", ErrUnavailable, status)
	}
	out := MirrorTx{Status: TxFailed}
	switch gjson.GetBytes(body, "transactions.0.result").String() {
	case "":
		return MirrorTx{Status: TxPending}, nil
	case "SUCCESS":
		out.Status = TxSuccess
	}
	// The mirror id is payer-seconds-nanos.
	if id := gjson.GetBytes(body, "transactions.0.transaction_id").String(); id != "" {
		out.Payer, _, _ = strings.Cut(id, "-")
	}
	return out, nil
}
