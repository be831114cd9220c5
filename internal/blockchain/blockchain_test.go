package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/siwe"
)

type profiles map[string]string

func (p profiles) LinkWallet(_ context.Context, userID, address string) error {
	p[userID] = address
	return nil
}

type fakeEVM struct {
	balance  *big.Int
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	dials    int
}

func (f *fakeEVM) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeEVM) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

// mine makes hash look like a successful transfer signed by key on chainID.
func (f *fakeEVM) mine(t *testing.T, hash string, key *ecdsa.PrivateKey, chainID, block int64) {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	signed, err := types.SignTx(types.NewTx(&types.LegacyTx{To: &to, Value: big.NewInt(1), Gas: 21_000, GasPrice: big.NewInt(1)}),
		types.LatestSignerForChainID(big.NewInt(chainID)), key)
	require.NoError(t, err)
	h := common.HexToHash(hash)
	f.txs[h] = signed
	f.receipts[h] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(block)}
}

func (f *fakeEVM) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

type env struct {
	svc      *Service
	verifier *siwe.Verifier
	profiles profiles
	evm      *fakeEVM
}

func newEnv(t *testing.T, mirrorURL string) *env {
	t.Helper()
	reg, err := LoadRegistry(Overrides{Mirror: map[string]string{"hedera-testnet": mirrorURL}})
	require.NoError(t, err)
	verifier := siwe.NewVerifier("kelo.app", siwe.NewMemoryNonceStore(time.Minute))
	evm := &fakeEVM{balance: big.NewInt(0), receipts: map[common.Hash]*types.Receipt{}, txs: map[common.Hash]*types.Transaction{}}
	dial := func(context.Context, string) (EVMReader, error) {
		evm.dials++
		return evm, nil
	}
	p := profiles{}
	svc := NewService(NewMemoryRepository(), reg, verifier, p, dial, NewMirror(0), logging.Discard())
	return &env{svc: svc, verifier: verifier, profiles: p, evm: evm}
}

func (e *env) signIn(t *testing.T, key *ecdsa.PrivateKey, chainID int64) (string, string) {
	t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := e.verifier.Nonce(context.Background(), addr.Hex())
	require.NoError(t, err)
	msg := siwe.Message{
		Domain:    "kelo.app",
		Address:   addr,
		Statement: "Connect wallet to Kelo",
		URI:       "https://kelo.app",
		Version:   "1",
		ChainID:   chainID,
		Nonce:     nonce,
		IssuedAt:  time.Now().UTC().Truncate(time.Second),
	}
	text := msg.String()
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return text, hexutil.Encode(sig)
}

func TestRegistry(t *testing.T) {
	reg, err := LoadRegistry(Overrides{RPC: map[string]string{"base": "https://base.example"}})
	require.NoError(t, err)
	require.Len(t, reg.List(""), 10)
	require.Len(t, reg.List(FamilyHedera), 3)
	base, err := reg.Get("Base")
	require.NoError(t, err)
	require.Equal(t, "https://base.example", base.RPCURL)
	require.Equal(t, int64(8453), base.ChainID)
	_, err = reg.Get("solana")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = parseRegistry([]byte("networks:\n  - name: x\n    family: cosmos\n"), Overrides{})
	require.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.Equal(t, "1.500000000000000000", FormatUnits(wei, 18))
	require.Equal(t, "0.00000250", FormatUnits(big.NewInt(250), 8))
}

func TestConnectEVMWallet(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	user := uuid.NewString()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, err = e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "hashpack", Network: "base", Address: addr})
	require.ErrorIs(t, err, ErrProviderNetwork)
	_, err = e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "metamask", Network: "base", Address: addr})
	require.ErrorIs(t, err, ErrSignatureRequired)

	text, sig := e.signIn(t, key, 1)
	_, err = e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "metamask", Network: "base", Address: addr, Message: text, Signature: sig})
	require.ErrorIs(t, err, ErrChainMismatch)

	other, _ := crypto.GenerateKey()
	text, sig = e.signIn(t, other, 8453)
	_, err = e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "metamask", Network: "base", Address: addr, Message: text, Signature: sig})
	require.ErrorIs(t, err, ErrAddressMismatch)

	text, sig = e.signIn(t, key, 8453)
	conn, err := e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "metamask", Network: "base", Address: addr, Message: text, Signature: sig})
	require.NoError(t, err)
	require.True(t, conn.IsPrimary)
	require.True(t, conn.Verified())
	require.Equal(t, addr, e.profiles[user])

	_, err = e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "metamask", Network: "base", Address: addr, Message: text, Signature: sig})
	require.ErrorIs(t, err, siwe.ErrInvalidNonce, "a nonce can only be used once")

	e.evm.balance, _ = new(big.Int).SetString("2000000000000000000", 10)
	bal, err := e.svc.Balance(ctx, user, conn.ID)
	require.NoError(t, err)
	require.Equal(t, "2.000000000000000000", bal.Balance)
	require.Equal(t, "ETH", bal.Currency)
	_, err = e.svc.Balance(ctx, user, conn.ID)
	require.NoError(t, err)
	require.Equal(t, 1, e.evm.dials)

	_, err = e.svc.Balance(ctx, uuid.NewString(), conn.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHederaWalletAndPrimarySwitch(t *testing.T) {
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/balances":
			require.Equal(t, "0.0.4242", r.URL.Query().Get("account.id"))
			fmt.Fprint(w, `{"timestamp":"1700000000.000000000","balances":[{"account":"0.0.4242","balance":123456789,"tokens":[]}]}`)
		case "/api/v1/transactions/0.0.4242-1700000000-000000001":
			fmt.Fprint(w, `{"transactions":[{"result":"SUCCESS","transaction_id":"0.0.4242-1700000000-000000001"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer mirror.Close()

	e := newEnv(t, mirror.URL)
	ctx := context.Background()
	user := uuid.NewString()

	_, err := e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "hashpack", Network: "hedera-testnet", Address: "0xabc"})
	require.ErrorIs(t, err, ErrInvalidAddress)

	first, err := e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "hashpack", Network: "hedera-testnet", Address: "0.0.4242"})
	require.NoError(t, err)
	require.False(t, first.Verified())
	second, err := e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "hashpack", Network: "hedera-testnet", Address: "0.0.5151"})
	require.NoError(t, err)
	require.False(t, second.IsPrimary)

	bal, err := e.svc.Balance(ctx, user, first.ID)
	require.NoError(t, err)
	require.Equal(t, "1.23456789", bal.Balance)
	require.Equal(t, "HBAR", bal.Currency)

	_, err = e.svc.SetPrimary(ctx, user, second.ID)
	require.NoError(t, err)
	require.Equal(t, "0.0.5151", e.profiles[user])

	require.NoError(t, e.svc.Disconnect(ctx, user, second.ID))
	require.Equal(t, "0.0.4242", e.profiles[user])
	conns, _ := e.svc.List(ctx, user)
	require.Len(t, conns, 1)
	require.True(t, conns[0].IsPrimary)

	require.NoError(t, e.svc.Disconnect(ctx, user, first.ID))
	require.Equal(t, "", e.profiles[user])

	tx, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "hedera-testnet", Hash: "0.0.4242@1700000000.000000001", Value: "1.5"})
	require.NoError(t, err)
	tx, err = e.svc.RefreshStatus(ctx, user, tx.ID)
	require.NoError(t, err)
	require.Equal(t, TxSuccess, tx.Status)
	require.Equal(t, "0.0.4242", tx.From)
	require.False(t, tx.SenderVerified, "hedera wallets are never signature-verified")

	pending, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "hedera-testnet", Hash: "0.0.4242@1700000001.000000002"})
	require.NoError(t, err)
	pending, err = e.svc.RefreshStatus(ctx, user, pending.ID)
	require.NoError(t, err)
	require.Equal(t, TxPending, pending.Status)
}

func TestEVMTransactionTracking(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	user := uuid.NewString()
	hash := "0x" + fmt.Sprintf("%064x", 7)

	_, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: "0x1234"})
	require.ErrorIs(t, err, ErrInvalidTxHash)
	_, err = e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: hash, Value: "-1"})
	require.ErrorIs(t, err, ErrInvalidValue)

	tx, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: hash, Value: "0.25"})
	require.NoError(t, err)
	_, err = e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: hash})
	require.ErrorIs(t, err, ErrTxTracked)

	tx, err = e.svc.RefreshStatus(ctx, user, tx.ID)
	require.NoError(t, err)
	require.Equal(t, TxPending, tx.Status)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	e.evm.mine(t, hash, key, 137, 99)
	tx, err = e.svc.RefreshStatus(ctx, user, tx.ID)
	require.NoError(t, err)
	require.Equal(t, TxSuccess, tx.Status)
	require.Equal(t, int64(99), *tx.BlockNumber)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), tx.From)

	items, total, err := e.svc.Transactions(ctx, user, httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, tx.ID, items[0].ID)

	_, err = e.svc.RefreshStatus(ctx, uuid.NewString(), tx.ID)
	require.True(t, errors.Is(err, ErrTxNotFound))
}

func TestOnlyVerifiedSendersCountAsActivity(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	user := uuid.NewString()

	mine, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(mine.PublicKey).Hex()
	text, sig := e.signIn(t, mine, 137)
	_, err = e.svc.Connect(ctx, ConnectInput{UserID: user, Provider: "metamask", Network: "polygon", Address: addr, Message: text, Signature: sig})
	require.NoError(t, err)

	// Someone else's transfer, claimed to be from the user's wallet.
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	foreignHash := "0x" + fmt.Sprintf("%064x", 11)
	e.evm.mine(t, foreignHash, stranger, 137, 10)
	foreign, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: foreignHash, From: addr})
	require.NoError(t, err)
	foreign, err = e.svc.RefreshStatus(ctx, user, foreign.ID)
	require.NoError(t, err)
	require.Equal(t, TxSuccess, foreign.Status)
	require.False(t, foreign.SenderVerified)
	require.Equal(t, crypto.PubkeyToAddress(stranger.PublicKey).Hex(), foreign.From)

	// Signed for another chain, so the sender does not recover on polygon.
	replayHash := "0x" + fmt.Sprintf("%064x", 12)
	e.evm.mine(t, replayHash, mine, 1, 11)
	replay, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: replayHash})
	require.NoError(t, err)
	replay, err = e.svc.RefreshStatus(ctx, user, replay.ID)
	require.NoError(t, err)
	require.False(t, replay.SenderVerified)
	require.Empty(t, replay.From)

	activity, err := e.svc.ChainActivity(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 1, activity.VerifiedWallets)
	require.Zero(t, activity.ConfirmedTransactions)

	ownHash := "0x" + fmt.Sprintf("%064x", 13)
	e.evm.mine(t, ownHash, mine, 137, 12)
	own, err := e.svc.Record(ctx, RecordInput{UserID: user, Network: "polygon", Hash: ownHash})
	require.NoError(t, err)
	own, err = e.svc.RefreshStatus(ctx, user, own.ID)
	require.NoError(t, err)
	require.True(t, own.SenderVerified)

	activity, err = e.svc.ChainActivity(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 1, activity.ConfirmedTransactions)
}
