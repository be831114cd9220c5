package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/siwe"
)

// Signatures verifies signed sign-in messages and burns their nonce.
type Signatures interface {
	Verify(ctx context.Context, text, signature string) (siwe.Message, error)
}

// Profiles records the user's primary wallet address.
type Profiles interface {
	LinkWallet(ctx context.Context, userID, address string) error
}

// Service manages wallet connections and tracked transactions.
type Service struct {
	repo     Repository
	networks *Registry
	verifier Signatures
	profiles Profiles
	dial     Dialer
	mirror   *Mirror
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]EVMReader
}

// NewService builds the wallet service. A nil dial uses ethclient and a nil
// mirror uses a mirror client with the default timeout.
func NewService(repo Repository, networks *Registry, verifier Signatures, profiles Profiles, dial Dialer, mirror *Mirror, logger *slog.Logger) *Service {
	if dial == nil {
		dial = DialEVM
	}
	if mirror == nil {
		mirror = NewMirror(0)
	}
	return &Service{
		repo:     repo,
		networks: networks,
		verifier: verifier,
		profiles: profiles,
		dial:     dial,
		mirror:   mirror,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
		clients:  make(map[string]EVMReader),
	}
}

// Networks lists supported networks.
func (s *Service) Networks(family string) []Network {
	return s.networks.List(family)
}

func (s *Service) client(ctx context.Context, n Network) (EVMReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[n.Name]; ok {
		return c, nil
	}
	c, err := s.dial(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, n.Name, err)
	}
	s.clients[n.Name] = c
	return c, nil
}

// ConnectInput links a wallet. EVM wallets prove ownership with a signed
// sign-in message carrying a nonce issued for the address.
type ConnectInput struct {
	UserID    string
	Provider  string
	Network   string
	Address   string
	Message   string
	Signature string
}

// Connect verifies and stores a wallet connection. The user's first wallet
// becomes primary and is recorded on their profile.
func (s *Service) Connect(ctx context.Context, in ConnectInput) (Connection, error) {
	family, ok := Providers[in.Provider]
	if !ok {
		return Connection{}, ErrUnknownProvider
	}
	n, err := s.networks.Get(in.Network)
	if err != nil {
		return Connection{}, err
	}
	if n.Family != family {
		return Connection{}, ErrProviderNetwork
	}
	if !ValidAddress(family, in.Address) {
		return Connection{}, ErrInvalidAddress
	}
	address := NormalizeAddress(family, in.Address)

	now := s.now().UTC()
	var verifiedAt *time.Time
	if family == FamilyEVM {
		if in.Message == "" || in.Signature == "" {
			return Connection{}, ErrSignatureRequired
		}
		msg, err := s.verifier.Verify(ctx, in.Message, in.Signature)
		if err != nil {
			return Connection{}, err
		}
		if msg.Address != common.HexToAddress(address) {
			return Connection{}, ErrAddressMismatch
		}
		if msg.ChainID != 0 && msg.ChainID != n.ChainID {
			return Connection{}, ErrChainMismatch
		}
		verifiedAt = &now
	}

	existing, err := s.repo.ListConnections(ctx, in.UserID)
	if err != nil {
		return Connection{}, err
	}
	conn := Connection{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		Provider:   in.Provider,
		Network:    n.Name,
		ChainID:    n.ChainID,
		Address:    address,
		IsPrimary:  len(existing) == 0,
		VerifiedAt: verifiedAt,
		CreatedAt:  now,
	}
	if err := s.repo.CreateConnection(ctx, conn); err != nil {
		return Connection{}, err
	}
	if conn.IsPrimary {
		if err := s.profiles.LinkWallet(ctx, in.UserID, address); err != nil {
			if derr := s.repo.DeleteConnection(ctx, conn.ID); derr != nil {
				s.logger.Error("roll back wallet connection", slog.String("connection_id", conn.ID), slog.Any("error", derr))
			}
			return Connection{}, err
		}
	}
	s.logger.Info("wallet connected",
		slog.String("user_id", in.UserID),
		slog.String("network", n.Name),
		slog.Bool("verified", conn.Verified()),
	)
	return conn, nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (Connection, error) {
	c, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return Connection{}, err
	}
	if c.UserID != userID {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

// List returns the user's wallets, primary first.
func (s *Service) List(ctx context.Context, userID string) ([]Connection, error) {
	return s.repo.ListConnections(ctx, userID)
}

// Disconnect removes a wallet. When it was primary the most recent remaining
// wallet is promoted.
func (s *Service) Disconnect(ctx context.Context, userID, id string) error {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteConnection(ctx, id); err != nil {
		return err
	}
	if !c.IsPrimary {
		return nil
	}
	rest, err := s.repo.ListConnections(ctx, userID)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return s.profiles.LinkWallet(ctx, userID, "")
	}
	if err := s.repo.SetPrimary(ctx, userID, rest[0].ID); err != nil {
		return err
	}
	return s.profiles.LinkWallet(ctx, userID, rest[0].Address)
}

// SetPrimary makes a wallet the user's primary one.
func (s *Service) SetPrimary(ctx context.Context, userID, id string) (Connection, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return Connection{}, err
	}
	if err := s.repo.SetPrimary(ctx, userID, id); err != nil {
		return Connection{}, err
	}
	if err := s.profiles.LinkWallet(ctx, userID, c.Address); err != nil {
		return Connection{}, err
	}
	c.IsPrimary = true
	return c, nil
}

// Balance reads a wallet's native balance from its network.
func (s *Service) Balance(ctx context.Context, userID, id string) (Balance, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return Balance{}, err
	}
	n, err := s.networks.Get(c.Network)
	if err != nil {
		return Balance{}, err
	}
	var raw *big.Int
	switch n.Family {
	case FamilyEVM:
		client, err := s.client(ctx, n)
		if err != nil {
			return Balance{}, err
		}
		if raw, err = client.BalanceAt(ctx, common.HexToAddress(c.Address), nil); err != nil {
			return Balance{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	case FamilyHedera:
		if raw, err = s.mirror.Balance(ctx, n.MirrorURL, c.Address); err != nil {
			return Balance{}, err
		}
	}
	return Balance{
		Network:  n.Name,
		Address:  c.Address,
		Currency: n.Currency,
		Raw:      raw.String(),
		Balance:  FormatUnits(raw, n.Decimals),
	}, nil
}

// RecordInput is a transaction submitted from the user's wallet.
type RecordInput struct {
	UserID  string
	Network string
	Hash    string
	From    string
	To      string
	Value   string
}

// Record starts tracking a transaction as pending.
func (s *Service) Record(ctx context.Context, in RecordInput) (Transaction, error) {
	n, err := s.networks.Get(in.Network)
	if err != nil {
		return Transaction{}, err
	}
	if !ValidTxHash(n.Family, in.Hash) {
		return Transaction{}, ErrInvalidTxHash
	}
	for _, addr := range []string{in.From, in.To} {
		if addr != "" && !ValidAddress(n.Family, addr) {
			return Transaction{}, ErrInvalidAddress
		}
	}
	value := "0"
	if in.Value != "" {
		d, err := decimal.NewFromString(in.Value)
		if err != nil || d.IsNegative() {
			return Transaction{}, ErrInvalidValue
		}
		value = d.String()
	}
	now := s.now().UTC()
	tx := Transaction{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Network:   n.Name,
		Hash:      in.Hash,
		From:      NormalizeAddress(n.Family, in.From),
		To:        NormalizeAddress(n.Family, in.To),
		Value:     value,
		Status:    TxPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Transactions pages the user's tracked transactions.
func (s *Service) Transactions(ctx context.Context, userID string, p httpx.Page) ([]Transaction, int, error) {
	return s.repo.ListTransactions(ctx, userID, p)
}

// RefreshStatus looks up a pending transaction on its network and stores the
// outcome together with the sender the chain reports. The client-supplied From
// is discarded.
func (s *Service) RefreshStatus(ctx context.Context, userID, id string) (Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.UserID != userID {
		return Transaction{}, ErrTxNotFound
	}
	if tx.Status != TxPending {
		return tx, nil
	}
	n, err := s.networks.Get(tx.Network)
	if err != nil {
		return Transaction{}, err
	}

	status, sender := TxPending, ""
	var block *int64
	switch n.Family {
	case FamilyEVM:
		client, err := s.client(ctx, n)
		if err != nil {
			return Transaction{}, err
		}
		hash := common.HexToHash(tx.Hash)
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			return tx, nil
		case err != nil:
			return Transaction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		signed, _, err := client.TransactionByHash(ctx, hash)
		if err != nil {
			return Transaction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// A transaction signed for another chain has no sender here.
		if from, err := TxSender(signed, n.ChainID); err == nil {
			sender = from.Hex()
		}
		status = TxFailed
		if receipt.Status == types.ReceiptStatusSuccessful {
			status = TxSuccess
		}
		if receipt.BlockNumber != nil {
			b := receipt.BlockNumber.Int64()
			block = &b
		}
	case FamilyHedera:
		res, err := s.mirror.Transaction(ctx, n.MirrorURL, tx.Hash)
		if err != nil {
			return Transaction{}, err
		}
		status, sender = res.Status, res.Payer
	}
	if status == TxPending {
		return tx, nil
	}
	verified, err := s.verifiedSender(ctx, userID, n, sender)
	if err != nil {
		return Transaction{}, err
	}

	tx.Status = status
	tx.BlockNumber = block
	tx.From = sender
	tx.SenderVerified = verified
	tx.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	if !verified {
		s.logger.Warn("tracked transaction not sent from a verified wallet",
			slog.String("user_id", userID),
			slog.String("transaction_id", tx.ID),
			slog.String("network", n.Name),
		)
	}
	return tx, nil
}

// verifiedSender reports whether sender is one of the user's signature-verified
// wallets on network n.
func (s *Service) verifiedSender(ctx context.Context, userID string, n Network, sender string) (bool, error) {
	if sender == "" {
		return false, nil
	}
	conns, err := s.repo.ListConnections(ctx, userID)
	if err != nil {
		return false, err
	}
	sender = NormalizeAddress(n.Family, sender)
	for _, c := range conns {
		if c.Verified() && c.Network == n.Name && NormalizeAddress(n.Family, c.Address) == sender {
			return true, nil
		}
	}
	return false, nil
}

// ChainActivity summarises verified wallets and confirmed transactions sent
// from them, for scoring.
func (s *Service) ChainActivity(ctx context.Context, userID string) (creditscore.ChainActivity, error) {
	conns, err := s.repo.ListConnections(ctx, userID)
	if err != nil {
		return creditscore.ChainActivity{}, err
	}
	var out creditscore.ChainActivity
	for _, c := range conns {
		if c.Verified() {
			out.VerifiedWallets++
		}
	}
	if out.ConfirmedTransactions, err = s.repo.CountConfirmed(ctx, userID); err != nil {
		return creditscore.ChainActivity{}, err
	}
	return out, nil
}
