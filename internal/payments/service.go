package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/keylock"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/metrics"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/wallet"
)

const walletPaymentKind = "wallet_payment"

// Service collects money from users over external rails or their wallet and
// pushes payouts out through the payout rail.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	wallets  *wallet.Service
	gateway  Gateway
	notifier notification.Notifier
	logger   *slog.Logger
	currency string
	locks    keylock.Map
}

// NewService constructs a payment service. A nil gateway approves everything.
func NewService(repo Repository, ledgerBackend ledger.Ledger, wallets *wallet.Service, gateway Gateway, notifier notification.Notifier, logger *slog.Logger, currency string) *Service {
	if gateway == nil {
		gateway = StaticGateway{}
	}
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		repo:     repo,
		ledger:   ledgerBackend,
		wallets:  wallets,
		gateway:  gateway,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
		currency: currency,
	}
}

// CollectInput describes money to collect from a user into a ledger account.
type CollectInput struct {
	UserID      string
	Method      string
	Purpose     string
	ReferenceID string
	// Destination is the ledger account credited with the collected amount.
	Destination string
	Amount      int64
	Details     Details
	ClientTxID  string
}

// Collect charges the payer and credits Destination. A repeated ClientTxID returns
// the original payment together with ledger.ErrDuplicateTransaction.
func (s *Service) Collect(ctx context.Context, in CollectInput) (Payment, error) {
	if in.Amount <= 0 {
		return Payment{}, ledger.ErrInvalidAmount
	}
	if !ValidMethod(in.Method) {
		return Payment{}, ErrInvalidMethod
	}
	if !validPurpose(in.Purpose) {
		return Payment{}, ErrInvalidPurpose
	}
	if in.Destination == "" {
		return Payment{}, fmt.Errorf("destination account is required")
	}
	if in.ClientTxID == "" {
		in.ClientTxID = uuid.NewString()
	}

	defer s.locks.Lock("collect:" + in.ClientTxID)()
	if existing, err := s.repo.FindByClientTxID(ctx, in.ClientTxID); err == nil {
		return existing, ledger.ErrDuplicateTransaction
	} else if !errors.Is(err, ErrNotFound) {
		return Payment{}, err
	}

	if err := validateDetails(in.Method, in.Details); err != nil {
		return Payment{}, err
	}

	payment := Payment{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Method:      in.Method,
		Purpose:     in.Purpose,
		ReferenceID: in.ReferenceID,
		Amount:      in.Amount,
		Currency:    s.currency,
		Status:      StatusCompleted,
		TxHash:      in.Details.TxHash,
		ClientTxID:  in.ClientTxID,
		CreatedAt:   time.Now().UTC(),
	}

	if in.Method == MethodWallet {
		w, err := s.wallets.GetByOwner(ctx, in.UserID)
		if err != nil {
			return Payment{}, err
		}
		if _, err := s.ledger.Transfer(ctx, w.AccountCode, in.Destination, walletPaymentKind, in.ClientTxID, in.Amount); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			metrics.Payment(in.Method, StatusFailed)
			return Payment{}, err
		}
		payment.ProviderReference = w.ID
	} else if posted, err := s.ledger.FindInflow(ctx, railFor(in.Method), in.Destination, in.ClientTxID); err == nil {
		// Charged and posted by an earlier attempt that failed to record the payment.
		payment.ProviderReference = posted.TransactionID
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return Payment{}, err
	} else {
		decision, err := s.gateway.Charge(ctx, ChargeRequest{Method: in.Method, Amount: in.Amount, Currency: s.currency, Details: in.Details})
		if err != nil {
			metrics.Payment(in.Method, StatusFailed)
			return Payment{}, fmt.Errorf("charge: %w", err)
		}
		if !decision.Approved {
			metrics.Payment(in.Method, StatusFailed)
			return Payment{}, fmt.Errorf("%w: %s", ErrDeclined, decision.Reason)
		}
		payment.ProviderReference = decision.Reference
		if _, err := s.ledger.Inflow(ctx, railFor(in.Method), in.Destination, in.ClientTxID, in.Amount); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			metrics.Payment(in.Method, StatusFailed)
			return Payment{}, err
		}
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, errDuplicateClientTx) {
			existing, ferr := s.repo.FindByClientTxID(ctx, in.ClientTxID)
			if ferr != nil {
				return Payment{}, ferr
			}
			return existing, ledger.ErrDuplicateTransaction
		}
		return Payment{}, err
	}

	metrics.Payment(in.Method, StatusCompleted)
	s.logger.Info("payment collected",
		slog.String("payment_id", payment.ID),
		slog.String("method", payment.Method),
		slog.String("purpose", payment.Purpose),
		slog.Int64("amount", payment.Amount),
	)
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		UserID: in.UserID,
		Kind:   notification.KindPayment,
		Title:  "Payment received",
		Body:   fmt.Sprintf("We received %s %s via %s.", s.currency, FormatAmount(in.Amount), in.Method),
	})
	return payment, nil
}

// TopUpInput funds the caller's wallet from an external method.
type TopUpInput struct {
	UserID     string
	Method     string
	Amount     int64
	Details    Details
	ClientTxID string
}

// TopUp collects into the user's wallet, creating the wallet on first use.
func (s *Service) TopUp(ctx context.Context, in TopUpInput) (Payment, error) {
	if in.Method == MethodWallet {
		return Payment{}, fmt.Errorf("%w: a wallet cannot top itself up", ErrInvalidMethod)
	}
	w, err := s.wallets.EnsureForOwner(ctx, in.UserID)
	if err != nil {
		return Payment{}, err
	}
	return s.Collect(ctx, CollectInput{
		UserID:      in.UserID,
		Method:      in.Method,
		Purpose:     PurposeWalletTopUp,
		ReferenceID: w.ID,
		Destination: w.AccountCode,
		Amount:      in.Amount,
		Details:     in.Details,
		ClientTxID:  in.ClientTxID,
	})
}

// DisburseInput pushes money out of a ledger account through the payout rail.
type DisburseInput struct {
	Source      string
	Amount      int64
	Destination string
	ClientTxID  string
}

// Disbursement is the outcome of a payout.
type Disbursement struct {
	TransactionID     string `json:"transaction_id"`
	ProviderReference string `json:"provider_reference"`
	SourceBalance     int64  `json:"source_balance"`
}

// Disburse checks the source balance, asks the gateway to pay out and records
// the outflow. A ClientTxID whose outflow is already posted returns that
// posting with ledger.ErrDuplicateTransaction and pays nothing.
func (s *Service) Disburse(ctx context.Context, in DisburseInput) (Disbursement, error) {
	if in.Amount <= 0 {
		return Disbursement{}, ledger.ErrInvalidAmount
	}
	if in.ClientTxID == "" {
		in.ClientTxID = uuid.NewString()
	}
	defer s.locks.Lock("disburse:" + in.ClientTxID)()
	if posted, err := s.ledger.FindOutflow(ctx, ledger.RailPayout, in.Source, in.ClientTxID); err == nil {
		return Disbursement{TransactionID: posted.TransactionID, SourceBalance: posted.AccountBalance}, ledger.ErrDuplicateTransaction
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return Disbursement{}, err
	}
	balance, err := s.ledger.Balance(ctx, in.Source)
	if err != nil {
		return Disbursement{}, err
	}
	if balance < in.Amount {
		return Disbursement{}, ledger.ErrInsufficientFunds
	}
	decision, err := s.gateway.Payout(ctx, PayoutRequest{Amount: in.Amount, Currency: s.currency, Destination: in.Destination})
	if err != nil {
		return Disbursement{}, fmt.Errorf("payout: %w", err)
	}
	if !decision.Approved {
		return Disbursement{}, fmt.Errorf("%w: %s", ErrDeclined, decision.Reason)
	}
	res, err := s.ledger.Outflow(ctx, ledger.RailPayout, in.Source, in.ClientTxID, in.Amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Disbursement{}, err
	}
	return Disbursement{TransactionID: res.TransactionID, ProviderReference: decision.Reference, SourceBalance: res.AccountBalance}, err
}

// FindByClientTxID returns the payment recorded under a client transaction id.
func (s *Service) FindByClientTxID(ctx context.Context, clientTxID string) (Payment, error) {
	return s.repo.FindByClientTxID(ctx, clientTxID)
}

// List pages through a user's payments, newest first.
func (s *Service) List(ctx context.Context, userID string, p httpx.Page) ([]Payment, int, error) {
	return s.repo.ListByUser(ctx, userID, p)
}

// Recent returns up to limit of the user's latest payments.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]Payment, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	items, _, err := s.repo.ListByUser(ctx, userID, httpx.NewPage(1, limit))
	return items, err
}

// FormatAmount renders minor units as a decimal string with two places.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
