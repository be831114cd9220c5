package loans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/keylock"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/metrics"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/payments"
)

const (
	kindDisbursement = "loan_disbursement"
	kindLoanFee      = "loan_fee"
	roleAdmin        = "admin"
)

// CreditChecker reports how much credit a borrower can still draw.
type CreditChecker interface {
	Eligibility(ctx context.Context, userID string) (creditscore.Eligibility, error)
}

// StoreInfo is what loans needs to know about a store.
type StoreInfo struct {
	ID      string
	OwnerID string
	FeeBps  int
	Active  bool
}

// StoreDirectory looks up stores for financing and merchant views.
type StoreDirectory interface {
	StoreInfo(ctx context.Context, storeID string) (StoreInfo, error)
	StoresOwnedBy(ctx context.Context, ownerID string) ([]string, error)
}

// OrderHook links loans to checkout orders. Financeable must fail unless the
// order belongs to userID at storeID, awaits financing and totals amount.
type OrderHook interface {
	Financeable(ctx context.Context, orderID, userID, storeID string, amount int64) error
	LoanApproved(ctx context.Context, orderID, loanID string) error
	LoanRejected(ctx context.Context, orderID, loanID string) error
}

// Collector takes payments from borrowers.
type Collector interface {
	Collect(ctx context.Context, in payments.CollectInput) (payments.Payment, error)
	FindByClientTxID(ctx context.Context, clientTxID string) (payments.Payment, error)
}

// Config holds lending limits.
type Config struct {
	MinAmount        int64
	MaxAmount        int64
	InterestBps      int
	DefaultAfterDays int
	Currency         string
}

// Actor is the user deciding on a loan.
type Actor struct {
	UserID string
	Role   string
}

// Service runs the loan lifecycle.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	payments Collector
	credit   CreditChecker
	stores   StoreDirectory
	orders   OrderHook
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	locks keylock.Map
}

// NewService builds the loan service.
func NewService(repo Repository, l ledger.Ledger, collector Collector, credit CreditChecker, stores StoreDirectory, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		repo:     repo,
		ledger:   l,
		payments: collector,
		credit:   credit,
		stores:   stores,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetOrderHook attaches the checkout callbacks. Orders depend on loans, so the
// hook is wired after both services exist.
func (s *Service) SetOrderHook(h OrderHook) { s.orders = h }

func (s *Service) lock(loanID string) func() {
	return s.locks.Lock("loan:" + loanID)
}

// ApplyInput is a loan application.
type ApplyInput struct {
	UserID     string
	StoreID    string
	OrderID    string
	Amount     int64
	TermMonths int
	Purpose    string
}

// Apply validates an application against lending limits and the borrower's
// credit, then records it as pending.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (Loan, error) {
	// One application per borrower at a time, so concurrent applications
	// cannot each see the same available credit.
	defer s.locks.Lock("user:" + in.UserID)()

	if in.Amount < s.cfg.MinAmount || in.Amount > s.cfg.MaxAmount {
		return Loan{}, fmt.Errorf("%w: must be between %s and %s", ErrInvalidAmount,
			payments.FormatAmount(s.cfg.MinAmount), payments.FormatAmount(s.cfg.MaxAmount))
	}
	if !validTerm(in.TermMonths) {
		return Loan{}, ErrInvalidTerm
	}
	store, err := s.stores.StoreInfo(ctx, in.StoreID)
	if err != nil {
		return Loan{}, err
	}
	if !store.Active {
		return Loan{}, ErrStoreInactive
	}
	if in.OrderID != "" {
		if s.orders == nil {
			return Loan{}, ErrOrderMismatch
		}
		if err := s.orders.Financeable(ctx, in.OrderID, in.UserID, in.StoreID, in.Amount); err != nil {
			return Loan{}, fmt.Errorf("%w: %v", ErrOrderMismatch, err)
		}
	}
	defaulted, err := s.repo.Find(ctx, Filter{UserID: in.UserID, Statuses: []string{StatusDefaulted}})
	if err != nil {
		return Loan{}, err
	}
	if len(defaulted) > 0 {
		return Loan{}, ErrHasDefault
	}
	elig, err := s.credit.Eligibility(ctx, in.UserID)
	if err != nil {
		return Loan{}, fmt.Errorf("credit check: %w", err)
	}
	if in.Amount > elig.Available {
		return Loan{}, ErrNotEligible
	}

	now := s.now().UTC()
	_, total := BuildSchedule(in.Amount, s.cfg.InterestBps, in.TermMonths, now)
	loan := Loan{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		StoreID:        in.StoreID,
		OrderID:        in.OrderID,
		Principal:      in.Amount,
		InterestBps:    s.cfg.InterestBps,
		TermMonths:     in.TermMonths,
		TotalRepayable: total,
		Status:         StatusPending,
		Purpose:        in.Purpose,
		CreditScore:    elig.Score,
		AppliedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, loan); err != nil {
		return Loan{}, err
	}
	metrics.LoanEvent("applied", loan.Principal)
	s.logger.Info("loan applied",
		slog.String("loan_id", loan.ID),
		slog.String("user_id", loan.UserID),
		slog.Int64("principal", loan.Principal),
		slog.Int("term_months", loan.TermMonths),
	)
	s.notify(ctx, loan.UserID, notification.KindLoanApplied, "Loan application received",
		fmt.Sprintf("Your application for %s %s is under review.", s.cfg.Currency, payments.FormatAmount(loan.Principal)))
	return loan, nil
}

func (s *Service) authorize(ctx context.Context, loan Loan, actor Actor) (StoreInfo, error) {
	store, err := s.stores.StoreInfo(ctx, loan.StoreID)
	if err != nil {
		return StoreInfo{}, err
	}
	if actor.Role != roleAdmin && store.OwnerID != actor.UserID {
		return StoreInfo{}, ErrForbidden
	}
	return store, nil
}

// Approve builds the schedule, disburses the principal to the store net of its
// fee and activates the loan.
func (s *Service) Approve(ctx context.Context, loanID string, actor Actor) (Loan, error) {
	defer s.lock(loanID)()
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	store, err := s.authorize(ctx, loan, actor)
	if err != nil {
		return Loan{}, err
	}
	if loan.Status != StatusPending {
		return Loan{}, ErrInvalidState
	}

	fee := loan.Principal * int64(store.FeeBps) / 10_000
	merchantAccount := ledger.MerchantAccount(store.ID)
	if err := s.ledger.EnsureAccount(ctx, merchantAccount); err != nil {
		return Loan{}, err
	}
	if _, err := s.ledger.Transfer(ctx, ledger.PlatformCreditAccount, merchantAccount, kindDisbursement, loan.ID, loan.Principal-fee); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Loan{}, fmt.Errorf("disburse: %w", err)
	}
	if fee > 0 {
		if _, err := s.ledger.Transfer(ctx, ledger.PlatformCreditAccount, ledger.PlatformRevenueAccount, kindLoanFee, loan.ID, fee); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return Loan{}, fmt.Errorf("collect fee: %w", err)
		}
	}

	now := s.now().UTC()
	installments, total := BuildSchedule(loan.Principal, loan.InterestBps, loan.TermMonths, now)
	due := installments[len(installments)-1].DueDate
	loan.Installments = installments
	loan.TotalRepayable = total
	loan.Outstanding = total
	loan.Status = StatusActive
	loan.ApprovedAt = &now
	loan.DisbursedAt = &now
	loan.DueDate = &due
	loan.UpdatedAt = now
	if err := s.repo.Save(ctx, loan); err != nil {
		return Loan{}, err
	}
	loan.Version++

	if s.orders != nil && loan.OrderID != "" {
		if err := s.orders.LoanApproved(ctx, loan.OrderID, loan.ID); err != nil {
			s.logger.Warn("mark order financed", slog.String("order_id", loan.OrderID), slog.Any("error", err))
		}
	}
	metrics.LoanEvent("approved", loan.Principal)
	s.logger.Info("loan approved",
		slog.String("loan_id", loan.ID),
		slog.String("approved_by", actor.UserID),
		slog.Int64("principal", loan.Principal),
		slog.Int64("fee", fee),
	)
	s.notify(ctx, loan.UserID, notification.KindLoanApproved, "Loan approved",
		fmt.Sprintf("Your loan of %s %s is active. First installment due %s.", s.cfg.Currency,
			payments.FormatAmount(loan.Principal), installments[0].DueDate.Format("2006-01-02")))
	return loan, nil
}

// Reject declines a pending loan.
func (s *Service) Reject(ctx context.Context, loanID string, actor Actor, reason string) (Loan, error) {
	defer s.lock(loanID)()
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if _, err := s.authorize(ctx, loan, actor); err != nil {
		return Loan{}, err
	}
	if loan.Status != StatusPending {
		return Loan{}, ErrInvalidState
	}
	if reason == "" {
		reason = "application declined"
	}
	loan.Status = StatusRejected
	loan.RejectionReason = reason
	loan.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, loan); err != nil {
		return Loan{}, err
	}
	loan.Version++

	if s.orders != nil && loan.OrderID != "" {
		if err := s.orders.LoanRejected(ctx, loan.OrderID, loan.ID); err != nil {
			s.logger.Warn("release rejected order", slog.String("order_id", loan.OrderID), slog.Any("error", err))
		}
	}
	metrics.LoanEvent("rejected", 0)
	s.logger.Info("loan rejected", slog.String("loan_id", loan.ID), slog.String("reason", reason))
	s.notify(ctx, loan.UserID, notification.KindLoanRejected, "Loan application declined", reason)
	return loan, nil
}

// Withdraw lets a borrower cancel their own pending application.
func (s *Service) Withdraw(ctx context.Context, userID, loanID string) error {
	defer s.lock(loanID)()
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.UserID != userID {
		return ErrNotFound
	}
	if loan.Status != StatusPending {
		return ErrInvalidState
	}
	loan.Status = StatusRejected
	loan.RejectionReason = "withdrawn by borrower"
	loan.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, loan); err != nil {
		return err
	}
	metrics.LoanEvent("withdrawn", 0)
	return nil
}

// RepayInput is a borrower payment against a loan.
type RepayInput struct {
	UserID     string
	LoanID     string
	Amount     int64
	Method     string
	Details    payments.Details
	ClientTxID string
}

// RepayResult is the loan after a repayment.
type RepayResult struct {
	Loan      Loan             `json:"loan"`
	Repayment Repayment        `json:"repayment"`
	Payment   payments.Payment `json:"payment"`
}

// Repay collects a payment into platform credit and allocates it to the oldest
// unpaid installments first. A repeated ClientTxID returns the original result
// with ledger.ErrDuplicateTransaction.
func (s *Service) Repay(ctx context.Context, in RepayInput) (RepayResult, error) {
	defer s.lock(in.LoanID)()
	loan, err := s.repo.Get(ctx, in.LoanID)
	if err != nil {
		return RepayResult{}, err
	}
	if loan.UserID != in.UserID {
		return RepayResult{}, ErrNotFound
	}
	if in.ClientTxID == "" {
		in.ClientTxID = uuid.NewString()
	}

	payment, err := s.payments.FindByClientTxID(ctx, in.ClientTxID)
	switch {
	case err == nil:
		if payment.ReferenceID != loan.ID || payment.Purpose != payments.PurposeLoanRepayment {
			return RepayResult{}, ledger.ErrDuplicateTransaction
		}
		if rp, ferr := s.repo.RepaymentByPayment(ctx, payment.ID); ferr == nil {
			return RepayResult{Loan: loan, Repayment: rp, Payment: payment}, ledger.ErrDuplicateTransaction
		}
		// Collected earlier but never applied; apply it now.
	case errors.Is(err, payments.ErrNotFound):
		if loan.Status != StatusActive && loan.Status != StatusDefaulted {
			return RepayResult{}, ErrInvalidState
		}
		if in.Amount <= 0 {
			return RepayResult{}, ledger.ErrInvalidAmount
		}
		if in.Amount > loan.Outstanding {
			return RepayResult{}, ErrOverpayment
		}
		payment, err = s.payments.Collect(ctx, payments.CollectInput{
			UserID:      in.UserID,
			Method:      in.Method,
			Purpose:     payments.PurposeLoanRepayment,
			ReferenceID: loan.ID,
			Destination: ledger.PlatformCreditAccount,
			Amount:      in.Amount,
			Details:     in.Details,
			ClientTxID:  in.ClientTxID,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return RepayResult{}, err
		}
	default:
		return RepayResult{}, err
	}

	now := s.now().UTC()
	allocate(&loan, payment.Amount, now)
	repayment := Repayment{
		ID:        uuid.NewString(),
		LoanID:    loan.ID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Method:    payment.Method,
		CreatedAt: now,
	}
	if err := s.repo.AddRepayment(ctx, loan, repayment); err != nil {
		return RepayResult{}, err
	}
	loan.Version++
	loan.Repayments = append(loan.Repayments, repayment)

	metrics.LoanEvent("repayment", repayment.Amount)
	s.logger.Info("loan repayment applied",
		slog.String("loan_id", loan.ID),
		slog.Int64("amount", repayment.Amount),
		slog.Int64("outstanding", loan.Outstanding),
	)
	s.notify(ctx, loan.UserID, notification.KindLoanRepaid, "Repayment received",
		fmt.Sprintf("%s %s applied. Outstanding balance %s %s.", s.cfg.Currency, payments.FormatAmount(repayment.Amount),
			s.cfg.Currency, payments.FormatAmount(loan.Outstanding)))
	if loan.Status == StatusPaid {
		metrics.LoanEvent("paid", loan.Principal)
		s.notify(ctx, loan.UserID, notification.KindLoanPaidOff, "Loan fully repaid",
			"Congratulations, your loan is fully repaid.")
	}
	return RepayResult{Loan: loan, Repayment: repayment, Payment: payment}, nil
}

// allocate applies amount to installments in schedule order.
func allocate(loan *Loan, amount int64, now time.Time) {
	remaining := amount
	for i := range loan.Installments {
		in := &loan.Installments[i]
		if remaining == 0 {
			break
		}
		owed := in.Remaining()
		if owed <= 0 {
			continue
		}
		applied := min(owed, remaining)
		in.Paid += applied
		remaining -= applied
		if in.Remaining() == 0 {
			in.Status = InstallmentPaid
			paidAt := now
			in.PaidAt = &paidAt
		}
	}
	loan.Outstanding -= amount
	loan.UpdatedAt = now
	if loan.Outstanding <= 0 {
		loan.Outstanding = 0
		loan.Status = StatusPaid
		loan.RepaidAt = &now
	}
}

// RepayLoan adapts Repay to the payment endpoints.
func (s *Service) RepayLoan(ctx context.Context, req payments.RepayRequest) (any, error) {
	res, err := s.Repay(ctx, RepayInput{
		UserID:     req.UserID,
		LoanID:     req.LoanID,
		Amount:     req.Amount,
		Method:     req.Method,
		Details:    req.Details,
		ClientTxID: req.ClientTxID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return res, nil
	}
	return res, err
}

// HTTPError maps loan errors onto HTTP statuses.
func (s *Service) HTTPError(err error) error { return toHTTPError(err) }

// OverdueReport summarises one overdue sweep.
type OverdueReport struct {
	Overdue   int `json:"overdue_installments"`
	Defaulted int `json:"defaulted_loans"`
}

// MarkOverdue flags unpaid installments past due and defaults loans that have
// been overdue for longer than the configured grace period.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (OverdueReport, error) {
	var report OverdueReport
	active, err := s.repo.Find(ctx, Filter{Statuses: []string{StatusActive}})
	if err != nil {
		return report, err
	}
	grace := time.Duration(s.cfg.DefaultAfterDays) * 24 * time.Hour
	for _, candidate := range active {
		newlyOverdue, defaulted, err := s.sweepLoan(ctx, candidate.ID, now, grace)
		if err != nil {
			s.logger.Error("overdue sweep failed", slog.String("loan_id", candidate.ID), slog.Any("error", err))
			continue
		}
		report.Overdue += newlyOverdue
		if defaulted {
			report.Defaulted++
		}
	}
	return report, nil
}

func (s *Service) sweepLoan(ctx context.Context, loanID string, now time.Time, grace time.Duration) (int, bool, error) {
	defer s.lock(loanID)()
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return 0, false, err
	}
	if loan.Status != StatusActive {
		return 0, false, nil
	}
	newlyOverdue := 0
	defaulted := false
	for i := range loan.Installments {
		in := &loan.Installments[i]
		if in.Status == InstallmentPaid || !now.After(in.DueDate) {
			continue
		}
		if in.Status != InstallmentOverdue {
			in.Status = InstallmentOverdue
			newlyOverdue++
		}
		if now.Sub(in.DueDate) > grace {
			defaulted = true
		}
	}
	if newlyOverdue == 0 && !defaulted {
		return 0, false, nil
	}
	loan.UpdatedAt = now
	if defaulted {
		loan.Status = StatusDefaulted
		loan.DefaultedAt = &now
	}
	if err := s.repo.Save(ctx, loan); err != nil {
		return 0, false, err
	}

	if defaulted {
		metrics.LoanEvent("defaulted", loan.Outstanding)
		s.logger.Warn("loan defaulted", slog.String("loan_id", loan.ID), slog.Int64("outstanding", loan.Outstanding))
		s.notify(ctx, loan.UserID, notification.KindLoanDefaulted, "Loan in default",
			fmt.Sprintf("Your loan is in default with %s %s outstanding.", s.cfg.Currency, payments.FormatAmount(loan.Outstanding)))
	} else {
		metrics.LoanEvent("overdue", 0)
		s.notify(ctx, loan.UserID, notification.KindLoanOverdue, "Payment overdue",
			"An installment on your loan is overdue. Please pay to avoid default.")
	}
	return newlyOverdue, defaulted, nil
}

// List returns the borrower's loans, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID, status string) ([]Loan, error) {
	f := Filter{UserID: userID}
	if status != "" {
		f.Statuses = []string{status}
	}
	return s.repo.Find(ctx, f)
}

// Active returns the borrower's loans being repaid.
func (s *Service) Active(ctx context.Context, userID string) ([]Loan, error) {
	return s.repo.Find(ctx, Filter{UserID: userID, Statuses: []string{StatusActive}})
}

// History returns the borrower's closed loans.
func (s *Service) History(ctx context.Context, userID string) ([]Loan, error) {
	return s.repo.Find(ctx, Filter{UserID: userID, Statuses: []string{StatusPaid, StatusDefaulted, StatusRejected}})
}

// Get returns one of the borrower's loans. Loans of other users are reported as missing.
func (s *Service) Get(ctx context.Context, userID, loanID string) (Loan, error) {
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if loan.UserID != userID {
		return Loan{}, ErrNotFound
	}
	return loan, nil
}

// UpcomingSchedule lists the borrower's unpaid installments by due date.
func (s *Service) UpcomingSchedule(ctx context.Context, userID string) ([]ScheduleItem, error) {
	loans, err := s.repo.Find(ctx, Filter{UserID: userID, Statuses: []string{StatusActive, StatusDefaulted}})
	if err != nil {
		return nil, err
	}
	var out []ScheduleItem
	for _, l := range loans {
		for _, in := range l.Installments {
			if in.Status != InstallmentPaid {
				out = append(out, ScheduleItem{LoanID: l.ID, StoreID: l.StoreID, Installment: in})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// ListForOwner pages the loans financed at stores owned by ownerID.
func (s *Service) ListForOwner(ctx context.Context, ownerID, status string, p httpx.Page) ([]Loan, int, error) {
	storeIDs, err := s.stores.StoresOwnedBy(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	if storeIDs == nil {
		storeIDs = []string{}
	}
	f := Filter{StoreIDs: storeIDs}
	if status != "" {
		f.Statuses = []string{status}
	}
	return s.repo.List(ctx, f, p)
}

// Financed summarises disbursed loans for a set of stores.
func (s *Service) Financed(ctx context.Context, storeIDs []string) (count int, principal int64, err error) {
	loans, err := s.repo.Find(ctx, Filter{StoreIDs: storeIDs, Statuses: []string{StatusActive, StatusPaid, StatusDefaulted}})
	if err != nil {
		return 0, 0, err
	}
	for _, l := range loans {
		count++
		principal += l.Principal
	}
	return count, principal, nil
}

// AdminList pages through every loan.
func (s *Service) AdminList(ctx context.Context, f Filter, p httpx.Page) ([]Loan, int, error) {
	return s.repo.List(ctx, f, p)
}

// Stats aggregates the loan book.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// LoanStats summarises a borrower's history for credit scoring. Outstanding
// includes principal committed to pending applications.
func (s *Service) LoanStats(ctx context.Context, userID string) (creditscore.LoanStats, error) {
	loans, err := s.repo.Find(ctx, Filter{UserID: userID})
	if err != nil {
		return creditscore.LoanStats{}, err
	}
	var stats creditscore.LoanStats
	for _, l := range loans {
		switch l.Status {
		case StatusRejected:
			continue
		case StatusPaid:
			stats.Paid++
		case StatusDefaulted:
			stats.Defaulted++
			stats.Outstanding += l.Outstanding
		case StatusActive:
			stats.Outstanding += l.Outstanding
		case StatusPending, StatusApproved:
			stats.Outstanding += l.Principal
		}
		stats.Total++
	}
	return stats, nil
}

func (s *Service) notify(ctx context.Context, userID, kind, title, body string) {
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{UserID: userID, Kind: kind, Title: title, Body: body})
}
