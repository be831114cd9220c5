package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kelo-pay/kelo/internal/keylock"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/payments"
	"github.com/kelo-pay/kelo/internal/wallet"
)

const (
	year       = 365 * 24 * time.Hour
	bpsDivisor = 10_000

	kindStake   = "stake"
	kindUnstake = "unstake"
	kindReward  = "staking_reward"
)

// Wallets resolves the customer wallet that funds and receives stakes.
type Wallets interface {
	EnsureForOwner(ctx context.Context, ownerID string) (wallet.Wallet, error)
}

// Service moves customer funds in and out of liquidity pools and pays rewards.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	wallets  Wallets
	notifier notification.Notifier
	logger   *slog.Logger
	currency string
	now      func() time.Time
	locks    keylock.Map
}

func NewService(repo Repository, l ledger.Ledger, wallets Wallets, notifier notification.Notifier, logger *slog.Logger, currency string) *Service {
	return &Service{
		repo:     repo,
		ledger:   l,
		wallets:  wallets,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
		currency: currency,
		now:      time.Now,
	}
}

func (s *Service) lock(poolID, userID string) func() {
	return s.locks.Lock(poolID + "/" + userID)
}

// Earned is the reward on staked over elapsed at apyBps, rounded down to the
// minor unit.
func Earned(staked int64, apyBps int, elapsed time.Duration) int64 {
	if staked <= 0 || apyBps <= 0 || elapsed <= 0 {
		return 0
	}
	return decimal.NewFromInt(staked).
		Mul(decimal.NewFromInt(int64(apyBps))).
		Mul(decimal.NewFromInt(int64(elapsed))).
		Div(decimal.NewFromInt(bpsDivisor)).
		Div(decimal.NewFromInt(int64(year))).
		Floor().
		IntPart()
}

// accrue credits the whole minor units earned since LastAccrual. LastAccrual
// only advances by the time those units cover, so fractions carry into the
// next accrual.
func accrue(p *Position, pool Pool, now time.Time) int64 {
	elapsed := now.Sub(p.LastAccrual)
	if elapsed <= 0 {
		return 0
	}
	if p.Staked <= 0 || pool.APYBps <= 0 {
		p.LastAccrual = now
		return 0
	}
	earned := Earned(p.Staked, pool.APYBps, elapsed)
	if earned == 0 {
		return 0
	}
	p.RewardsAccrued += earned
	p.LastAccrual = p.LastAccrual.Add(coveredBy(earned, p.Staked, pool.APYBps, elapsed))
	return earned
}

// coveredBy is the shortest span in which staked earns earned, capped at elapsed.
func coveredBy(earned, staked int64, apyBps int, elapsed time.Duration) time.Duration {
	ns := decimal.NewFromInt(earned).
		Mul(decimal.NewFromInt(bpsDivisor)).
		Mul(decimal.NewFromInt(int64(year))).
		Div(decimal.NewFromInt(staked).Mul(decimal.NewFromInt(int64(apyBps)))).
		Ceil().
		IntPart()
	if d := time.Duration(ns); d < elapsed {
		return d
	}
	return elapsed
}

// ListPools returns every pool, active or not.
func (s *Service) ListPools(ctx context.Context) ([]Pool, error) {
	return s.repo.ListPools(ctx)
}

// Positions returns the user's positions with live pending rewards.
func (s *Service) Positions(ctx context.Context, userID string) ([]PositionView, error) {
	positions, err := s.repo.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		pool, err := s.repo.GetPool(ctx, p.PoolID)
		if err != nil {
			return nil, err
		}
		out = append(out, PositionView{
			Position:       p,
			PoolName:       pool.Name,
			Token:          pool.Token,
			APYBps:         pool.APYBps,
			PendingRewards: Earned(p.Staked, pool.APYBps, now.Sub(p.LastAccrual)),
		})
	}
	return out, nil
}

type MoveInput struct {
	UserID     string
	PoolID     string
	Amount     int64
	ClientTxID string
}

// load returns the pool and the user's position brought up to now. A missing
// position starts empty.
func (s *Service) load(ctx context.Context, poolID, userID string, now time.Time) (Pool, Position, error) {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return Pool{}, Position{}, err
	}
	pos, err := s.repo.GetPosition(ctx, poolID, userID)
	switch {
	case errors.Is(err, ErrNoPosition):
		pos = Position{PoolID: poolID, UserID: userID, LastAccrual: now}
	case err != nil:
		return Pool{}, Position{}, err
	}
	accrue(&pos, pool, now)
	return pool, pos, nil
}

// move posts a ledger transfer and then persists pos. If persisting fails the
// transfer is reversed.
func (s *Service) move(ctx context.Context, from, to, kind, clientTxID string, amount int64, pos Position, delta int64) (Movement, error) {
	if clientTxID == "" {
		clientTxID = uuid.NewString()
	}
	res, err := s.ledger.Transfer(ctx, from, to, kind, clientTxID, amount)
	if err != nil {
		return Movement{}, err
	}
	if err := s.repo.SavePosition(ctx, pos, delta); err != nil {
		if _, rerr := s.ledger.Transfer(ctx, to, from, kind+"_reversal", clientTxID+":reversal", amount); rerr != nil {
			s.logger.Error("staking reversal failed", "client_tx_id", clientTxID, "error", rerr)
		}
		return Movement{}, fmt.Errorf("save position: %w", err)
	}
	return Movement{Position: pos, Amount: amount, TransactionID: res.TransactionID}, nil
}

// Deposit stakes wallet funds into an active pool.
func (s *Service) Deposit(ctx context.Context, in MoveInput) (Movement, error) {
	if in.Amount <= 0 {
		return Movement{}, ErrInvalidAmount
	}
	defer s.lock(in.PoolID, in.UserID)()

	now := s.now().UTC()
	pool, pos, err := s.load(ctx, in.PoolID, in.UserID, now)
	if err != nil {
		return Movement{}, err
	}
	if !pool.Active {
		return Movement{}, ErrPoolInactive
	}
	w, err := s.wallets.EnsureForOwner(ctx, in.UserID)
	if err != nil {
		return Movement{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, ledger.PoolAccount(pool.ID)); err != nil {
		return Movement{}, err
	}
	pos.Staked += in.Amount
	pos.UpdatedAt = now
	m, err := s.move(ctx, w.AccountCode, ledger.PoolAccount(pool.ID), kindStake, in.ClientTxID, in.Amount, pos, in.Amount)
	if err != nil {
		return Movement{}, err
	}
	s.logger.Info("stake deposited", "user_id", in.UserID, "pool_id", pool.ID, "amount", in.Amount)
	return m, nil
}

// Withdraw returns staked funds to the wallet. Accrued rewards stay claimable.
func (s *Service) Withdraw(ctx context.Context, in MoveInput) (Movement, error) {
	if in.Amount <= 0 {
		return Movement{}, ErrInvalidAmount
	}
	defer s.lock(in.PoolID, in.UserID)()

	now := s.now().UTC()
	pool, pos, err := s.load(ctx, in.PoolID, in.UserID, now)
	if err != nil {
		return Movement{}, err
	}
	if in.Amount > pos.Staked {
		return Movement{}, ErrInsufficientStake
	}
	w, err := s.wallets.EnsureForOwner(ctx, in.UserID)
	if err != nil {
		return Movement{}, err
	}
	pos.Staked -= in.Amount
	pos.UpdatedAt = now
	m, err := s.move(ctx, ledger.PoolAccount(pool.ID), w.AccountCode, kindUnstake, in.ClientTxID, in.Amount, pos, -in.Amount)
	if err != nil {
		return Movement{}, err
	}
	s.logger.Info("stake withdrawn", "user_id", in.UserID, "pool_id", pool.ID, "amount", in.Amount)
	return m, nil
}

// Claim pays all accrued rewards from the platform rewards account.
func (s *Service) Claim(ctx context.Context, userID, poolID, clientTxID string) (Movement, error) {
	defer s.lock(poolID, userID)()

	now := s.now().UTC()
	pool, pos, err := s.load(ctx, poolID, userID, now)
	if err != nil {
		return Movement{}, err
	}
	amount := pos.RewardsAccrued
	if amount <= 0 {
		return Movement{}, ErrNothingToClaim
	}
	w, err := s.wallets.EnsureForOwner(ctx, userID)
	if err != nil {
		return Movement{}, err
	}
	pos.RewardsAccrued = 0
	pos.UpdatedAt = now
	m, err := s.move(ctx, ledger.PlatformRewardsAccount, w.AccountCode, kindReward, clientTxID, amount, pos, 0)
	if err != nil {
		return Movement{}, err
	}
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		UserID: userID,
		Kind:   notification.KindRewards,
		Title:  "Staking rewards paid",
		Body:   fmt.Sprintf("%s %s from %s was credited to your wallet.", s.currency, payments.FormatAmount(amount), pool.Name),
	})
	return m, nil
}

// AccrueRewards brings every staked position up to now.
func (s *Service) AccrueRewards(ctx context.Context, now time.Time) (AccrualReport, error) {
	now = now.UTC()
	positions, err := s.repo.StakedPositions(ctx)
	if err != nil {
		return AccrualReport{}, err
	}
	var report AccrualReport
	for _, p := range positions {
		earned, err := s.accrueOne(ctx, p.PoolID, p.UserID, now)
		if err != nil {
			return report, fmt.Errorf("accrue %s/%s: %w", p.PoolID, p.UserID, err)
		}
		report.Positions++
		report.Rewards += earned
	}
	s.logger.Info("staking rewards accrued", "positions", report.Positions, "rewards", report.Rewards)
	return report, nil
}

func (s *Service) accrueOne(ctx context.Context, poolID, userID string, now time.Time) (int64, error) {
	defer s.lock(poolID, userID)()
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	// Re-read under the lock; a deposit may have accrued it meanwhile.
	pos, err := s.repo.GetPosition(ctx, poolID, userID)
	if err != nil {
		return 0, err
	}
	earned := accrue(&pos, pool, now)
	if earned == 0 {
		return 0, nil
	}
	pos.UpdatedAt = now
	return earned, s.repo.SavePosition(ctx, pos, 0)
}
