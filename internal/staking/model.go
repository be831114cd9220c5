package staking

import (
	"errors"
	"time"
)

var (
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolInactive      = errors.New("pool is not accepting deposits")
	ErrNoPosition        = errors.New("no position in pool")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientStake = errors.New("amount exceeds staked balance")
	ErrNothingToClaim    = errors.New("no rewards to claim")
)

// Pool is a liquidity pool funding platform credit.
type Pool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Token       string    `json:"token"`
	APYBps      int       `json:"apy_bps"`
	TotalStaked int64     `json:"total_staked"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Position is one user's stake in one pool.
type Position struct {
	PoolID         string    `json:"pool_id"`
	UserID         string    `json:"user_id"`
	Staked         int64     `json:"staked"`
	RewardsAccrued int64     `json:"rewards_accrued"`
	LastAccrual    time.Time `json:"last_accrual"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PositionView adds pool details and rewards earned since the last accrual.
type PositionView struct {
	Position
	PoolName       string `json:"pool_name"`
	Token          string `json:"token"`
	APYBps         int    `json:"apy_bps"`
	PendingRewards int64  `json:"pending_rewards"`
}

// Movement is the result of a deposit, withdrawal or claim.
type Movement struct {
	Position      Position `json:"position"`
	Amount        int64    `json:"amount"`
	TransactionID string   `json:"transaction_id"`
}

// AccrualReport summarises a rewards run.
type AccrualReport struct {
	Positions int   `json:"positions"`
	Rewards   int64 `json:"rewards"`
}
