package creditscore

import (
	"context"
	"time"
)

// LoanStats summarises a borrower's history.
type LoanStats struct {
	Total       int
	Paid        int
	Defaulted   int
	Outstanding int64
}

// LoanStatsSource reports a user's loan history.
type LoanStatsSource interface {
	LoanStats(ctx context.Context, userID string) (LoanStats, error)
}

// Profile is the account data used for scoring.
type Profile struct {
	UserID        string
	CreatedAt     time.Time
	Phone         string
	FirstName     string
	LastName      string
	WalletAddress string
	DID           string
}

// ProfileSource loads the scoring profile for a user.
type ProfileSource interface {
	ScoringProfile(ctx context.Context, userID string) (Profile, error)
}

// ChainActivity summarises verified wallet usage.
type ChainActivity struct {
	VerifiedWallets       int
	ConfirmedTransactions int
}

// ChainActivitySource reports on-chain activity for a user.
type ChainActivitySource interface {
	ChainActivity(ctx context.Context, userID string) (ChainActivity, error)
}

// DIDSource reports whether a user controls an active DID.
type DIDSource interface {
	HasActiveDID(ctx context.Context, userID string) (bool, error)
}

// LoanStatsFunc adapts a function to LoanStatsSource.
type LoanStatsFunc func(ctx context.Context, userID string) (LoanStats, error)

func (f LoanStatsFunc) LoanStats(ctx context.Context, userID string) (LoanStats, error) {
	return f(ctx, userID)
}

// ProfileFunc adapts a function to ProfileSource.
type ProfileFunc func(ctx context.Context, userID string) (Profile, error)

func (f ProfileFunc) ScoringProfile(ctx context.Context, userID string) (Profile, error) {
	return f(ctx, userID)
}

// ChainActivityFunc adapts a function to ChainActivitySource.
type ChainActivityFunc func(ctx context.Context, userID string) (ChainActivity, error)

func (f ChainActivityFunc) ChainActivity(ctx context.Context, userID string) (ChainActivity, error) {
	return f(ctx, userID)
}

// DIDFunc adapts a function to DIDSource.
type DIDFunc func(ctx context.Context, userID string) (bool, error)

func (f DIDFunc) HasActiveDID(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}
