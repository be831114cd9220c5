package creditscore

import (
	"math"
	"time"
)

const (
	weightOnChain   = 0.25
	weightRepayment = 0.30
	weightAge       = 0.10
	weightExternal  = 0.20
	weightDID       = 0.15
)

// Credit limits by rating, in minor units.
var creditLimits = map[string]int64{
	RatingExcellent: 50_000_000,
	RatingGood:      25_000_000,
	RatingFair:      10_000_000,
	RatingPoor:      2_500_000,
	RatingVeryPoor:  0,
}

// CreditLimit returns the BNPL limit for a rating.
func CreditLimit(rating string) int64 { return creditLimits[rating] }

func repaymentFactor(s LoanStats) float64 {
	if s.Total == 0 {
		return 50
	}
	score := 100 - 25*float64(s.Defaulted) + 5*float64(s.Paid)
	return math.Max(score, 0)
}

func accountAgeFactor(created, now time.Time) float64 {
	if created.IsZero() {
		return 10
	}
	age := now.Sub(created)
	const year = 365 * 24 * time.Hour
	switch {
	case age >= 5*year:
		return 100
	case age >= 3*year:
		return 80
	case age >= 2*year:
		return 60
	case age >= year:
		return 40
	case age >= year/2:
		return 20
	default:
		return 10
	}
}

func onChainFactor(a ChainActivity) float64 {
	score := 0.0
	if a.VerifiedWallets > 0 {
		score = 40
	}
	score += 10 * float64(a.ConfirmedTransactions)
	return math.Min(score, 100)
}

func externalFactor(p Profile) float64 {
	score := 0.0
	if p.Phone != "" {
		score += 40
	}
	if p.FirstName != "" && p.LastName != "" {
		score += 30
	}
	if p.WalletAddress != "" {
		score += 30
	}
	return score
}

func didFactor(active bool) float64 {
	if active {
		return 100
	}
	return 0
}

// FinalScore weights the factors onto the 300-850 scale.
func FinalScore(f Factors) int {
	weighted := f.OnChainHistory*weightOnChain +
		f.RepaymentBehavior*weightRepayment +
		f.AccountAge*weightAge +
		f.ExternalData*weightExternal +
		f.DIDVerification*weightDID

	score := int(weighted / 100 * MaxScore)
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Rating buckets a score.
func Rating(score int) string {
	switch {
	case score >= 750:
		return RatingExcellent
	case score >= 700:
		return RatingGood
	case score >= 650:
		return RatingFair
	case score >= 600:
		return RatingPoor
	default:
		return RatingVeryPoor
	}
}

func recommendations(f Factors, score int) []string {
	var out []string
	if f.OnChainHistory < 70 {
		out = append(out, "Increase on-chain transaction activity to improve your score")
	}
	if f.RepaymentBehavior < 80 {
		out = append(out, "Maintain consistent loan repayment history")
	}
	if f.ExternalData < 60 {
		out = append(out, "Complete your profile and connect a wallet for a better assessment")
	}
	if f.DIDVerification < 100 {
		out = append(out, "Complete DID verification to increase trust score")
	}
	if score < 650 {
		out = append(out, "Consider smaller loan amounts to build credit history")
	}
	if len(out) == 0 {
		out = append(out, "Maintain current financial behavior to sustain good credit score")
	}
	return out
}
