// Package creditscore computes the 300-850 credit score used for BNPL underwriting.
package creditscore

import (
	"errors"
	"time"
)

const (
	MinScore = 300
	MaxScore = 850
	// Validity is how long a calculated score is reused before recalculation.
	Validity = 30 * 24 * time.Hour
)

// Ratings.
const (
	RatingExcellent = "Excellent"
	RatingGood      = "Good"
	RatingFair      = "Fair"
	RatingPoor      = "Poor"
	RatingVeryPoor  = "Very Poor"
)

// ErrNotFound is returned when a user has never been scored.
var ErrNotFound = errors.New("credit score not found")

// Factors holds each scoring factor on a 0-100 scale.
type Factors struct {
	OnChainHistory    float64 `json:"on_chain_history"`
	RepaymentBehavior float64 `json:"repayment_behavior"`
	AccountAge        float64 `json:"account_age"`
	ExternalData      float64 `json:"external_data"`
	DIDVerification   float64 `json:"did_verification"`
}

// Score is a persisted credit score calculation.
type Score struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Score           int       `json:"score"`
	PreviousScore   int       `json:"previous_score"`
	MaxScore        int       `json:"max_score"`
	Rating          string    `json:"rating"`
	Factors         Factors   `json:"factors"`
	DataSource      string    `json:"data_source"`
	Recommendations []string  `json:"recommendations"`
	CalculatedAt    time.Time `json:"calculated_at"`
	ValidUntil      time.Time `json:"valid_until"`
}

// Valid reports whether the score can still be reused at now.
func (s Score) Valid(now time.Time) bool { return now.Before(s.ValidUntil) }

// Eligibility is the BNPL credit available to a user.
type Eligibility struct {
	Score       int    `json:"score"`
	Rating      string `json:"rating"`
	CreditLimit int64  `json:"credit_limit"`
	Outstanding int64  `json:"outstanding"`
	Available   int64  `json:"available"`
	Eligible    bool   `json:"eligible"`
}
