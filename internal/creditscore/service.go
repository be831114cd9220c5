package creditscore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/logging"
)

const dataSourcePlatform = "platform"

// Service calculates, caches and reports credit scores.
type Service struct {
	repo     Repository
	loans    LoanStatsSource
	profiles ProfileSource
	chain    ChainActivitySource
	dids     DIDSource
	logger   *slog.Logger
	now      func() time.Time
}

// Sources groups the data feeds used for scoring. Chain and DID are optional.
type Sources struct {
	Loans    LoanStatsSource
	Profiles ProfileSource
	Chain    ChainActivitySource
	DIDs     DIDSource
}

// NewService builds a credit score service.
func NewService(repo Repository, src Sources, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		loans:    src.Loans,
		profiles: src.Profiles,
		chain:    src.Chain,
		dids:     src.DIDs,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
}

// Calculate returns the user's current score, reusing the latest one while it is
// still valid unless force is set.
func (s *Service) Calculate(ctx context.Context, userID string, force bool) (Score, error) {
	now := s.now().UTC()
	previous, err := s.repo.Latest(ctx, userID)
	switch {
	case err == nil:
		if !force && previous.Valid(now) {
			previous.MaxScore = MaxScore
			return previous, nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		return Score{}, err
	}

	factors, err := s.factors(ctx, userID, now)
	if err != nil {
		return Score{}, err
	}
	value := FinalScore(factors)
	score := Score{
		ID:              uuid.NewString(),
		UserID:          userID,
		Score:           value,
		PreviousScore:   previous.Score,
		MaxScore:        MaxScore,
		Rating:          Rating(value),
		Factors:         factors,
		DataSource:      dataSourcePlatform,
		Recommendations: recommendations(factors, value),
		CalculatedAt:    now,
		ValidUntil:      now.Add(Validity),
	}
	if err := s.repo.Save(ctx, score); err != nil {
		return Score{}, fmt.Errorf("save credit score: %w", err)
	}
	s.logger.Info("credit score calculated",
		slog.String("user_id", userID),
		slog.Int("score", score.Score),
		slog.String("rating", score.Rating),
	)
	return score, nil
}

func (s *Service) factors(ctx context.Context, userID string, now time.Time) (Factors, error) {
	profile, err := s.profiles.ScoringProfile(ctx, userID)
	if err != nil {
		return Factors{}, err
	}
	stats, err := s.loans.LoanStats(ctx, userID)
	if err != nil {
		return Factors{}, fmt.Errorf("loan stats: %w", err)
	}

	f := Factors{
		RepaymentBehavior: repaymentFactor(stats),
		AccountAge:        accountAgeFactor(profile.CreatedAt, now),
		ExternalData:      externalFactor(profile),
	}

	if s.chain != nil {
		activity, err := s.chain.ChainActivity(ctx, userID)
		if err != nil {
			// Chain data is best effort; scoring continues with a zero factor.
			s.logger.Warn("chain activity unavailable", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			f.OnChainHistory = onChainFactor(activity)
		}
	}

	active := profile.DID != ""
	if s.dids != nil {
		if active, err = s.dids.HasActiveDID(ctx, userID); err != nil {
			s.logger.Warn("did lookup failed", slog.String("user_id", userID), slog.Any("error", err))
			active = false
		}
	}
	f.DIDVerification = didFactor(active)
	return f, nil
}

// History lists past scores, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Score, error) {
	if limit <= 0 || limit > 100 {
		limit = 12
	}
	return s.repo.History(ctx, userID, limit)
}

// Eligibility returns the credit the user can still draw.
func (s *Service) Eligibility(ctx context.Context, userID string) (Eligibility, error) {
	score, err := s.Calculate(ctx, userID, false)
	if err != nil {
		return Eligibility{}, err
	}
	stats, err := s.loans.LoanStats(ctx, userID)
	if err != nil {
		return Eligibility{}, err
	}
	limit := CreditLimit(score.Rating)
	available := limit - stats.Outstanding
	if available < 0 {
		available = 0
	}
	return Eligibility{
		Score:       score.Score,
		Rating:      score.Rating,
		CreditLimit: limit,
		Outstanding: stats.Outstanding,
		Available:   available,
		Eligible:    available > 0 && stats.Defaulted == 0,
	}, nil
}
