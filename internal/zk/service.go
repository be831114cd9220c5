package zk

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/logging"
)

// Scorer yields the user's current credit score.
type Scorer interface {
	Calculate(ctx context.Context, userID string, force bool) (creditscore.Score, error)
}

// Service issues circuit inputs and records proofs.
type Service struct {
	repo   Repository
	scores Scorer
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, scores Scorer, logger *slog.Logger) *Service {
	return &Service{repo: repo, scores: scores, logger: logging.OrDiscard(logger), now: time.Now}
}

// Generate builds fresh inputs from the user's current score and stores them
// so a later proof can be matched against the commitment.
func (s *Service) Generate(ctx context.Context, userID string) (Inputs, error) {
	score, err := s.scores.Calculate(ctx, userID, false)
	if err != nil {
		return Inputs{}, fmt.Errorf("credit score: %w", err)
	}
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return Inputs{}, err
	}
	now := s.now().UTC()
	in := Inputs{
		ID:                uuid.NewString(),
		UserID:            userID,
		Score:             score.Score,
		RepaymentBehavior: factor(score.Factors.RepaymentBehavior),
		AccountAge:        factor(score.Factors.AccountAge),
		OnChainHistory:    factor(score.Factors.OnChainHistory),
		DIDVerification:   factor(score.Factors.DIDVerification),
		Salt:              hexutil.Encode(salt),
		IssuedAt:          now,
		ExpiresAt:         now.Add(InputsTTL),
	}
	in.Commitment = Commit(in)
	if err := s.repo.SaveInputs(ctx, in); err != nil {
		return Inputs{}, err
	}
	s.logger.Info("zk inputs issued", slog.String("user_id", userID), slog.String("inputs_id", in.ID))
	return in, nil
}

func factor(v float64) int { return int(math.Round(v)) }

// Commit hashes the witness the way the verifier contract packs it:
// keccak256(userID, score, repayment, age, chain, did, salt) with each number
// as a 32-byte big-endian word.
func Commit(in Inputs) string {
	word := func(v int) []byte { return common.LeftPadBytes(big.NewInt(int64(v)).Bytes(), 32) }
	salt, _ := hexutil.Decode(in.Salt)
	return crypto.Keccak256Hash(
		[]byte(in.UserID),
		word(in.Score),
		word(in.RepaymentBehavior),
		word(in.AccountAge),
		word(in.OnChainHistory),
		word(in.DIDVerification),
		salt,
	).Hex()
}

// SubmitInput is a proof generated from issued inputs.
type SubmitInput struct {
	UserID       string
	InputsID     string
	Proof        string
	PublicInputs []string
}

// Submit accepts a proof whose first public input is the commitment issued to
// the caller. Each set of inputs takes one proof.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Proof, error) {
	issued, err := s.repo.GetInputs(ctx, in.InputsID)
	if err != nil {
		return Proof{}, err
	}
	if issued.UserID != in.UserID {
		return Proof{}, ErrNotFound
	}
	now := s.now().UTC()
	if !now.Before(issued.ExpiresAt) {
		return Proof{}, ErrExpired
	}
	if len(in.PublicInputs) == 0 || !strings.EqualFold(in.PublicInputs[0], issued.Commitment) {
		return Proof{}, ErrCommitment
	}
	raw, err := hexutil.Decode(in.Proof)
	if err != nil || len(raw) == 0 {
		return Proof{}, ErrInvalidProof
	}
	p := Proof{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		InputsID:    issued.ID,
		Commitment:  issued.Commitment,
		ProofHash:   crypto.Keccak256Hash(raw).Hex(),
		Status:      ProofReceived,
		SubmittedAt: now,
	}
	if err := s.repo.SaveProof(ctx, p); err != nil {
		return Proof{}, err
	}
	s.logger.Info("zk proof received",
		slog.String("user_id", in.UserID),
		slog.String("proof_id", p.ID),
		slog.String("proof_hash", p.ProofHash),
	)
	return p, nil
}

// Proofs lists the user's submitted proofs, newest first.
func (s *Service) Proofs(ctx context.Context, userID string) ([]Proof, error) {
	return s.repo.ListProofs(ctx, userID)
}
