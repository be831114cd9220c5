package zk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/logging"
)

type fixedScores map[string]creditscore.Score

func (f fixedScores) Calculate(_ context.Context, userID string, _ bool) (creditscore.Score, error) {
	s, ok := f[userID]
	if !ok {
		return creditscore.Score{}, creditscore.ErrNotFound
	}
	return s, nil
}

func newTestService(t *testing.T, scores fixedScores) (*Service, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepository(), scores, logging.Discard())
	svc.now = func() time.Time { return clock }
	return svc, &clock
}

func TestGenerateCommitsToScore(t *testing.T) {
	user := uuid.NewString()
	svc, _ := newTestService(t, fixedScores{user: {
		Score: 712,
		Factors: creditscore.Factors{
			RepaymentBehavior: 80.6,
			AccountAge:        40.2,
			OnChainHistory:    55.5,
			DIDVerification:   100,
		},
	}})

	in, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, 712, in.Score)
	require.Equal(t, 81, in.RepaymentBehavior)
	require.Equal(t, 40, in.AccountAge)
	require.Equal(t, 56, in.OnChainHistory)
	require.Equal(t, 100, in.DIDVerification)
	require.Len(t, in.Salt, 66)
	require.Equal(t, Commit(in), in.Commitment)
	require.Equal(t, in.IssuedAt.Add(InputsTTL), in.ExpiresAt)

	again, err := svc.Generate(context.Background(), user)
	require.NoError(t, err)
	require.NotEqual(t, in.Commitment, again.Commitment, "fresh salt per issue")

	tampered := in
	tampered.Score = 850
	require.NotEqual(t, in.Commitment, Commit(tampered))
}

func TestGenerateNeedsScore(t *testing.T) {
	svc, _ := newTestService(t, fixedScores{})
	_, err := svc.Generate(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, creditscore.ErrNotFound)
}

func TestSubmitProof(t *testing.T) {
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()
	svc, clock := newTestService(t, fixedScores{alice: {Score: 650}, bob: {Score: 500}})
	in, err := svc.Generate(ctx, alice)
	require.NoError(t, err)

	cases := []struct {
		name string
		in   SubmitInput
		want error
	}{
		{"unknown inputs", SubmitInput{UserID: alice, InputsID: uuid.NewString(), Proof: "0x01", PublicInputs: []string{in.Commitment}}, ErrNotFound},
		{"someone else's inputs", SubmitInput{UserID: bob, InputsID: in.ID, Proof: "0x01", PublicInputs: []string{in.Commitment}}, ErrNotFound},
		{"wrong commitment", SubmitInput{UserID: alice, InputsID: in.ID, Proof: "0x01", PublicInputs: []string{"0xdead"}}, ErrCommitment},
		{"no public inputs", SubmitInput{UserID: alice, InputsID: in.ID, Proof: "0x01"}, ErrCommitment},
		{"not hex", SubmitInput{UserID: alice, InputsID: in.ID, Proof: "proof", PublicInputs: []string{in.Commitment}}, ErrInvalidProof},
		{"empty proof", SubmitInput{UserID: alice, InputsID: in.ID, Proof: "0x", PublicInputs: []string{in.Commitment}}, ErrInvalidProof},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.in)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	p, err := svc.Submit(ctx, SubmitInput{UserID: alice, InputsID: in.ID, Proof: "0xc0ffee", PublicInputs: []string{in.Commitment}})
	require.NoError(t, err)
	require.Equal(t, ProofReceived, p.Status)
	require.Equal(t, in.Commitment, p.Commitment)
	require.Len(t, p.ProofHash, 66)

	_, err = svc.Submit(ctx, SubmitInput{UserID: alice, InputsID: in.ID, Proof: "0xbeef", PublicInputs: []string{in.Commitment}})
	require.ErrorIs(t, err, ErrAlreadyProven)

	later, err := svc.Generate(ctx, alice)
	require.NoError(t, err)
	*clock = clock.Add(InputsTTL)
	_, err = svc.Submit(ctx, SubmitInput{UserID: alice, InputsID: later.ID, Proof: "0x01", PublicInputs: []string{later.Commitment}})
	require.ErrorIs(t, err, ErrExpired)

	proofs, err := svc.Proofs(ctx, alice)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, p.ID, proofs[0].ID)

	none, err := svc.Proofs(ctx, bob)
	require.NoError(t, err)
	require.Empty(t, none)
}
