// Package zk prepares credit-score circuit inputs for client-side provers and
// takes in the proofs they produce.
package zk

import (
	"errors"
	"time"
)

// Proof statuses.
const (
	ProofReceived = "received"
)

// InputsTTL bounds how long issued inputs accept a proof.
const InputsTTL = 24 * time.Hour

var (
	ErrNotFound      = errors.New("circuit inputs not found")
	ErrExpired       = errors.New("circuit inputs have expired")
	ErrCommitment    = errors.New("public inputs do not open the issued commitment")
	ErrInvalidProof  = errors.New("proof must be non-empty hex")
	ErrAlreadyProven = errors.New("a proof was already submitted for these inputs")
)

// Inputs are the witness values for the credit circuit. Everything except
// Commitment stays private to the prover; Commitment is the circuit's public
// input and binds the values to the user.
type Inputs struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Score             int       `json:"score"`
	RepaymentBehavior int       `json:"repayment_behavior"`
	AccountAge        int       `json:"account_age"`
	OnChainHistory    int       `json:"on_chain_history"`
	DIDVerification   int       `json:"did_verification"`
	Salt              string    `json:"salt"`
	Commitment        string    `json:"commitment"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Proof is a submitted proof over issued inputs.
type Proof struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	InputsID    string    `json:"inputs_id"`
	Commitment  string    `json:"commitment"`
	ProofHash   string    `json:"proof_hash"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}
