package payments

import (
	"context"

	"github.com/google/uuid"
)

// Gateway is a connector to the external provider behind a payment method.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Decision, error)
	Payout(ctx context.Context, req PayoutRequest) (Decision, error)
}

// ChargeRequest asks a provider to collect money from a payer.
type ChargeRequest struct {
	Method   string
	Amount   int64
	Currency string
	Details  Details
}

// PayoutRequest asks a provider to push money to a merchant destination.
type PayoutRequest struct {
	Amount      int64
	Currency    string
	Destination string
}

// Decision captures the provider response.
type Decision struct {
	Reference string
	Approved  bool
	Reason    string
}

// StaticGateway approves every request with a synthetic reference.
type StaticGateway struct{}

// Charge approves the collection.
func (StaticGateway) Charge(_ context.Context, _ ChargeRequest) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Approved: true}, nil
}

// Payout approves the disbursement.
func (StaticGateway) Payout(_ context.Context, _ PayoutRequest) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Approved: true}, nil
}
