package routes

import (
	"context"
	"errors"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/merchant"
)

// storeDirectory lets loans look up stores without importing merchant.
type storeDirectory struct{ merchants *merchant.Service }

func (d storeDirectory) StoreInfo(ctx context.Context, id string) (loans.StoreInfo, error) {
	s, err := d.merchants.GetStore(ctx, id)
	if errors.Is(err, merchant.ErrNotFound) {
		return loans.StoreInfo{}, loans.ErrStoreInactive
	}
	if err != nil {
		return loans.StoreInfo{}, err
	}
	return loans.StoreInfo{ID: s.ID, OwnerID: s.OwnerID, FeeBps: s.FeeBps, Active: s.Status == merchant.StatusActive}, nil
}

func (d storeDirectory) StoresOwnedBy(ctx context.Context, ownerID string) ([]string, error) {
	return d.merchants.StoreIDsOwnedBy(ctx, ownerID)
}

// scoringProfiles exposes account data to the credit engine.
type scoringProfiles struct{ users *identity.Service }

func (p scoringProfiles) ScoringProfile(ctx context.Context, userID string) (creditscore.Profile, error) {
	u, err := p.users.Get(ctx, userID)
	if err != nil {
		return creditscore.Profile{}, err
	}
	return creditscore.Profile{
		UserID:        u.ID,
		CreatedAt:     u.CreatedAt,
		Phone:         u.Phone,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		WalletAddress: u.WalletAddress,
		DID:           u.DID,
	}, nil
}
