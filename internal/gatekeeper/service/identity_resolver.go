package service

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// IdentityResolver finds the user a chip belongs to.  Stored chip numbers
// match with or without zero padding.
type IdentityResolver struct{}

func NewIdentityResolver() *IdentityResolver {
	return &IdentityResolver{}
}

// Resolve returns (User{}, false, nil) when no user holds chip.
func (r *IdentityResolver) Resolve(ctx context.Context, tx store.EventTx, chip credential.ChipID) (store.User, bool, error) {
	if chip == "" {
		return store.User{}, false, nil
	}
	return tx.FindUserByChip(ctx, chip)
}
