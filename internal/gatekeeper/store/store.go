package store

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
)

// User is the identity a chip number resolves to.
type User struct {
	ID         int64  `db:"id"`
	ChipNumber string `db:"chip_number"`
	CardNumber string `db:"card_number"`
	Access     string `db:"access"`
}

// Reader is a door reader.  Identifier matches the topic it publishes card
// reads on; ResponseChannel is the topic it listens on for "1"/"0".
type Reader struct {
	ID              int64  `db:"id"`
	Identifier      string `db:"identreader"`
	ResponseChannel string `db:"pushopen"`
}

// EventTx is the view of storage a single access event works through.  All
// calls made on one EventTx commit or roll back together.
type EventTx interface {
	FindReader(ctx context.Context, identifier string) (Reader, bool, error)
	FindUserByChip(ctx context.Context, chip credential.ChipID) (User, bool, error)
	// LoadPolicy returns the groups userID belongs to together with their
	// memberships and reader bindings.
	LoadPolicy(ctx context.Context, userID int64) (policy.Snapshot, error)
	AuditWriter
}

// EventStore runs fn in a transaction that commits only if fn returns nil.
type EventStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx EventTx) error) error
}
