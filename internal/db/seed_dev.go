package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type SeedDevOptions struct {
	// ReaderID is the topic the demo reader publishes on.
	ReaderID string
	// ChipNumber is the enrolled demo credential, canonical 10-digit form.
	ChipNumber string
}

// SeedDev creates a minimal policy for local testing: one reader, one
// weekday day-shift group bound to it, and one member.  It is idempotent.
// Only SQLite is supported.
func SeedDev(ctx context.Context, db *sqlx.DB, opt SeedDevOptions) error {
	if db.DriverName() != DriverSQLite {
		return fmt.Errorf("seed-dev is only supported for %s, not %s", DriverSQLite, db.DriverName())
	}
	if opt.ReaderID == "" {
		opt.ReaderID = "FRONTDOOR"
	}
	if opt.ChipNumber == "" {
		opt.ChipNumber = "0000012345"
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO timecard(id, identreader, pushopen, name)
VALUES (1, ?, ?, 'Main Entrance');`, opt.ReaderID, opt.ReaderID+"/pushopen"); err != nil {
		return fmt.Errorf("seed timecard: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO "groups"(
  id, group_name,
  "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
  access_time_from, access_time_to
) VALUES (1, 'DaysShift', 1, 1, 1, 1, 1, 0, 0, '08:00:00', '17:00:00');`); err != nil {
		return fmt.Errorf("seed groups: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO users(id, chip_number, card_number, access, name, second_name)
VALUES (1, ?, 'CARD-0001', 'U', 'Dev', 'User');`, opt.ChipNumber); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO user_has_group(user_id, group_id) VALUES (1, 1);`); err != nil {
		return fmt.Errorf("seed user_has_group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO group_has_timecard(group_id, timecard_id) VALUES (1, 1);`); err != nil {
		return fmt.Errorf("seed group_has_timecard: %w", err)
	}

	return tx.Commit()
}
