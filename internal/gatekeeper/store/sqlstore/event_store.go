// Package sqlstore implements the event store on SQLite or PostgreSQL.
// Queries are written with '?' placeholders and rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	dbpkg "github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

type EventStore struct {
	writer *dbpkg.Worker
}

func NewEventStore(writer *dbpkg.Worker) *EventStore {
	return &EventStore{writer: writer}
}

var _ store.EventStore = (*EventStore)(nil)

// InTx runs fn inside one transaction on the serialized writer.
func (s *EventStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.EventTx) error) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &eventTx{tx: tx})
	})
}

type eventTx struct {
	tx *sqlx.Tx
}

func (t *eventTx) FindReader(ctx context.Context, identifier string) (store.Reader, bool, error) {
	var r store.Reader
	err := t.tx.GetContext(ctx, &r, t.tx.Rebind(`
SELECT id, identreader, pushopen
FROM timecard
WHERE identreader = ?
ORDER BY id
LIMIT 1;`), identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Reader{}, false, nil
	}
	if err != nil {
		return store.Reader{}, false, fmt.Errorf("FindReader %s: %w", identifier, err)
	}
	return r, true, nil
}

// FindUserByChip matches the stored chip number either exactly or with
// leading zeros stripped on both sides, so rows written with or without
// padding resolve to the same user.
func (t *eventTx) FindUserByChip(ctx context.Context, chip credential.ChipID) (store.User, bool, error) {
	var u store.User
	err := t.tx.GetContext(ctx, &u, t.tx.Rebind(`
SELECT id, chip_number, COALESCE(card_number, '') AS card_number, COALESCE(access, '') AS access
FROM users
WHERE chip_number <> ''
  AND (chip_number = ? OR ltrim(chip_number, '0') = ?)
ORDER BY id
LIMIT 1;`), string(chip), strings.TrimLeft(string(chip), "0"))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, false, nil
	}
	if err != nil {
		return store.User{}, false, fmt.Errorf("FindUserByChip: %w", err)
	}
	return u, true, nil
}

type groupRow struct {
	ID       int64          `db:"id"`
	Name     string         `db:"group_name"`
	Mon      int64          `db:"mon"`
	Tue      int64          `db:"tue"`
	Wed      int64          `db:"wed"`
	Thu      int64          `db:"thu"`
	Fri      int64          `db:"fri"`
	Sat      int64          `db:"sat"`
	Sun      int64          `db:"sun"`
	TimeFrom sql.NullString `db:"time_from"`
	TimeTo   sql.NullString `db:"time_to"`
}

func (r groupRow) toGroup() (policy.Group, error) {
	g := policy.Group{
		ID:   r.ID,
		Name: r.Name,
		Days: policy.Weekdays{r.Mon != 0, r.Tue != 0, r.Wed != 0, r.Thu != 0, r.Fri != 0, r.Sat != 0, r.Sun != 0},
	}
	if r.TimeFrom.Valid {
		from, err := policy.ParseTimeOfDay(r.TimeFrom.String)
		if err != nil {
			return policy.Group{}, fmt.Errorf("group %d access_time_from: %w", r.ID, err)
		}
		g.From = &from
	}
	if r.TimeTo.Valid {
		to, err := policy.ParseTimeOfDay(r.TimeTo.String)
		if err != nil {
			return policy.Group{}, fmt.Errorf("group %d access_time_to: %w", r.ID, err)
		}
		g.To = &to
	}
	return g, nil
}

type bindingRow struct {
	GroupID  int64 `db:"group_id"`
	ReaderID int64 `db:"timecard_id"`
}

func (t *eventTx) LoadPolicy(ctx context.Context, userID int64) (policy.Snapshot, error) {
	var groups []groupRow
	if err := t.tx.SelectContext(ctx, &groups, t.tx.Rebind(`
SELECT g.id, g.group_name,
       g."Monday" AS mon, g."Tuesday" AS tue, g."Wednesday" AS wed,
       g."Thursday" AS thu, g."Friday" AS fri, g."Saturday" AS sat, g."Sunday" AS sun,
       CAST(g.access_time_from AS TEXT) AS time_from,
       CAST(g.access_time_to AS TEXT) AS time_to
FROM "groups" g
JOIN user_has_group ug ON ug.group_id = g.id
WHERE ug.user_id = ?
ORDER BY g.id;`), userID); err != nil {
		return policy.Snapshot{}, fmt.Errorf("LoadPolicy groups: %w", err)
	}

	var bindings []bindingRow
	if err := t.tx.SelectContext(ctx, &bindings, t.tx.Rebind(`
SELECT gt.group_id, gt.timecard_id
FROM group_has_timecard gt
JOIN user_has_group ug ON ug.group_id = gt.group_id
WHERE ug.user_id = ?;`), userID); err != nil {
		return policy.Snapshot{}, fmt.Errorf("LoadPolicy bindings: %w", err)
	}

	snap := policy.Snapshot{
		Groups:      make([]policy.Group, 0, len(groups)),
		Memberships: make([]policy.Membership, 0, len(groups)),
		Bindings:    make([]policy.Binding, 0, len(bindings)),
	}
	for _, r := range groups {
		g, err := r.toGroup()
		if err != nil {
			return policy.Snapshot{}, fmt.Errorf("LoadPolicy: %w", err)
		}
		snap.Groups = append(snap.Groups, g)
		snap.Memberships = append(snap.Memberships, policy.Membership{UserID: userID, GroupID: r.ID})
	}
	for _, b := range bindings {
		snap.Bindings = append(snap.Bindings, policy.Binding{GroupID: b.GroupID, ReaderID: b.ReaderID})
	}
	return snap, nil
}

func (t *eventTx) AppendAccessLog(ctx context.Context, e store.AccessLogEntry) error {
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
INSERT INTO carddata(card_number, time, id_card_reader, id_user, access)
VALUES (?, ?, ?, ?, ?);`),
		e.CardNumber, e.Time, e.ReaderID, e.UserID, e.Access,
	); err != nil {
		return fmt.Errorf("AppendAccessLog insert: %w", err)
	}
	return nil
}

func (t *eventTx) AppendUnknownLog(ctx context.Context, e store.UnknownCredentialLogEntry) error {
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
INSERT INTO logdata(time, text)
VALUES (?, ?);`), e.Time, e.Text); err != nil {
		return fmt.Errorf("AppendUnknownLog insert: %w", err)
	}
	return nil
}
