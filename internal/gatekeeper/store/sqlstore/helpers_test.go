package sqlstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	// Each call gets a unique in-memory database.  The shared-cache URI
	// keeps the database alive for the lifetime of the connection pool.
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		t.Name(),
	)

	conn, err := sqlx.Open(db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("openTestDB: sqlx.Open: %v", err)
	}

	// Match production: single connection for SQLite safety.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn.  The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sqlx.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

func mustExec(t *testing.T, conn *sqlx.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// seedDaysShift installs the reference policy: user 1 (chip 0000012345) in
// group DaysShift (Monday 08:00-17:00) bound to reader FRONTDOOR; reader
// BACKDOOR exists without bindings.
func seedDaysShift(t *testing.T, conn *sqlx.DB) {
	t.Helper()
	mustExec(t, conn, `INSERT INTO timecard(id, identreader, pushopen) VALUES (1, 'FRONTDOOR', 'FRONTDOOR/pushopen')`)
	mustExec(t, conn, `INSERT INTO timecard(id, identreader, pushopen) VALUES (2, 'BACKDOOR', 'BACKDOOR/pushopen')`)
	mustExec(t, conn, `
INSERT INTO "groups"(id, group_name, "Monday", access_time_from, access_time_to)
VALUES (100, 'DaysShift', 1, '08:00:00', '17:00:00')`)
	mustExec(t, conn, `INSERT INTO users(id, chip_number, card_number) VALUES (1, '0000012345', 'CARD-1')`)
	mustExec(t, conn, `INSERT INTO user_has_group(user_id, group_id) VALUES (1, 100)`)
	mustExec(t, conn, `INSERT INTO group_has_timecard(group_id, timecard_id) VALUES (100, 1)`)
}
