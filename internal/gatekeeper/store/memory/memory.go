// Package memory is an in-memory event store for tests and local runs
// without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// Store holds policy rows and the audit log.  InTx serializes transactions
// and applies audit writes only when the callback succeeds.
type Store struct {
	mu sync.Mutex

	readers     []store.Reader
	users       []store.User
	groups      []policy.Group
	memberships []policy.Membership
	bindings    []policy.Binding

	accessLog  []store.AccessLogEntry
	unknownLog []store.UnknownCredentialLogEntry

	// Failure injection for tests.
	failPolicy error
	failAudit  error
}

func New() *Store {
	return &Store{}
}

var _ store.EventStore = (*Store)(nil)

func (s *Store) AddReader(r store.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers = append(s.readers, r)
}

func (s *Store) AddUser(u store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

func (s *Store) AddGroup(g policy.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, g)
}

func (s *Store) AddMembership(userID, groupID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, policy.Membership{UserID: userID, GroupID: groupID})
}

func (s *Store) AddBinding(groupID, readerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, policy.Binding{GroupID: groupID, ReaderID: readerID})
}

// FailPolicyReads makes LoadPolicy return err; nil restores normal reads.
func (s *Store) FailPolicyReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPolicy = err
}

// FailAuditWrites makes both append operations return err.
func (s *Store) FailAuditWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAudit = err
}

// AccessLog returns a copy of the committed access rows.
func (s *Store) AccessLog() []store.AccessLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AccessLogEntry, len(s.accessLog))
	copy(out, s.accessLog)
	return out
}

// UnknownLog returns a copy of the committed unknown-credential rows.
func (s *Store) UnknownLog() []store.UnknownCredentialLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.UnknownCredentialLogEntry, len(s.unknownLog))
	copy(out, s.unknownLog)
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.EventTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.accessLog = append(s.accessLog, tx.access...)
	s.unknownLog = append(s.unknownLog, tx.unknown...)
	return nil
}

// memTx runs with s.mu held.
type memTx struct {
	s       *Store
	access  []store.AccessLogEntry
	unknown []store.UnknownCredentialLogEntry
}

func (t *memTx) FindReader(_ context.Context, identifier string) (store.Reader, bool, error) {
	for _, r := range t.s.readers {
		if r.Identifier == identifier {
			return r, true, nil
		}
	}
	return store.Reader{}, false, nil
}

func (t *memTx) FindUserByChip(_ context.Context, chip credential.ChipID) (store.User, bool, error) {
	trimmed := strings.TrimLeft(string(chip), "0")

	var (
		best  store.User
		found bool
	)
	for _, u := range t.s.users {
		if u.ChipNumber == "" {
			continue
		}
		if u.ChipNumber != string(chip) && strings.TrimLeft(u.ChipNumber, "0") != trimmed {
			continue
		}
		if !found || u.ID < best.ID {
			best, found = u, true
		}
	}
	return best, found, nil
}

func (t *memTx) LoadPolicy(_ context.Context, userID int64) (policy.Snapshot, error) {
	if t.s.failPolicy != nil {
		return policy.Snapshot{}, t.s.failPolicy
	}

	member := make(map[int64]bool)
	var snap policy.Snapshot
	for _, m := range t.s.memberships {
		if m.UserID == userID {
			member[m.GroupID] = true
			snap.Memberships = append(snap.Memberships, m)
		}
	}
	for _, g := range t.s.groups {
		if member[g.ID] {
			snap.Groups = append(snap.Groups, g)
		}
	}
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].ID < snap.Groups[j].ID })
	for _, b := range t.s.bindings {
		if member[b.GroupID] {
			snap.Bindings = append(snap.Bindings, b)
		}
	}
	return snap, nil
}

func (t *memTx) AppendAccessLog(_ context.Context, e store.AccessLogEntry) error {
	if t.s.failAudit != nil {
		return t.s.failAudit
	}
	t.access = append(t.access, e)
	return nil
}

func (t *memTx) AppendUnknownLog(_ context.Context, e store.UnknownCredentialLogEntry) error {
	if t.s.failAudit != nil {
		return t.s.failAudit
	}
	t.unknown = append(t.unknown, e)
	return nil
}
