package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/memory"
)

func TestStore_InTx_DiscardsWritesOnError(t *testing.T) {
	s := memory.New()
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.EventTx) error {
		if err := tx.AppendUnknownLog(ctx, store.UnknownCredentialLogEntry{Time: time.Now(), Text: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(s.UnknownLog()); n != 0 {
		t.Errorf("expected no committed rows, got %d", n)
	}
}

func TestStore_FindUserByChip_PaddingTolerant(t *testing.T) {
	s := memory.New()
	s.AddUser(store.User{ID: 3, ChipNumber: "777"})
	s.AddUser(store.User{ID: 2, ChipNumber: "0000000777"})

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.EventTx) error {
		u, ok, err := tx.FindUserByChip(ctx, credential.Canonical(777))
		if err != nil {
			return err
		}
		if !ok || u.ID != 2 {
			t.Errorf("expected lowest id 2, got %+v ok=%v", u, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestStore_InTx_CancelledContext(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.InTx(ctx, func(ctx context.Context, tx store.EventTx) error {
		t.Error("callback must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
