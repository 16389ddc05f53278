package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBus_InjectReachesMatchingSubscription(t *testing.T) {
	b := New()
	ctx := context.Background()

	if _, err := b.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch, err := b.Subscribe(ctx, "#", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if !b.Inject("FRONTDOOR", []byte("12345")) {
		t.Fatal("inject matched no subscription")
	}
	msg := <-ch
	if msg.Topic != "FRONTDOOR" || string(msg.Payload) != "12345" {
		t.Errorf("got %+v", msg)
	}
}

func TestBus_DropFiresLostOnce(t *testing.T) {
	b := New()
	lost, err := b.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	boom := errors.New("eof")
	b.Drop(boom)
	b.Drop(boom)

	select {
	case got := <-lost:
		if !errors.Is(got, boom) {
			t.Errorf("lost = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("lost channel never fired")
	}
	if b.Inject("FRONTDOOR", []byte("1")) {
		t.Error("inject after drop should not deliver")
	}
}

func TestBus_FailConnects(t *testing.T) {
	b := New()
	b.FailConnects(2)

	for i := 0; i < 2; i++ {
		if _, err := b.Connect(context.Background()); !errors.Is(err, ErrBrokerDown) {
			t.Fatalf("attempt %d: expected ErrBrokerDown, got %v", i, err)
		}
	}
	if _, err := b.Connect(context.Background()); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if got := b.Connects(); got != 3 {
		t.Errorf("connects = %d, want 3", got)
	}
}
