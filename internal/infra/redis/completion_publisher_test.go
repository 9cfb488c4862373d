package redis

import (
	"context"
	"testing"
	"time"

	"attempt-ledger/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCompletionPublisherStoresAndCaps(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	pub := NewCompletionPublisher(newClient(mr), 2)
	ctx := context.Background()
	for attempt := 1; attempt <= 3; attempt++ {
		if err := pub.Notify(ctx, domain.CompletionSignal{UserID: "u1", TestNumber: 1, AttemptNumber: attempt}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	recent, err := pub.Recent(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].AttemptNumber != 3 || recent[1].AttemptNumber != 2 {
		t.Fatalf("expected newest two signals, got %+v", recent)
	}
}

func TestCompletionPublisherBroadcasts(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	pub := NewCompletionPublisher(newClient(mr), 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.CompletionSignal, 1)
	ready := make(chan struct{})
	go func() {
		_ = pub.Subscribe(ctx, func(s domain.CompletionSignal) { got <- s })
	}()
	go func() {
		// wait until the subscription is registered
		for len(mr.PubSubChannels("*")) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		close(ready)
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription never registered")
	}

	if err := pub.Notify(ctx, domain.CompletionSignal{UserID: "u2", TestNumber: 4, AttemptNumber: 7}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case s := <-got:
		if s.UserID != "u2" || s.AttemptNumber != 7 {
			t.Fatalf("unexpected signal %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no signal received")
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
