package stream

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"concord.chat/internal/leveling"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishFansOut(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	if err := s.NotifyLevelUp(ctx, leveling.LevelUpEvent{ID: "e1", Level: 3}); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan leveling.LevelUpEvent{a, b} {
		select {
		case ev := <-ch:
			if ev.ID != "e1" || ev.Level != 3 {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Publish(leveling.LevelUpEvent{Level: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	if s.Dropped() != 9 {
		t.Fatalf("expected 9 dropped deliveries, got %d", s.Dropped())
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("subscriber not removed: %d", n)
	}
}
