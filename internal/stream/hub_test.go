package stream

import (
	"context"
	"testing"
	"time"
)

func TestHubPublishesToSubscriber(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals, cleanup := hub.Subscribe(ctx, "restaurants")
	defer cleanup()

	hub.Publish("restaurants")

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatalf("expected a signal after publish")
	}
}

func TestHubIsolatesTopics(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restaurantSignals, restaurantCleanup := hub.Subscribe(ctx, "restaurants")
	defer restaurantCleanup()
	reviewSignals, reviewCleanup := hub.Subscribe(ctx, "reviews/1")
	defer reviewCleanup()

	hub.Publish("reviews/1")

	select {
	case <-reviewSignals:
	case <-time.After(time.Second):
		t.Fatalf("expected review subscriber to receive a signal")
	}

	select {
	case <-restaurantSignals:
		t.Fatalf("restaurant subscriber should not receive review signals")
	default:
	}
}

func TestHubCleanupStopsDelivery(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals, cleanup := hub.Subscribe(ctx, "restaurants")
	cleanup()

	hub.Publish("restaurants")

	select {
	case <-signals:
		t.Fatalf("expected no signal after cleanup")
	default:
	}
}

func TestHubEmptyTopicYieldsClosedChannel(t *testing.T) {
	hub := NewHub()
	signals, cleanup := hub.Subscribe(context.Background(), "")
	defer cleanup()

	if _, ok := <-signals; ok {
		t.Fatalf("expected closed channel for empty topic")
	}
}

func TestHubContextCancellationUnregisters(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	signals, _ := hub.Subscribe(ctx, "restaurants")
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		remaining := len(hub.subscribers["restaurants"])
		hub.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("restaurants")
	select {
	case <-signals:
		t.Fatalf("expected no signal after context cancellation")
	default:
	}
}
