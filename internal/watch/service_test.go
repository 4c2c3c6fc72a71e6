package watch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubscribeValidatesJobID(t *testing.T) {
	svc := newTestService(t, newStubOracle(""), &stubDialer{}, time.Hour)

	for _, jobID := range []string{"", "   ", "\t"} {
		if _, err := svc.Subscribe(context.Background(), jobID); !errors.Is(err, ErrJobIDRequired) {
			t.Fatalf("Subscribe(%q) err = %v, want ErrJobIDRequired", jobID, err)
		}
	}
}

func TestSubscribeReturnsExistingSubscription(t *testing.T) {
	svc := newTestService(t, newStubOracle("42"), &stubDialer{}, time.Hour)

	first, err := svc.Subscribe(context.Background(), "42")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	second, err := svc.Subscribe(context.Background(), " 42 ")
	if err != nil {
		t.Fatalf("repeat subscribe failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the same subscription for the same job")
	}
	if _, exists := svc.Get("42"); !exists {
		t.Fatal("subscription not registered")
	}
}

func TestUnsubscribeRemovesAndCloses(t *testing.T) {
	fetcher := newStubOracle("42")
	dialer := &stubDialer{}
	svc := newTestService(t, fetcher, dialer, time.Hour)

	if _, err := svc.Subscribe(context.Background(), "42"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 }) {
		t.Fatal("transport never connected")
	}

	if !svc.Unsubscribe("42") {
		t.Fatal("unsubscribe reported no subscription")
	}
	if svc.Unsubscribe("42") {
		t.Fatal("second unsubscribe reported a subscription")
	}
	if _, exists := svc.Snapshot("42"); exists {
		t.Fatal("snapshot available after unsubscribe")
	}

	select {
	case <-dialer.conn(0).closed:
	default:
		t.Fatal("transport left open after unsubscribe")
	}
}

func TestSnapshotsOrderedByJobID(t *testing.T) {
	svc := newTestService(t, newStubOracle(""), &stubDialer{}, time.Hour)

	for _, jobID := range []string{"charlie", "alpha", "bravo"} {
		if _, err := svc.Subscribe(context.Background(), jobID); err != nil {
			t.Fatalf("subscribe %s failed: %v", jobID, err)
		}
	}

	views := svc.Snapshots()
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if views[i].JobID != want {
			t.Fatalf("views[%d].JobID = %s, want %s", i, views[i].JobID, want)
		}
	}
}

func TestResyncAllKicksEverySubscription(t *testing.T) {
	fetcher := newStubOracle("42")
	svc := newTestService(t, fetcher, &stubDialer{}, time.Hour)

	if _, err := svc.Subscribe(context.Background(), "42"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	// Let the startup tick land so the sweep's effect is unambiguous.
	if !waitFor(t, time.Second, func() bool { return fetcher.fetchCount() == 1 }) {
		t.Fatal("startup reconcile tick never ran")
	}

	svc.ResyncAll()
	if !waitFor(t, time.Second, func() bool { return fetcher.fetchCount() == 2 }) {
		t.Fatalf("sweep did not force a tick, fetches = %d", fetcher.fetchCount())
	}
}
