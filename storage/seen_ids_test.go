package storage

import (
	"testing"
	"time"
)

func TestMarkSeenReportsFirstSighting(t *testing.T) {
	store := newTestStore(t)

	fresh, err := store.MarkSeen("msg-1")
	if err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if !fresh {
		t.Fatalf("expected first MarkSeen to report a new id")
	}

	fresh, err = store.MarkSeen("msg-1")
	if err != nil {
		t.Fatalf("second MarkSeen failed: %v", err)
	}
	if fresh {
		t.Fatalf("expected repeated id to be reported as seen")
	}

	if _, err := store.MarkSeen(""); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
}

func TestPruneSeenForgetsOldIDs(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if _, err := store.markSeenAt("stale", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("markSeenAt stale failed: %v", err)
	}
	if _, err := store.markSeenAt("recent", now); err != nil {
		t.Fatalf("markSeenAt recent failed: %v", err)
	}

	pruned, err := store.PruneSeen(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneSeen failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned id, got %d", pruned)
	}

	fresh, err := store.MarkSeen("stale")
	if err != nil {
		t.Fatalf("MarkSeen stale failed: %v", err)
	}
	if !fresh {
		t.Fatalf("expected pruned id to be accepted again")
	}
	fresh, err = store.MarkSeen("recent")
	if err != nil {
		t.Fatalf("MarkSeen recent failed: %v", err)
	}
	if fresh {
		t.Fatalf("expected recent id to still suppress redelivery")
	}
}

func TestMaintainKeepsRetainedIDs(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.MarkSeen("keep"); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if err := store.Maintain(); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	fresh, err := store.MarkSeen("keep")
	if err != nil {
		t.Fatalf("MarkSeen after Maintain failed: %v", err)
	}
	if fresh {
		t.Fatalf("expected id within retention to survive maintenance")
	}
}
