package domain

import (
	"testing"
	"time"
)

func TestComputeDisputeDeadline(t *testing.T) {
	verifiedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	deadline := ComputeDisputeDeadline(verifiedAt)
	if got := deadline.Sub(verifiedAt); got != 24*time.Hour {
		t.Fatalf("expected a 24h window, got %v", got)
	}
}

func TestDisputeOpenInclusiveDeadline(t *testing.T) {
	deadline := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	if !DisputeOpen(deadline.Add(-time.Hour), deadline) {
		t.Fatal("expected window open before the deadline")
	}
	if !DisputeOpen(deadline, deadline) {
		t.Fatal("expected the deadline itself to be inside the window")
	}
	if DisputeOpen(deadline.Add(time.Second), deadline) {
		t.Fatal("expected window closed one second past the deadline")
	}
}
