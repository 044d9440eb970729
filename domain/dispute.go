package domain

import "time"

// DisputeWindow is the fixed duration after verification during which
// the client may contest the outcome.
const DisputeWindow = 24 * time.Hour

// ComputeDisputeDeadline returns the last instant at which a dispute is
// still accepted for a task verified at the given time.
func ComputeDisputeDeadline(verifiedAt time.Time) time.Time {
	return verifiedAt.Add(DisputeWindow)
}

// DisputeOpen reports whether a dispute filed at now is still inside
// the window. The deadline itself is inclusive.
func DisputeOpen(now, deadline time.Time) bool {
	return !now.After(deadline)
}
