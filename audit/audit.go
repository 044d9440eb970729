// Package audit records lifecycle milestones to an external append-only
// ledger. Recording is strictly best-effort: a ledger outage is logged
// and swallowed, never surfaced to the primary workflow.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	log "github.com/sirupsen/logrus"
)

// Ledger is the append-only collaborator.
type Ledger interface {
	RecordEvent(ctx context.Context, kind, key string, fields map[string]any) (string, error)
}

// Recorder writes one event per lifecycle milestone.
type Recorder struct {
	ledger Ledger
	logger *log.Logger
}

// NewRecorder creates a Recorder. A nil ledger produces a recorder that
// silently skips, for deployments without an audit queue.
func NewRecorder(ledger Ledger, logger *log.Logger) *Recorder {
	if logger == nil {
		panic("audit recorder requires a logger")
	}
	return &Recorder{ledger: ledger, logger: logger}
}

// Record submits one event. The deterministic key makes repeated
// recordings of the same milestone for the same task identifiable in
// the ledger. It never returns an error; ok=false means the event was
// not recorded and the cause has been logged.
func (r *Recorder) Record(ctx context.Context, kind, taskID string, fields map[string]any) (string, bool) {
	if r == nil || r.ledger == nil {
		return "", false
	}
	receipt, err := r.ledger.RecordEvent(ctx, kind, EventKey(kind, taskID), fields)
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"kind": kind,
			"task": taskID,
		}).Warn("audit event not recorded")
		return "", false
	}
	return receipt, true
}

// EventKey derives the deterministic ledger key for a milestone.
func EventKey(kind, taskID string) string {
	sum := sha256.Sum256([]byte(kind + ":" + taskID))
	return hex.EncodeToString(sum[:])
}
