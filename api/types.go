package api

import (
	"context"

	"fieldtask-api/domain"
)

// Orchestrator is the task state machine consumed by the handlers.
type Orchestrator interface {
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	Accept(ctx context.Context, cmd domain.AcceptCommand) (*domain.Task, error)
	StartJourney(ctx context.Context, cmd domain.StartJourneyCommand) (*domain.Task, error)
	MarkArrived(ctx context.Context, cmd domain.MarkArrivedCommand) (*domain.Task, error)
	StartWork(ctx context.Context, cmd domain.StartWorkCommand) (*domain.Task, error)
	SubmitWork(ctx context.Context, cmd domain.SubmitWorkCommand) (*domain.Task, error)
	Dispute(ctx context.Context, cmd domain.DisputeCommand) (*domain.Task, error)
}

// Authenticator is implemented by types able to extract caller IDs from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of repeated commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, taskID, key string) (bool, error)
	// Remove deletes a previously added key, used when the command fails
	// so the caller may retry it.
	Remove(ctx context.Context, taskID, key string) error
}
