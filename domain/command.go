package domain

import "strings"

// Commands are tagged variants, one per transition, each carrying only
// the fields its transition needs. They are validated before the state
// machine sees them.

// AcceptCommand moves OPEN -> ACCEPTED, assigning the worker.
type AcceptCommand struct {
	TaskID   string
	WorkerID string
}

func (c AcceptCommand) Validate() error {
	if c.TaskID == "" {
		return validationErrorf("task id is required")
	}
	if c.WorkerID == "" {
		return validationErrorf("worker id is required")
	}
	return nil
}

// StartJourneyCommand moves ACCEPTED -> EN_ROUTE. Coordinates are
// optional and recorded as the journey start point when present.
type StartJourneyCommand struct {
	TaskID   string
	WorkerID string
	Coords   *Coordinates
}

func (c StartJourneyCommand) Validate() error {
	if c.TaskID == "" {
		return validationErrorf("task id is required")
	}
	if c.WorkerID == "" {
		return validationErrorf("worker id is required")
	}
	return nil
}

// MarkArrivedCommand moves EN_ROUTE -> ARRIVED after a geofence check.
// SkipGeofence is an explicit, audited testing override.
type MarkArrivedCommand struct {
	TaskID       string
	WorkerID     string
	Coords       Coordinates
	SkipGeofence bool
}

func (c MarkArrivedCommand) Validate() error {
	if c.TaskID == "" {
		return validationErrorf("task id is required")
	}
	if c.WorkerID == "" {
		return validationErrorf("worker id is required")
	}
	return nil
}

// StartWorkCommand moves ACCEPTED|EN_ROUTE|ARRIVED -> IN_PROGRESS.
type StartWorkCommand struct {
	TaskID       string
	WorkerID     string
	Coords       *Coordinates
	SkipGeofence bool
}

func (c StartWorkCommand) Validate() error {
	if c.TaskID == "" {
		return validationErrorf("task id is required")
	}
	if c.WorkerID == "" {
		return validationErrorf("worker id is required")
	}
	return nil
}

// SubmitWorkCommand moves IN_PROGRESS -> VERIFIED through the internal
// SUBMITTED checkpoint. After-images are mandatory.
type SubmitWorkCommand struct {
	TaskID      string
	WorkerID    string
	AfterImages []ProofFile
}

func (c SubmitWorkCommand) Validate() error {
	if c.TaskID == "" {
		return validationErrorf("task id is required")
	}
	if c.WorkerID == "" {
		return validationErrorf("worker id is required")
	}
	if len(c.AfterImages) == 0 {
		return validationErrorf("at least one after-image is required")
	}
	for i, f := range c.AfterImages {
		if len(f.Data) == 0 {
			return validationErrorf("after-image %d is empty", i)
		}
	}
	return nil
}

// DisputeCommand moves VERIFIED -> DISPUTED within the dispute window.
type DisputeCommand struct {
	TaskID   string
	ClientID string
	Reason   string
}

func (c DisputeCommand) Validate() error {
	if c.TaskID == "" {
		return validationErrorf("task id is required")
	}
	if c.ClientID == "" {
		return validationErrorf("client id is required")
	}
	if strings.TrimSpace(c.Reason) == "" {
		return validationErrorf("dispute reason is required")
	}
	return nil
}
