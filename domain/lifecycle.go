package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Repository is the single source of truth for tasks. Update must apply
// "read, check status expectation, mutate, write" as one conditional
// update: when the task's status is not in expected (or changes
// underneath the write), it returns a ConflictError instead of writing.
type Repository interface {
	Load(ctx context.Context, taskID string) (*Task, error)
	Update(ctx context.Context, taskID string, expected []TaskStatus, mutate func(*Task) error) (*Task, error)
}

// EffectRunner executes detached, failure-isolated side effects. Submit
// never blocks the caller beyond a short handoff and a false return
// only means the effect was dropped, never that the transition failed.
type EffectRunner interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Auditor records lifecycle milestones to the append-only ledger.
// Implementations never return an error; ok=false means the event was
// not recorded and has already been logged.
type Auditor interface {
	Record(ctx context.Context, kind, taskID string, fields map[string]any) (receipt string, ok bool)
}

// Notifier delivers best-effort push notifications.
type Notifier interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) bool
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) int
}

// Audit event kinds, one per lifecycle milestone.
const (
	EventTaskAccepted   = "task-accepted"
	EventJourneyStarted = "journey-started"
	EventArrived        = "arrived"
	EventWorkStarted    = "work-started"
	EventWorkSubmitted  = "after-images-submitted"
	EventVerified       = "verification-completed"
	EventDisputed       = "task-disputed"
)

// Lifecycle is the task state machine. It owns every write to a task's
// status and transition fields, checks preconditions, runs the
// state-owning side effect synchronously, persists through the
// repository's conditional update, and fires audit/notification as
// detached effects that can never roll the transition back.
type Lifecycle struct {
	repo     Repository
	proofs   *ProofCapture
	verifier *VerificationOrchestrator
	audit    Auditor
	notifier Notifier
	effects  EffectRunner
	logger   *log.Logger
	now      func() time.Time
}

func NewLifecycle(repo Repository, proofs *ProofCapture, verifier *VerificationOrchestrator, auditor Auditor, notifier Notifier, effects EffectRunner, logger *log.Logger) *Lifecycle {
	if repo == nil {
		panic("lifecycle requires a repository")
	}
	if proofs == nil {
		panic("lifecycle requires proof capture")
	}
	if verifier == nil {
		panic("lifecycle requires a verification orchestrator")
	}
	if effects == nil {
		panic("lifecycle requires an effect runner")
	}
	if logger == nil {
		panic("lifecycle requires a logger")
	}
	return &Lifecycle{
		repo:     repo,
		proofs:   proofs,
		verifier: verifier,
		audit:    auditor,
		notifier: notifier,
		effects:  effects,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Lifecycle) SetClock(now func() time.Time) { l.now = now }

// Get loads a task without touching its state.
func (l *Lifecycle) Get(ctx context.Context, taskID string) (*Task, error) {
	return l.repo.Load(ctx, taskID)
}

// Accept assigns the worker and moves OPEN -> ACCEPTED.
func (l *Lifecycle) Accept(ctx context.Context, cmd AcceptCommand) (*Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	task, err := l.update(ctx, cmd.TaskID, []TaskStatus{StatusOpen}, func(t *Task) error {
		if t.ClientID == cmd.WorkerID {
			return &SelfAssignmentError{TaskID: t.ID}
		}
		t.WorkerID = cmd.WorkerID
		t.Status = StatusAccepted
		t.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordEvent(EventTaskAccepted, task.ID, map[string]any{"workerId": cmd.WorkerID})
	l.push(task.ClientPushToken, "Task accepted",
		fmt.Sprintf("A worker accepted your task %s", task.ID),
		map[string]string{"taskId": task.ID, "event": EventTaskAccepted})
	return task, nil
}

// StartJourney moves ACCEPTED -> EN_ROUTE, recording the start point.
func (l *Lifecycle) StartJourney(ctx context.Context, cmd StartJourneyCommand) (*Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	task, err := l.update(ctx, cmd.TaskID, []TaskStatus{StatusAccepted}, func(t *Task) error {
		if err := requireWorker(t, cmd.WorkerID); err != nil {
			return err
		}
		if cmd.Coords != nil {
			c := *cmd.Coords
			t.StartCoords = &c
		}
		t.Status = StatusEnRoute
		t.JourneyStartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordEvent(EventJourneyStarted, task.ID, nil)
	return task, nil
}

// MarkArrived moves EN_ROUTE -> ARRIVED after a geofence check against
// the task location. SkipGeofence bypasses the check explicitly and is
// recorded in the audit trail.
func (l *Lifecycle) MarkArrived(ctx context.Context, cmd MarkArrivedCommand) (*Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	task, err := l.update(ctx, cmd.TaskID, []TaskStatus{StatusEnRoute}, func(t *Task) error {
		if err := requireWorker(t, cmd.WorkerID); err != nil {
			return err
		}
		if t.RequiresLocation() && !cmd.SkipGeofence {
			ok, dist := WithinRadius(cmd.Coords.Lat, cmd.Coords.Lng, t.Location.Lat, t.Location.Lng, t.Location.RadiusMeters)
			if !ok {
				return &GeofenceError{DistanceMeters: dist, RadiusMeters: t.Location.RadiusMeters}
			}
			t.LocationVerified = true
		}
		t.Status = StatusArrived
		t.ArrivedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordEvent(EventArrived, task.ID, map[string]any{"geofenceSkipped": cmd.SkipGeofence})
	l.push(task.ClientPushToken, "Worker arrived",
		fmt.Sprintf("The worker has arrived at task %s", task.ID),
		map[string]string{"taskId": task.ID, "event": EventArrived})
	return task, nil
}

// StartWork moves ACCEPTED|EN_ROUTE|ARRIVED -> IN_PROGRESS. When the
// task has a location and the check is not skipped, coordinates are
// mandatory and must pass the geofence.
func (l *Lifecycle) StartWork(ctx context.Context, cmd StartWorkCommand) (*Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	from := []TaskStatus{StatusAccepted, StatusEnRoute, StatusArrived}
	task, err := l.update(ctx, cmd.TaskID, from, func(t *Task) error {
		if err := requireWorker(t, cmd.WorkerID); err != nil {
			return err
		}
		if t.RequiresLocation() && !cmd.SkipGeofence {
			if cmd.Coords == nil {
				return validationErrorf("coordinates are required to start work on a located task")
			}
			ok, dist := WithinRadius(cmd.Coords.Lat, cmd.Coords.Lng, t.Location.Lat, t.Location.Lng, t.Location.RadiusMeters)
			if !ok {
				return &GeofenceError{DistanceMeters: dist, RadiusMeters: t.Location.RadiusMeters}
			}
			t.LocationVerified = true
		}
		t.Status = StatusInProgress
		t.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordEvent(EventWorkStarted, task.ID, map[string]any{"geofenceSkipped": cmd.SkipGeofence})
	l.push(task.ClientPushToken, "Work started",
		fmt.Sprintf("Work on your task %s has started", task.ID),
		map[string]string{"taskId": task.ID, "event": EventWorkStarted})
	return task, nil
}

// SubmitWork captures the after-images, runs AI verification and moves
// IN_PROGRESS -> VERIFIED in a single conditional write. SUBMITTED is a
// transient internal checkpoint, visible in the audit trail but never a
// caller-facing resting state, so the dispute deadline is always set
// atomically with VERIFIED. A verifier outage degrades the verdict to
// ERROR; it never fails the command.
func (l *Lifecycle) SubmitWork(ctx context.Context, cmd SubmitWorkCommand) (*Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	current, err := l.repo.Load(ctx, cmd.TaskID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusInProgress {
		return nil, &StateError{TaskID: cmd.TaskID, Current: current.Status, Expected: []TaskStatus{StatusInProgress}}
	}
	if err := requireWorker(current, cmd.WorkerID); err != nil {
		return nil, err
	}
	if len(current.BeforeImages) == 0 {
		return nil, validationErrorf("task %s has no before-images; cannot verify completion", cmd.TaskID)
	}

	afterImages, err := l.proofs.Capture(ctx, cmd.AfterImages, "tasks/"+cmd.TaskID+"/after")
	if err != nil {
		return nil, fmt.Errorf("proof capture: %w", err)
	}
	l.recordEvent(EventWorkSubmitted, cmd.TaskID, map[string]any{
		"checkpoint": string(StatusSubmitted),
		"afterCount": len(afterImages),
	})

	result := l.verifier.Verify(ctx, imageURLs(current.BeforeImages), imageURLs(afterImages))

	now := l.now().UTC()
	deadline := ComputeDisputeDeadline(now)
	task, err := l.update(ctx, cmd.TaskID, []TaskStatus{StatusInProgress}, func(t *Task) error {
		if err := requireWorker(t, cmd.WorkerID); err != nil {
			return err
		}
		t.AfterImages = afterImages
		t.AIVerdict = result.Verdict
		t.AIConfidence = result.Confidence
		t.AIDetails = result.Details
		t.Status = StatusVerified
		t.VerifiedAt = &now
		t.CompletedAt = &now
		t.DisputeDeadline = &deadline
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordEvent(EventVerified, task.ID, map[string]any{
		"verdict":    string(result.Verdict),
		"confidence": result.Confidence,
	})
	l.multicast(task, "Task verified",
		fmt.Sprintf("Task %s was verified: %s", task.ID, result.Verdict),
		map[string]string{"taskId": task.ID, "event": EventVerified, "verdict": string(result.Verdict)})
	return task, nil
}

// Dispute moves VERIFIED -> DISPUTED when the client files inside the
// dispute window.
func (l *Lifecycle) Dispute(ctx context.Context, cmd DisputeCommand) (*Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	task, err := l.update(ctx, cmd.TaskID, []TaskStatus{StatusVerified}, func(t *Task) error {
		if t.ClientID != cmd.ClientID {
			return authorizationErrorf("only the client may dispute task %s", t.ID)
		}
		if t.DisputeDeadline == nil || !DisputeOpen(now, *t.DisputeDeadline) {
			var deadline time.Time
			if t.DisputeDeadline != nil {
				deadline = *t.DisputeDeadline
			}
			return &DisputeWindowClosedError{Deadline: deadline}
		}
		t.Disputed = true
		t.DisputeReason = cmd.Reason
		t.Status = StatusDisputed
		t.DisputedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordEvent(EventDisputed, task.ID, map[string]any{"reason": cmd.Reason})
	l.push(task.WorkerPushToken, "Task disputed",
		fmt.Sprintf("The client disputed task %s", task.ID),
		map[string]string{"taskId": task.ID, "event": EventDisputed})
	return task, nil
}

// update runs the conditional write and maps a lost status expectation
// to a caller-facing StateError.
func (l *Lifecycle) update(ctx context.Context, taskID string, expected []TaskStatus, mutate func(*Task) error) (*Task, error) {
	task, err := l.repo.Update(ctx, taskID, expected, mutate)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, &StateError{TaskID: taskID, Current: conflict.Current, Expected: expected}
		}
		return nil, err
	}
	return task, nil
}

func (l *Lifecycle) recordEvent(kind, taskID string, fields map[string]any) {
	if l.audit == nil {
		return
	}
	submitted := l.effects.Submit("audit:"+kind, func(ctx context.Context) error {
		if _, ok := l.audit.Record(ctx, kind, taskID, fields); !ok {
			return fmt.Errorf("audit event %s for task %s not recorded", kind, taskID)
		}
		return nil
	})
	if !submitted {
		l.logger.WithFields(log.Fields{"kind": kind, "task": taskID}).Warn("audit effect dropped")
	}
}

func (l *Lifecycle) push(token, title, body string, data map[string]string) {
	if l.notifier == nil || token == "" {
		return
	}
	submitted := l.effects.Submit("notify:"+data["event"], func(ctx context.Context) error {
		if !l.notifier.Send(ctx, token, title, body, data) {
			return fmt.Errorf("notification %s not delivered", data["event"])
		}
		return nil
	})
	if !submitted {
		l.logger.WithField("event", data["event"]).Warn("notification effect dropped")
	}
}

func (l *Lifecycle) multicast(t *Task, title, body string, data map[string]string) {
	if l.notifier == nil {
		return
	}
	tokens := make([]string, 0, 2)
	if t.ClientPushToken != "" {
		tokens = append(tokens, t.ClientPushToken)
	}
	if t.WorkerPushToken != "" {
		tokens = append(tokens, t.WorkerPushToken)
	}
	if len(tokens) == 0 {
		return
	}
	submitted := l.effects.Submit("notify:"+data["event"], func(ctx context.Context) error {
		if sent := l.notifier.SendMulticast(ctx, tokens, title, body, data); sent == 0 {
			return fmt.Errorf("notification %s reached no recipients", data["event"])
		}
		return nil
	})
	if !submitted {
		l.logger.WithField("event", data["event"]).Warn("notification effect dropped")
	}
}

func requireWorker(t *Task, workerID string) error {
	if t.WorkerID == "" || t.WorkerID != workerID {
		return authorizationErrorf("task %s is not assigned to worker %s", t.ID, workerID)
	}
	return nil
}

func imageURLs(images []ProofImage) []string {
	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
	}
	return urls
}
