package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle position of a task. Transitions only move
// forward along the command table; the single backward edge is
// VERIFIED -> DISPUTED inside the dispute window.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusAccepted   TaskStatus = "ACCEPTED"
	StatusEnRoute    TaskStatus = "EN_ROUTE"
	StatusArrived    TaskStatus = "ARRIVED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusSubmitted  TaskStatus = "SUBMITTED"
	StatusVerified   TaskStatus = "VERIFIED"
	StatusDisputed   TaskStatus = "DISPUTED"
)

// IsValid reports whether the status is one of the known lifecycle states.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusAccepted, StatusEnRoute, StatusArrived,
		StatusInProgress, StatusSubmitted, StatusVerified, StatusDisputed:
		return true
	default:
		return false
	}
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is the geofenced work site of a task. A task without a
// location requires no proximity checks at all.
type Location struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// ProofImage is one uploaded proof photo together with the SHA-256 of
// the exact bytes that were stored.
type ProofImage struct {
	URL         string `json:"url"`
	ContentHash string `json:"contentHash"`
}

// ProofFile is a raw image handed in by the worker, not yet uploaded.
type ProofFile struct {
	Name string
	Data []byte
}

// Task is the unit of gig work moving through the lifecycle.
type Task struct {
	ID       string     `json:"id"`
	ClientID string     `json:"clientId"`
	WorkerID string     `json:"workerId,omitempty"`
	Budget   float64    `json:"budget"`
	Status   TaskStatus `json:"status"`
	Location *Location  `json:"location,omitempty"`

	BeforeImages []ProofImage `json:"beforeImages,omitempty"`
	AfterImages  []ProofImage `json:"afterImages,omitempty"`

	AIVerdict    Verdict           `json:"aiVerdict,omitempty"`
	AIConfidence float64           `json:"aiConfidence,omitempty"`
	AIDetails    []json.RawMessage `json:"aiDetails,omitempty"`

	DisputeDeadline *time.Time `json:"disputeDeadline,omitempty"`
	Disputed        bool       `json:"disputed,omitempty"`
	DisputeReason   string     `json:"disputeReason,omitempty"`

	// LocationVerified is set only when a geofence check actually passed,
	// never when the caller skipped it.
	LocationVerified bool         `json:"locationVerified,omitempty"`
	StartCoords      *Coordinates `json:"startCoords,omitempty"`

	ClientPushToken string `json:"clientPushToken,omitempty"`
	WorkerPushToken string `json:"workerPushToken,omitempty"`

	CreatedAt        time.Time  `json:"createdAt"`
	AcceptedAt       *time.Time `json:"acceptedAt,omitempty"`
	JourneyStartedAt *time.Time `json:"journeyStartedAt,omitempty"`
	ArrivedAt        *time.Time `json:"arrivedAt,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	VerifiedAt       *time.Time `json:"verifiedAt,omitempty"`
	DisputedAt       *time.Time `json:"disputedAt,omitempty"`
}

// RequiresLocation reports whether geofence checks apply to this task.
func (t *Task) RequiresLocation() bool {
	return t.Location != nil
}
