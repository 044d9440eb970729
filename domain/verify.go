package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// Verdict is the categorical outcome of AI verification.
type Verdict string

const (
	VerdictFixed    Verdict = "FIXED"
	VerdictNotFixed Verdict = "NOT_FIXED"
	VerdictPartial  Verdict = "PARTIAL"
	VerdictNoDefect Verdict = "NO_DEFECT"
	VerdictError    Verdict = "ERROR"
)

// AIVerifier is the remote verification service. Analyze sends the full
// before/after batch in one call and may time out or fail.
type AIVerifier interface {
	Analyze(ctx context.Context, beforeURLs, afterURLs []string) (*RawVerificationResponse, error)
}

// RawDefect is one per-defect result from the verifier. Detail keeps the
// original record byte-for-byte so downstream display never loses fields
// this service does not understand.
type RawDefect struct {
	Fixed      bool
	Confidence float64
	Detail     json.RawMessage
}

func (d *RawDefect) UnmarshalJSON(b []byte) error {
	var aux struct {
		Fixed      bool    `json:"fixed"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.Fixed = aux.Fixed
	d.Confidence = aux.Confidence
	d.Detail = append(json.RawMessage(nil), b...)
	return nil
}

// RawVerificationResponse is the verifier's wire answer. The results
// field is normalized here: the service historically returned a single
// object for one-defect tasks and a list otherwise.
type RawVerificationResponse struct {
	NoDefects bool
	Verdict   string
	Defects   []RawDefect
}

func (r *RawVerificationResponse) UnmarshalJSON(b []byte) error {
	var aux struct {
		NoDefects bool            `json:"noDefects"`
		Verdict   string          `json:"verdict"`
		Results   json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.NoDefects = aux.NoDefects
	r.Verdict = aux.Verdict
	r.Defects = nil

	trimmed := bytes.TrimSpace(aux.Results)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '{' {
		var single RawDefect
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		r.Defects = []RawDefect{single}
		return nil
	}
	return json.Unmarshal(trimmed, &r.Defects)
}

// VerificationResult is the aggregated verdict written to the task.
type VerificationResult struct {
	Verified   bool
	Verdict    Verdict
	Confidence float64
	Details    []json.RawMessage
}

// DefaultVerifyTimeout bounds one multi-image verification batch.
const DefaultVerifyTimeout = 2 * time.Minute

// VerificationOrchestrator aggregates per-defect verifier results into
// one verdict. A transport failure degrades to an ERROR verdict instead
// of failing the caller: the images and the dispute clock must still be
// recorded even when the verifier is down.
type VerificationOrchestrator struct {
	verifier AIVerifier
	timeout  time.Duration
	logger   *log.Logger
}

func NewVerificationOrchestrator(v AIVerifier, timeout time.Duration, logger *log.Logger) *VerificationOrchestrator {
	if v == nil {
		panic("verification orchestrator requires a verifier")
	}
	if logger == nil {
		panic("verification orchestrator requires a logger")
	}
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	return &VerificationOrchestrator{verifier: v, timeout: timeout, logger: logger}
}

// Verify runs one batched verification call. It never returns an error.
func (o *VerificationOrchestrator) Verify(ctx context.Context, beforeURLs, afterURLs []string) VerificationResult {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.verifier.Analyze(ctx, beforeURLs, afterURLs)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"before": len(beforeURLs),
			"after":  len(afterURLs),
		}).Error("ai verification unavailable, degrading to ERROR verdict")
		return VerificationResult{Verified: false, Verdict: VerdictError, Confidence: 0}
	}

	if resp.NoDefects {
		return VerificationResult{Verified: true, Verdict: VerdictNoDefect, Confidence: 1.0}
	}

	details := make([]json.RawMessage, 0, len(resp.Defects))
	allFixed := len(resp.Defects) > 0
	var confSum float64
	for _, d := range resp.Defects {
		if !d.Fixed {
			allFixed = false
		}
		confSum += d.Confidence
		details = append(details, d.Detail)
	}

	confidence := 0.0
	if len(resp.Defects) > 0 {
		confidence = round2(confSum / float64(len(resp.Defects)))
	}

	verdict := VerdictNotFixed
	if allFixed {
		verdict = VerdictFixed
	} else if Verdict(resp.Verdict) == VerdictPartial {
		verdict = VerdictPartial
	}

	return VerificationResult{
		Verified:   verdict == VerdictFixed,
		Verdict:    verdict,
		Confidence: confidence,
		Details:    details,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
