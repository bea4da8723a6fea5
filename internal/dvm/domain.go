// Package dvm holds the job-lifecycle domain of the video-archive agent:
// the job record and its state machine, request intake, event routing with
// deduplication, the gift-wrap unwrap chain, and the status/result publisher.
package dvm

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds spoken by the agent.
const (
	KindJobRequest = 5205
	KindJobResult  = 6205
	KindJobStatus  = 7000
	KindGiftWrap   = 1059
	KindSeal       = 13
	KindDM         = 14
	KindVideo      = 34235
)

// Status values carried on kind 7000 events.
const (
	StatusPaymentRequired = "payment-required"
	StatusProcessing      = "processing"
	StatusPartial         = "partial"
	StatusError           = "error"
)

// ClientTag identifies this agent in published video events.
const ClientTag = "dvm-video-archive"

// JobState is the lifecycle state of a job.
type JobState string

const (
	StateIntakeRejected  JobState = "INTAKE_REJECTED"
	StatePaymentRequired JobState = "PAYMENT_REQUIRED"
	StatePaymentReceived JobState = "PAYMENT_RECEIVED"
	StateExecuting       JobState = "EXECUTING"
	StateCompleted       JobState = "COMPLETED"
	StateFailed          JobState = "FAILED"
)

// transitions is the only set of allowed state changes. INTAKE_REJECTED,
// COMPLETED and FAILED are terminal; no state permits re-entry.
var transitions = map[JobState][]JobState{
	StatePaymentRequired: {StatePaymentReceived},
	StatePaymentReceived: {StateExecuting},
	StateExecuting:       {StateCompleted, StateFailed},
}

var (
	// ErrNoInput is returned when a request carries no input tag.
	ErrNoInput = errors.New("request has no input")

	// ErrUnknownInputType is returned for inputs that are not direct URLs.
	ErrUnknownInputType = errors.New("unknown input type")

	// ErrInvalidThumbnailCount is returned when the thumbnailCount param is
	// not an integer in [1,10].
	ErrInvalidThumbnailCount = errors.New("thumbnail count has to be between 1 and 10")

	// ErrInvalidTransition is returned for state changes outside the
	// transition table.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Job binds an accepted request to its target URL and lifecycle state. Its
// identity is the originating request's event id. Jobs live in memory only;
// a restart loses in-flight jobs.
type Job struct {
	// Request is the decrypted originating request event.
	Request nostr.Event

	// URL is the validated acquisition target.
	URL string

	// Encrypted records whether the request arrived confidentially wrapped.
	// Responses inherit this flag.
	Encrypted bool

	// ThumbnailCount is the accepted thumbnailCount parameter (default 3).
	ThumbnailCount int

	State JobState
}

// ID returns the job's identity: the originating request event id.
func (j *Job) ID() string { return j.Request.ID }

// Requester returns the pubkey that signed the originating request.
func (j *Job) Requester() string { return j.Request.PubKey }

// Transition moves the job to the given state, rejecting any change not in
// the allowed table.
func (j *Job) Transition(to JobState) error {
	for _, allowed := range transitions[j.State] {
		if allowed == to {
			j.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
}
