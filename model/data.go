// Package model defines the core data types shared by the analyzer components.
package model

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a DomainTask. Transitions form a
// state machine: tasks only move along the edges returned by CanTransitionTo,
// and terminal states are never left.
type Status string

const (
	// StatusPending indicates the task is eligible for claiming.
	StatusPending Status = "pending"
	// StatusStage1InProgress indicates a worker holds the task and is running
	// the content-retrieval call.
	StatusStage1InProgress Status = "stage1_in_progress"
	// StatusStage1Done indicates the content-retrieval call succeeded.
	StatusStage1Done Status = "stage1_done"
	// StatusStage2InProgress indicates the structured-classification call is running.
	StatusStage2InProgress Status = "stage2_in_progress"
	// StatusStage2Done indicates the classification call succeeded and the
	// payload awaits validation.
	StatusStage2Done Status = "stage2_done"
	// StatusValidated is the terminal success state.
	StatusValidated Status = "validated"
	// StatusFailed is the terminal state for non-retryable failures.
	StatusFailed Status = "failed"
	// StatusDeadLetter is the terminal state for tasks that exhausted their
	// retry budget.
	StatusDeadLetter Status = "dead_letter"
)

// IsTerminal reports whether the status is one a task never leaves.
func (s Status) IsTerminal() bool {
	return s == StatusValidated || s == StatusFailed || s == StatusDeadLetter
}

// CanTransitionTo reports whether moving from s to next is a legal edge of
// the task state machine. The reset edge back to pending is the explicit
// retry-reset used when an in-progress task is returned to the queue.
func (s Status) CanTransitionTo(next Status) bool {
	edges := map[Status][]Status{
		StatusPending:          {StatusStage1InProgress},
		StatusStage1InProgress: {StatusStage1Done, StatusFailed, StatusDeadLetter, StatusPending},
		StatusStage1Done:       {StatusStage2InProgress},
		StatusStage2InProgress: {StatusStage2Done, StatusFailed, StatusDeadLetter, StatusPending},
		StatusStage2Done:       {StatusValidated, StatusFailed},
	}
	for _, e := range edges[s] {
		if e == next {
			return true
		}
	}
	return false
}

// DomainTask is the unit of work: one website domain to analyze through the
// two-stage pipeline. A task is created once, mutated only by the scheduler
// and pipeline, and reaches exactly one terminal status.
type DomainTask struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	TargetURI string `json:"target_uri"`
	Status    Status `json:"status"`

	// SegmentHint is the expected domain segmentation, used by validation to
	// cross-check the classifier's echo of the segments.
	SegmentHint string `json:"segment_hint,omitempty"`

	AttemptCount  int    `json:"attempt_count"`
	LastErrorKind string `json:"last_error_kind,omitempty"`

	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Stage1Result holds the site content summary returned by the first AI
	// call. Opaque to the orchestrator beyond the quality gates.
	Stage1Result string `json:"stage1_result,omitempty"`
	// Stage2Result holds the raw structured classification payload.
	Stage2Result json.RawMessage `json:"stage2_result,omitempty"`
}
