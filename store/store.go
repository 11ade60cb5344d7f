// Package store persists domain tasks and their results. The claim operation
// is the concurrency primitive: it atomically moves one pending task into
// stage1_in_progress so no two workers ever own the same task.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/validation"
)

// ErrNoTasks is returned by ClaimNextPending when no pending task exists.
var ErrNoTasks = errors.New("no pending tasks")

// ErrIllegalTransition is returned by UpdateStatus when the requested status
// is not a legal edge from the task's current status.
var ErrIllegalTransition = errors.New("illegal status transition")

// UpdateOption mutates auxiliary task fields together with the status change.
type UpdateOption func(*updateParams)

type updateParams struct {
	attemptCount  *int
	lastErrorKind *string
	stage1Result  *string
	completedAt   *time.Time
}

// WithAttemptCount persists the task's attempt counter.
func WithAttemptCount(n int) UpdateOption {
	return func(p *updateParams) { p.attemptCount = &n }
}

// WithLastError records the kind of the most recent failure.
func WithLastError(kind model.ErrorKind) UpdateOption {
	s := string(kind)
	return func(p *updateParams) { p.lastErrorKind = &s }
}

// WithStage1Result stores the stage-one text so a resumed task can skip
// straight to stage two.
func WithStage1Result(text string) UpdateOption {
	return func(p *updateParams) { p.stage1Result = &text }
}

// WithCompletedAt timestamps terminal transitions.
func WithCompletedAt(t time.Time) UpdateOption {
	return func(p *updateParams) { p.completedAt = &t }
}

// TaskSource is the storage boundary used by the scheduler and pipeline.
type TaskSource interface {
	// ClaimNextPending atomically claims one pending task, transitioning it
	// to stage1_in_progress. Returns ErrNoTasks when the queue is empty.
	ClaimNextPending(ctx context.Context) (*model.DomainTask, error)

	// UpdateStatus transitions the task, rejecting illegal edges with
	// ErrIllegalTransition.
	UpdateStatus(ctx context.Context, id string, status model.Status, opts ...UpdateOption) error

	// SaveResult persists the cleaned payload and validation issues and marks
	// the task validated.
	SaveResult(ctx context.Context, task *model.DomainTask, cleaned validation.Payload, issues []validation.Issue) error
}
