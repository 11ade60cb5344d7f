package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/validation"
)

// MemoryStore is an in-process TaskSource used for dry runs and tests. It
// enforces the same claim and transition semantics as the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*model.DomainTask
	order []string

	// Issues keeps the validation issues recorded per task, keyed by ID.
	issues map[string][]validation.Issue
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*model.DomainTask),
		issues: make(map[string][]validation.Issue),
	}
}

// Enqueue adds a pending task. A missing ID is generated.
func (s *MemoryStore) Enqueue(task *model.DomainTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = model.StatusPending
	cp := *task
	s.tasks[task.ID] = &cp
	s.order = append(s.order, task.ID)
}

// ClaimNextPending implements TaskSource.
func (s *MemoryStore) ClaimNextPending(ctx context.Context) (*model.DomainTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != model.StatusPending {
			continue
		}
		t.Status = model.StatusStage1InProgress
		now := time.Now().UTC()
		t.AssignedAt = &now
		cp := *t
		return &cp, nil
	}
	return nil, ErrNoTasks
}

// UpdateStatus implements TaskSource.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status model.Status, opts ...UpdateOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var params updateParams
	for _, opt := range opts {
		opt(&params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if !t.Status.CanTransitionTo(status) {
		return fmt.Errorf("task %s from %s to %s: %w", id, t.Status, status, ErrIllegalTransition)
	}

	t.Status = status
	if params.attemptCount != nil {
		t.AttemptCount = *params.attemptCount
	}
	if params.lastErrorKind != nil {
		t.LastErrorKind = *params.lastErrorKind
	}
	if params.stage1Result != nil {
		t.Stage1Result = *params.stage1Result
	}
	if params.completedAt != nil {
		cp := *params.completedAt
		t.CompletedAt = &cp
	}
	return nil
}

// SaveResult implements TaskSource.
func (s *MemoryStore) SaveResult(ctx context.Context, task *model.DomainTask, cleaned validation.Payload, issues []validation.Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("marshaling cleaned payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %s not found", task.ID)
	}
	if !t.Status.CanTransitionTo(model.StatusValidated) {
		return fmt.Errorf("task %s from %s to %s: %w", task.ID, t.Status, model.StatusValidated, ErrIllegalTransition)
	}

	t.Status = model.StatusValidated
	t.Stage2Result = payload
	now := time.Now().UTC()
	t.CompletedAt = &now
	s.issues[task.ID] = issues
	return nil
}

// Get returns a copy of the task, for assertions.
func (s *MemoryStore) Get(id string) (*model.DomainTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Issues returns the validation issues recorded for the task.
func (s *MemoryStore) Issues(id string) []validation.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues[id]
}

// CountByStatus tallies tasks per status, for assertions and draining checks.
func (s *MemoryStore) CountByStatus() map[model.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Status]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}
