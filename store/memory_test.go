package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/validation"
)

func TestClaimNextPending(t *testing.T) {
	s := NewMemoryStore()
	s.Enqueue(&model.DomainTask{Domain: "first.com"})
	s.Enqueue(&model.DomainTask{Domain: "second.com"})

	ctx := context.Background()

	task, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first.com", task.Domain)
	assert.Equal(t, model.StatusStage1InProgress, task.Status)
	assert.NotNil(t, task.AssignedAt)

	task, err = s.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second.com", task.Domain)

	_, err = s.ClaimNextPending(ctx)
	assert.ErrorIs(t, err, ErrNoTasks)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	s := NewMemoryStore()
	const n = 20
	for i := 0; i < n; i++ {
		s.Enqueue(&model.DomainTask{Domain: "site.com"})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[string]int)

	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.ClaimNextPending(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			claimed[task.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, n)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "task %s claimed more than once", id)
	}
}

func TestUpdateStatusEnforcesEdges(t *testing.T) {
	s := NewMemoryStore()
	task := &model.DomainTask{Domain: "site.com"}
	s.Enqueue(task)

	ctx := context.Background()

	// pending -> stage2_done is not an edge.
	err := s.UpdateStatus(ctx, task.ID, model.StatusStage2Done)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, claimed.ID, model.StatusStage1Done,
		WithStage1Result("content analysis text"), WithAttemptCount(1)))

	got, ok := s.Get(claimed.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusStage1Done, got.Status)
	assert.Equal(t, "content analysis text", got.Stage1Result)
	assert.Equal(t, 1, got.AttemptCount)

	// Terminal states reject further transitions.
	require.NoError(t, s.UpdateStatus(ctx, claimed.ID, model.StatusStage2InProgress))
	require.NoError(t, s.UpdateStatus(ctx, claimed.ID, model.StatusFailed, WithLastError(model.KindTimeout)))
	err = s.UpdateStatus(ctx, claimed.ID, model.StatusPending)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSaveResult(t *testing.T) {
	s := NewMemoryStore()
	task := &model.DomainTask{Domain: "site.com"}
	s.Enqueue(task)

	ctx := context.Background()
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, claimed.ID, model.StatusStage1Done))
	require.NoError(t, s.UpdateStatus(ctx, claimed.ID, model.StatusStage2InProgress))
	require.NoError(t, s.UpdateStatus(ctx, claimed.ID, model.StatusStage2Done))

	cleaned := validation.Payload{
		Summary:       "Payment aggregator providing checkout services.",
		SearchPhrases: "payment aggregation, online checkout",
	}
	issues := []validation.Issue{{Field: "cms_platform", Detail: "scrubbed"}}
	require.NoError(t, s.SaveResult(ctx, claimed, cleaned, issues))

	got, ok := s.Get(claimed.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusValidated, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.NotEmpty(t, got.Stage2Result)
	assert.Equal(t, issues, s.Issues(claimed.ID))
}

func TestSaveResultRejectsWrongState(t *testing.T) {
	s := NewMemoryStore()
	task := &model.DomainTask{Domain: "site.com"}
	s.Enqueue(task)

	claimed, err := s.ClaimNextPending(context.Background())
	require.NoError(t, err)

	// stage1_in_progress cannot jump straight to validated.
	err = s.SaveResult(context.Background(), claimed, validation.Payload{Summary: "x", SearchPhrases: "y"}, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}
