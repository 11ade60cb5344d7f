package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/validation"
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_tasks (
	id              TEXT PRIMARY KEY,
	domain          TEXT NOT NULL,
	target_uri      TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	segment_hint    TEXT NOT NULL DEFAULT '',
	attempt_count   INT  NOT NULL DEFAULT 0,
	last_error_kind TEXT NOT NULL DEFAULT '',
	stage1_result   TEXT NOT NULL DEFAULT '',
	stage2_result   JSONB,
	issues          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	assigned_at     TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS domain_tasks_status_idx ON domain_tasks (status, created_at);
`

// PostgresStore implements TaskSource on a pgx connection pool. The claim
// uses FOR UPDATE SKIP LOCKED so concurrent workers never contend on the same
// row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies reachability and ensures the schema.
// An unreachable store is a fatal startup error for the orchestrator.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	log.Info().Msg("Task store connected")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ClaimNextPending implements TaskSource.
func (s *PostgresStore) ClaimNextPending(ctx context.Context) (*model.DomainTask, error) {
	const q = `
UPDATE domain_tasks SET status = $1, assigned_at = now()
WHERE id = (
	SELECT id FROM domain_tasks
	WHERE status = $2
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, domain, target_uri, status, segment_hint, attempt_count,
          last_error_kind, stage1_result, assigned_at`

	var task model.DomainTask
	err := s.pool.QueryRow(ctx, q, model.StatusStage1InProgress, model.StatusPending).Scan(
		&task.ID, &task.Domain, &task.TargetURI, &task.Status, &task.SegmentHint,
		&task.AttemptCount, &task.LastErrorKind, &task.Stage1Result, &task.AssignedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTasks
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	return &task, nil
}

// UpdateStatus implements TaskSource. The transition check runs inside the
// update statement itself so the edge is enforced against the stored status,
// not a possibly stale in-memory one.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status model.Status, opts ...UpdateOption) error {
	var params updateParams
	for _, opt := range opts {
		opt(&params)
	}

	sets := []string{"status = $2"}
	args := []any{id, status}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if params.attemptCount != nil {
		add("attempt_count", *params.attemptCount)
	}
	if params.lastErrorKind != nil {
		add("last_error_kind", *params.lastErrorKind)
	}
	if params.stage1Result != nil {
		add("stage1_result", *params.stage1Result)
	}
	if params.completedAt != nil {
		add("completed_at", *params.completedAt)
	}

	args = append(args, legalSources(status))
	q := fmt.Sprintf(
		"UPDATE domain_tasks SET %s WHERE id = $1 AND status = ANY($%d)",
		strings.Join(sets, ", "), len(args),
	)

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s to %s: %w", id, status, ErrIllegalTransition)
	}
	return nil
}

// SaveResult implements TaskSource.
func (s *PostgresStore) SaveResult(ctx context.Context, task *model.DomainTask, cleaned validation.Payload, issues []validation.Issue) error {
	payload, err := json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("marshaling cleaned payload: %w", err)
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("marshaling issues: %w", err)
	}

	const q = `
UPDATE domain_tasks
SET status = $2, stage2_result = $3, issues = $4, completed_at = $5
WHERE id = $1 AND status = ANY($6)`

	tag, err := s.pool.Exec(ctx, q, task.ID, model.StatusValidated,
		payload, issuesJSON, time.Now().UTC(), legalSources(model.StatusValidated))
	if err != nil {
		return fmt.Errorf("saving result for %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s to %s: %w", task.ID, model.StatusValidated, ErrIllegalTransition)
	}
	return nil
}

// Enqueue inserts a new pending task. Used by the seeding command.
func (s *PostgresStore) Enqueue(ctx context.Context, task *model.DomainTask) error {
	const q = `
INSERT INTO domain_tasks (id, domain, target_uri, status, segment_hint)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, task.ID, task.Domain, task.TargetURI, model.StatusPending, task.SegmentHint)
	if err != nil {
		return fmt.Errorf("enqueueing task for %s: %w", task.Domain, err)
	}
	return nil
}

// legalSources lists the statuses a task may hold immediately before moving
// to the target. Keeps the SQL guard aligned with Status.CanTransitionTo.
func legalSources(target model.Status) []string {
	all := []model.Status{
		model.StatusPending, model.StatusStage1InProgress, model.StatusStage1Done,
		model.StatusStage2InProgress, model.StatusStage2Done,
	}
	var sources []string
	for _, s := range all {
		if s.CanTransitionTo(target) {
			sources = append(sources, string(s))
		}
	}
	return sources
}
