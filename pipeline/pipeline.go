// Package pipeline drives one claimed task through the two analysis stages
// and validation. Attempts within a task are strictly sequential; every task
// ends in exactly one terminal status or is reset to pending on shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webscope-ai/domain-analyzer/aiclient"
	"github.com/webscope-ai/domain-analyzer/classify"
	"github.com/webscope-ai/domain-analyzer/metrics"
	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/policy"
	"github.com/webscope-ai/domain-analyzer/rotation"
	"github.com/webscope-ai/domain-analyzer/store"
	"github.com/webscope-ai/domain-analyzer/validation"
)

// minStage1Length is the threshold below which a stage-one response is
// triaged instead of accepted.
const minStage1Length = 200

var errShortResponse = errors.New("stage1 response too short to analyze")

// StageConfig configures model selection for one stage.
type StageConfig struct {
	Models        []string
	RetryModel    string
	FallbackAfter int
}

// Pipeline executes tasks. Safe for concurrent use; all mutable state is
// per-task.
type Pipeline struct {
	client  aiclient.Client
	rotator *rotation.Rotator
	policy  *policy.Policy
	source  store.TaskSource

	stage1 stage
	stage2 stage
}

// stage bundles the per-stage model rotation with the client call.
type stage struct {
	name          string
	cycle         *rotation.ModelCycle
	retryModel    string
	fallbackAfter int
	call          func(ctx context.Context, req aiclient.Request) (*aiclient.StageResult, error)
}

// New builds a pipeline.
func New(client aiclient.Client, rotator *rotation.Rotator, pol *policy.Policy, source store.TaskSource, s1, s2 StageConfig) *Pipeline {
	p := &Pipeline{
		client:  client,
		rotator: rotator,
		policy:  pol,
		source:  source,
	}
	p.stage1 = stage{
		name:          "stage1",
		cycle:         rotation.NewModelCycle(s1.Models),
		retryModel:    s1.RetryModel,
		fallbackAfter: s1.FallbackAfter,
		call:          client.AnalyzeContent,
	}
	p.stage2 = stage{
		name:          "stage2",
		cycle:         rotation.NewModelCycle(s2.Models),
		retryModel:    s2.RetryModel,
		fallbackAfter: s2.FallbackAfter,
		call:          client.ClassifyBusiness,
	}
	return p
}

// Run drives a freshly claimed task (stage1_in_progress) to a terminal
// status. On context cancellation the task is reset to pending so another
// run can pick it up; the reset itself uses a detached context.
func (p *Pipeline) Run(ctx context.Context, task *model.DomainTask) error {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	log.Debug().Str("domain", task.Domain).Str("task_id", task.ID).Msg("Task claimed")

	stage1Text := task.Stage1Result
	if stage1Text == "" {
		text, done, err := p.runStage(ctx, task, p.stage1, "")
		if err != nil {
			return p.resetOnCancel(ctx, task, err)
		}
		if done {
			return nil
		}
		stage1Text = text
	}

	if err := p.source.UpdateStatus(ctx, task.ID, model.StatusStage1Done,
		store.WithStage1Result(stage1Text), store.WithAttemptCount(task.AttemptCount)); err != nil {
		return fmt.Errorf("advancing %s past stage1: %w", task.ID, err)
	}

	if err := p.source.UpdateStatus(ctx, task.ID, model.StatusStage2InProgress); err != nil {
		return fmt.Errorf("starting stage2 for %s: %w", task.ID, err)
	}

	stage2Text, done, err := p.runStage(ctx, task, p.stage2, stage1Text)
	if err != nil {
		return p.resetOnCancel(ctx, task, err)
	}
	if done {
		return nil
	}

	if err := p.source.UpdateStatus(ctx, task.ID, model.StatusStage2Done,
		store.WithAttemptCount(task.AttemptCount)); err != nil {
		return fmt.Errorf("advancing %s past stage2: %w", task.ID, err)
	}

	return p.validate(ctx, task, stage2Text)
}

// runStage runs the attempt loop for one stage. It returns the stage text on
// success, done=true when the task already reached a terminal status, or an
// error only for context cancellation and store failures.
func (p *Pipeline) runStage(ctx context.Context, task *model.DomainTask, st stage, content string) (string, bool, error) {
	useFallback := false
	stageAttempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if err := wait(ctx, p.policy.PaceDelay()); err != nil {
			return "", false, err
		}

		proxy, key, err := p.rotator.Acquire(ctx)
		if err != nil {
			return "", false, err
		}

		modelID := st.cycle.Next()
		if useFallback && st.retryModel != "" {
			modelID = st.retryModel
		}

		req := aiclient.Request{
			Domain:      task.Domain,
			Model:       modelID,
			Proxy:       proxy,
			APIKey:      key.Key,
			Content:     content,
			SegmentHint: task.SegmentHint,
		}

		start := time.Now()
		res, callErr := st.call(ctx, req)
		elapsed := time.Since(start)

		outcome := p.evaluate(st, res, callErr, elapsed)
		metrics.AttemptDuration.WithLabelValues(st.name, resultLabel(outcome)).Observe(elapsed.Seconds())
		task.AttemptCount++
		stageAttempts++
		p.policy.Observe(outcome)
		p.rotator.Release(proxy, key, outcome)

		if outcome.Succeeded() {
			return res.Text, false, nil
		}

		// Stage-one triage: a short response naming an access problem is a
		// definitive verdict, not a transient failure.
		if st.name == p.stage1.name && errors.Is(outcome.Err, errShortResponse) {
			lower := strings.ToLower(res.Text)
			if strings.Contains(lower, "inaccessible") {
				return "", true, p.finish(ctx, task, model.StatusFailed, "website_inaccessible")
			}
			if strings.Contains(lower, "placeholder") {
				return "", true, p.finish(ctx, task, model.StatusFailed, "placeholder_page")
			}
		}

		task.LastErrorKind = string(outcome.Kind)
		log.Warn().
			Str("domain", task.Domain).
			Str("stage", st.name).
			Str("kind", string(outcome.Kind)).
			Int("attempt", task.AttemptCount).
			Err(outcome.Err).
			Msg("Attempt failed")

		action := p.policy.NextAction(task, outcome)
		if action.FreezeKeyFor > 0 {
			p.rotator.FreezeKey(key, action.FreezeKeyFor)
		}
		// Proxy-bound failures already rotated inside Release; kinds the policy
		// flags beyond those, like timeouts, rotate here.
		if action.RotateProxySession && !outcome.ProxyRelated {
			p.rotator.RotateSession(proxy)
		}

		switch action.Type {
		case policy.ActionGiveUp:
			return "", true, p.finish(ctx, task, model.StatusFailed, string(outcome.Kind))
		case policy.ActionDeadLetter:
			return "", true, p.finish(ctx, task, model.StatusDeadLetter, string(outcome.Kind))
		}

		if st.fallbackAfter > 0 && stageAttempts >= st.fallbackAfter {
			useFallback = true
		}
		if err := wait(ctx, action.Delay); err != nil {
			return "", false, err
		}
	}
}

// evaluate turns a call result into an AttemptOutcome, applying the stage-one
// length gate to otherwise successful responses.
func (p *Pipeline) evaluate(st stage, res *aiclient.StageResult, callErr error, elapsed time.Duration) model.AttemptOutcome {
	status := 0
	if res != nil {
		status = res.StatusCode
	}
	if callErr != nil {
		out := classify.Outcome(callErr, status)
		out.Elapsed = elapsed
		if res != nil {
			out.RetryAfter = res.RetryAfter
		}
		return out
	}
	if st.name == "stage1" && len(strings.TrimSpace(res.Text)) < minStage1Length {
		out := classify.Outcome(errShortResponse, 0)
		out.Kind = model.KindPayloadError
		out.Elapsed = elapsed
		return out
	}
	return model.Success([]byte(res.Text), status, elapsed)
}

// validate decodes, cleans and persists the stage-two payload.
func (p *Pipeline) validate(ctx context.Context, task *model.DomainTask, raw string) error {
	payload, err := validation.Decode([]byte(raw))
	if err != nil {
		log.Warn().Str("domain", task.Domain).Err(err).Msg("Stage2 payload undecodable")
		return p.finish(ctx, task, model.StatusFailed, string(model.KindPayloadError))
	}

	cleaned, issues, err := validation.Validate(payload, task.Domain, task.SegmentHint)
	if err != nil {
		log.Warn().Str("domain", task.Domain).Err(err).Msg("Stage2 payload failed validation")
		return p.finish(ctx, task, model.StatusFailed, "validation_failed")
	}

	if len(issues) > 0 {
		log.Debug().Str("domain", task.Domain).Int("issues", len(issues)).Msg("Payload cleaned with issues")
	}

	if err := p.source.SaveResult(ctx, task, cleaned, issues); err != nil {
		return fmt.Errorf("saving result for %s: %w", task.ID, err)
	}
	metrics.TasksTerminal.WithLabelValues(string(model.StatusValidated)).Inc()
	log.Info().
		Str("domain", task.Domain).
		Int("attempts", task.AttemptCount).
		Int("issues", len(issues)).
		Msg("Task validated")
	return nil
}

// finish moves the task to a terminal failure status.
func (p *Pipeline) finish(ctx context.Context, task *model.DomainTask, status model.Status, reason string) error {
	opts := []store.UpdateOption{
		store.WithAttemptCount(task.AttemptCount),
		store.WithCompletedAt(time.Now().UTC()),
	}
	if reason != "" {
		opts = append(opts, store.WithLastError(model.ErrorKind(reason)))
	}
	if err := p.source.UpdateStatus(ctx, task.ID, status, opts...); err != nil {
		return fmt.Errorf("finishing %s as %s: %w", task.ID, status, err)
	}
	metrics.TasksTerminal.WithLabelValues(string(status)).Inc()
	log.Info().
		Str("domain", task.Domain).
		Str("status", string(status)).
		Str("reason", reason).
		Int("attempts", task.AttemptCount).
		Msg("Task finished")
	return nil
}

// resetOnCancel returns in-progress work to the queue when the run is being
// shut down. Store errors other than cancellation pass through unchanged.
func (p *Pipeline) resetOnCancel(ctx context.Context, task *model.DomainTask, cause error) error {
	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	detached := context.WithoutCancel(ctx)
	if err := p.source.UpdateStatus(detached, task.ID, model.StatusPending,
		store.WithAttemptCount(task.AttemptCount)); err != nil {
		log.Error().Str("task_id", task.ID).Err(err).Msg("Failed to reset task to pending")
	} else {
		log.Debug().Str("domain", task.Domain).Msg("Task reset to pending on shutdown")
	}
	return cause
}

func resultLabel(o model.AttemptOutcome) string {
	if o.Succeeded() {
		return "success"
	}
	return string(o.Kind)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
