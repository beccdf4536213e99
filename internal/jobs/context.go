package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// Notifier receives job lifecycle events. Implementations must not block.
type Notifier interface {
	JobCreated(job *types.JobRun)
	JobProgress(job *types.JobRun, stage string, progress int)
	JobFailed(job *types.JobRun, stage string, errMsg string, terminal bool)
	JobDone(job *types.JobRun, result map[string]any)
}

// RetryPolicy controls requeue behavior after a failed attempt. The delay
// before attempt n+1 is Backoff doubled per prior failure.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) delay(attempts int) time.Duration {
	d := p.Backoff
	if d <= 0 {
		d = 5 * time.Second
	}
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// Context is the runtime handed to a job handler: payload access, progress
// reporting and the Fail/Succeed terminal transitions.
type Context struct {
	ctx    context.Context
	log    *logger.Logger
	job    *types.JobRun
	runs   repos.JobRunRepo
	notify Notifier
	retry  RetryPolicy
}

func NewContext(
	ctx context.Context,
	log *logger.Logger,
	job *types.JobRun,
	runRepo repos.JobRunRepo,
	notify Notifier,
	retry RetryPolicy,
) *Context {
	return &Context{
		ctx:    ctx,
		log:    log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts),
		job:    job,
		runs:   runRepo,
		notify: notify,
		retry:  retry,
	}
}

func (rc *Context) Ctx() context.Context { return rc.ctx }
func (rc *Context) Log() *logger.Logger  { return rc.log }
func (rc *Context) Job() *types.JobRun   { return rc.job }

// Payload unmarshals the job payload into v.
func (rc *Context) Payload(v any) error {
	if len(rc.job.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", rc.job.ID)
	}
	if err := json.Unmarshal(rc.job.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// PayloadUUID reads a single UUID field out of the payload.
func (rc *Context) PayloadUUID(key string) (uuid.UUID, error) {
	var m map[string]string
	if err := rc.Payload(&m); err != nil {
		return uuid.Nil, err
	}
	raw, ok := m[key]
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("payload missing %q", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("payload %q: %w", key, err)
	}
	return id, nil
}

// Progress persists the current stage/percent and fans it out to subscribers.
// Failures here are logged, not returned: progress is advisory.
func (rc *Context) Progress(stage string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	rc.job.Stage = stage
	rc.job.Progress = progress
	if err := rc.runs.UpdateFields(rc.ctx, nil, rc.job.ID, map[string]interface{}{
		"stage":    stage,
		"progress": progress,
	}); err != nil {
		rc.log.Warn("Failed to persist job progress", "stage", stage, "error", err)
	}
	if rc.notify != nil {
		rc.notify.JobProgress(rc.job, stage, progress)
	}
}

// Heartbeat refreshes the liveness stamp so the stale-running reclaim leaves
// this job alone.
func (rc *Context) Heartbeat() {
	if err := rc.runs.Heartbeat(rc.ctx, nil, rc.job.ID); err != nil {
		rc.log.Warn("Heartbeat failed", "error", err)
	}
}

// Fail records a failed attempt. When attempts remain, the job is requeued
// with an exponential backoff delay and Fail returns terminal=false. On the
// final attempt the job is marked failed for good and terminal=true.
func (rc *Context) Fail(stage string, cause error) (terminal bool, err error) {
	return rc.fail(stage, cause, rc.job.Attempts >= rc.retry.MaxAttempts)
}

// FailPermanent skips the remaining retry budget for errors that can never
// succeed on retry (unsupported formats, empty extractions).
func (rc *Context) FailPermanent(stage string, cause error) error {
	_, err := rc.fail(stage, cause, true)
	return err
}

func (rc *Context) fail(stage string, cause error, terminal bool) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now()

	updates := map[string]interface{}{
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	}
	if terminal {
		updates["status"] = types.JobStatusFailed
		updates["completed_at"] = now
	} else {
		runAfter := now.Add(rc.retry.delay(rc.job.Attempts))
		updates["status"] = types.JobStatusQueued
		updates["run_after"] = runAfter
		rc.job.RunAfter = &runAfter
	}
	if uErr := rc.runs.UpdateFields(rc.ctx, nil, rc.job.ID, updates); uErr != nil {
		return terminal, fmt.Errorf("record job failure: %w", uErr)
	}

	rc.job.Stage = stage
	rc.job.Error = msg
	if terminal {
		rc.job.Status = types.JobStatusFailed
		rc.log.Error("Job failed permanently", "stage", stage, "error", msg)
	} else {
		rc.job.Status = types.JobStatusQueued
		rc.log.Warn("Job attempt failed, requeued", "stage", stage, "error", msg, "run_after", rc.job.RunAfter)
	}
	if rc.notify != nil {
		rc.notify.JobFailed(rc.job, stage, msg, terminal)
	}
	return terminal, nil
}

// Succeed marks the job done and stores the result document.
func (rc *Context) Succeed(result map[string]any) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.JobStatusSucceeded,
		"progress":     100,
		"error":        "",
		"completed_at": now,
		"locked_at":    nil,
		"heartbeat_at": nil,
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		updates["result"] = raw
	}
	if err := rc.runs.UpdateFields(rc.ctx, nil, rc.job.ID, updates); err != nil {
		return fmt.Errorf("record job success: %w", err)
	}

	rc.job.Status = types.JobStatusSucceeded
	rc.job.Progress = 100
	rc.log.Info("Job succeeded")
	if rc.notify != nil {
		rc.notify.JobDone(rc.job, result)
	}
	return nil
}
