package jobs

import (
	"context"
	"time"

	"citegraph/internal/faults"
	"citegraph/internal/provenance"
)

// Runtime is the surface a running job uses to talk back to the manager:
// progress events, phase transitions, stage timeouts, and cancellation
// checks at stage boundaries.
type Runtime struct {
	mgr *Manager
	job provenance.Job
}

// Emit reports progress for the current stage.
func (rt *Runtime) Emit(ctx context.Context, stage provenance.Stage, percent int, message string, counters map[string]int) {
	if _, err := rt.mgr.bus.Emit(ctx, rt.job.JobID, stage, percent, message, counters); err != nil {
		// Progress is observability, not correctness; the durable log catches
		// up on the next event.
		return
	}
}

// SetPhase moves the job's coarse status (EXTRACTING → TRANSFORMING →
// LOADING).
func (rt *Runtime) SetPhase(ctx context.Context, status provenance.JobStatus) {
	job, ok, err := rt.mgr.store.GetJob(ctx, rt.job.JobID)
	if err != nil || !ok || job.Status.Terminal() {
		return
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	_ = rt.mgr.store.UpdateJob(ctx, job)
	rt.mgr.cacheStatus(ctx, job)
}

// StageTimeout returns the configured ceiling for a stage.
func (rt *Runtime) StageTimeout(stage string) time.Duration {
	if secs, ok := rt.mgr.cfg.StageTimeoutSeconds[stage]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

// Checkpoint is called at stage entry and batch boundaries. It returns a
// cancelled fault when the token fired or the job was cancelled out of band.
func (rt *Runtime) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return faults.New(faults.Cancelled, err)
	}
	job, ok, err := rt.mgr.store.GetJob(ctx, rt.job.JobID)
	if err == nil && ok && job.Status == provenance.JobCancelled {
		return faults.Newf(faults.Cancelled, "job cancelled")
	}
	return nil
}
