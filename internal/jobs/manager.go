package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"citegraph/internal/config"
	"citegraph/internal/faults"
	"citegraph/internal/identity"
	"citegraph/internal/persistence/databases"
	"citegraph/internal/provenance"
)

// Runner executes the pipeline for one claimed job and returns the resulting
// document ID.
type Runner interface {
	Run(ctx context.Context, job provenance.Job, rt *Runtime) (string, error)
}

// RunnerFunc adapts a func to Runner.
type RunnerFunc func(ctx context.Context, job provenance.Job, rt *Runtime) (string, error)

func (f RunnerFunc) Run(ctx context.Context, job provenance.Job, rt *Runtime) (string, error) {
	return f(ctx, job, rt)
}

// TerminalPublisher receives terminal events for downstream consumers.
type TerminalPublisher interface {
	PublishTerminal(ctx context.Context, ev provenance.ProgressEvent) error
}

// statusTTL bounds how stale a cached job record may be.
const statusTTL = 60 * time.Second

// Manager is the durable work queue: it owns job records and their state
// machine; workers claim jobs, heartbeat, and report back through it.
type Manager struct {
	cfg    config.IngestionConfig
	store  databases.JobStore
	cache  databases.Cache
	bus    *Bus
	queue  *Queue
	runner Runner
	pub    TerminalPublisher

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewManager wires the manager. pub may be nil.
func NewManager(cfg config.IngestionConfig, store databases.JobStore, cache databases.Cache, bus *Bus, runner Runner, pub TerminalPublisher) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		bus:     bus,
		queue:   NewQueue(),
		runner:  runner,
		pub:     pub,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Bus exposes the progress bus for subscribers.
func (m *Manager) Bus() *Bus { return m.bus }

// Submit persists a new job, emits the QUEUED event at seq 0, and enqueues
// it. The URL must at least normalize; deeper validation happens in the
// extract stage.
func (m *Manager) Submit(ctx context.Context, url string, priority int) (string, error) {
	if _, err := identity.NormalizeURL(url); err != nil {
		return "", faults.New(faults.Validation, err)
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	now := time.Now().UTC()
	job := provenance.Job{
		JobID:       uuid.NewString(),
		URL:         url,
		Priority:    priority,
		Status:      provenance.JobQueued,
		MaxAttempts: m.cfg.MaxAutomaticRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", faults.New(faults.Transient, fmt.Errorf("persist job: %w", err))
	}
	if _, err := m.bus.Emit(ctx, job.JobID, provenance.StageQueued, 0, "queued", nil); err != nil {
		return "", faults.New(faults.Transient, err)
	}
	m.queue.Enqueue(job.JobID, job.Priority, 0)
	return job.JobID, nil
}

// Status returns the job record, cache first.
func (m *Manager) Status(ctx context.Context, jobID string) (provenance.Job, bool, error) {
	if m.cache != nil {
		if data, ok, err := m.cache.Get(ctx, statusKey(jobID)); err == nil && ok {
			var job provenance.Job
			if json.Unmarshal(data, &job) == nil {
				return job, true, nil
			}
		}
	}
	job, ok, err := m.store.GetJob(ctx, jobID)
	if err != nil || !ok {
		return provenance.Job{}, ok, err
	}
	m.cacheStatus(ctx, job)
	return job, true, nil
}

// Cancel flips a non-terminal job to CANCELLED. A running worker observes
// the cancellation token at the next stage boundary; work the indexer
// already committed stays (idempotent upserts).
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, ok, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return faults.New(faults.Transient, err)
	}
	if !ok {
		return faults.Newf(faults.Validation, "unknown job %s", jobID)
	}
	if job.Status.Terminal() {
		return faults.Newf(faults.Validation, "job %s already %s", jobID, job.Status)
	}
	wasQueued := job.Status == provenance.JobQueued || job.Status == provenance.JobRetrying
	job.Status = provenance.JobCancelled
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return faults.New(faults.Transient, err)
	}
	m.cacheStatus(ctx, job)

	m.mu.Lock()
	cancel := m.cancels[jobID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	} else if wasQueued {
		// Never claimed: close the stream now, no worker will.
		m.finishTerminal(ctx, job, provenance.StageError, "cancelled by user")
	}
	return nil
}

// Retry re-enqueues a failed job. Manual retries get a larger attempt budget
// and a priority boost; both schedule with exponential backoff.
func (m *Manager) Retry(ctx context.Context, jobID string, manual bool) error {
	job, ok, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return faults.New(faults.Transient, err)
	}
	if !ok {
		return faults.Newf(faults.Validation, "unknown job %s", jobID)
	}
	limit := m.cfg.MaxAutomaticRetries
	if manual {
		limit = m.cfg.MaxManualRetries
		if job.Status != provenance.JobFailed {
			return faults.Newf(faults.Validation, "job %s is %s, not FAILED", jobID, job.Status)
		}
	}
	if job.AttemptCount >= limit {
		return faults.Newf(faults.Validation, "job %s exhausted its %d attempts", jobID, limit)
	}
	if manual {
		job.Priority = max(1, job.Priority-2)
	}
	backoff := time.Duration(1<<uint(job.AttemptCount)) * time.Second
	job.Status = provenance.JobRetrying
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return faults.New(faults.Transient, err)
	}
	job.Status = provenance.JobQueued
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return faults.New(faults.Transient, err)
	}
	m.cacheStatus(ctx, job)
	m.queue.Enqueue(jobID, job.Priority, backoff)
	return nil
}

// Run starts the worker pool and the lease reaper, blocking until ctx ends
// and the workers drain.
func (m *Manager) Run(ctx context.Context) {
	workers := m.cfg.WorkerConcurrency
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func(id int) {
			defer m.wg.Done()
			for {
				jobID, ok := m.queue.Claim(ctx)
				if !ok {
					return
				}
				m.process(ctx, jobID)
			}
		}(i)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timeout := time.Duration(m.cfg.HeartbeatTimeoutSeconds) * time.Second
		ticker := time.NewTicker(timeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reap(ctx, timeout)
			}
		}
	}()

	m.wg.Wait()
}

func (m *Manager) reap(ctx context.Context, timeout time.Duration) {
	reaped := m.queue.ReapExpired(timeout, func(jobID string) int {
		if job, ok, err := m.store.GetJob(ctx, jobID); err == nil && ok {
			return job.Priority
		}
		return 5
	})
	for _, jobID := range reaped {
		log.Warn().Str("job_id", jobID).Msg("job_lease_expired_requeued")
		if job, ok, err := m.store.GetJob(ctx, jobID); err == nil && ok && !job.Status.Terminal() {
			job.Status = provenance.JobQueued
			job.UpdatedAt = time.Now().UTC()
			_ = m.store.UpdateJob(ctx, job)
			m.cacheStatus(ctx, job)
		}
	}
}

// process runs one claimed job through the runner and settles the outcome.
func (m *Manager) process(ctx context.Context, jobID string) {
	defer m.queue.Ack(jobID)

	job, ok, err := m.store.GetJob(ctx, jobID)
	if err != nil || !ok {
		log.Error().Err(err).Str("job_id", jobID).Msg("claimed_job_missing")
		return
	}
	if job.Status.Terminal() {
		// Cancelled while queued: the Cancel path already closed the stream.
		return
	}

	// Each invocation consumes one attempt.
	job.AttemptCount++
	job.Status = provenance.JobExtracting
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("job_update_failed")
		return
	}
	m.cacheStatus(ctx, job)

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[jobID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, jobID)
		m.mu.Unlock()
	}()

	// Heartbeats keep the lease and the durable record alive.
	hbStop := make(chan struct{})
	defer close(hbStop)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hbStop:
				return
			case <-ticker.C:
				m.queue.Heartbeat(jobID)
				_ = m.store.Heartbeat(ctx, jobID, time.Now().UTC())
			}
		}
	}()

	rt := &Runtime{mgr: m, job: job}
	docID, runErr := m.runner.Run(runCtx, job, rt)
	if runErr == nil {
		m.complete(ctx, job, docID)
		return
	}
	m.settleFailure(ctx, job, runErr)
}

func (m *Manager) settleFailure(ctx context.Context, job provenance.Job, runErr error) {
	job.LastError = runErr.Error()
	switch faults.KindOf(runErr) {
	case faults.Cancelled:
		job.Status = provenance.JobCancelled
		job.UpdatedAt = time.Now().UTC()
		_ = m.store.UpdateJob(ctx, job)
		m.cacheStatus(ctx, job)
		m.finishTerminal(ctx, job, provenance.StageError, "cancelled by user")
	case faults.Transient:
		if job.AttemptCount < m.cfg.MaxAutomaticRetries {
			job.UpdatedAt = time.Now().UTC()
			_ = m.store.UpdateJob(ctx, job)
			if err := m.Retry(ctx, job.JobID, false); err == nil {
				log.Warn().Str("job_id", job.JobID).Int("attempt", job.AttemptCount).
					Str("error", job.LastError).Msg("job_retrying")
				return
			}
		}
		m.fail(ctx, job)
	default: // validation, data_integrity
		m.fail(ctx, job)
	}
}

func (m *Manager) complete(ctx context.Context, job provenance.Job, docID string) {
	job.Status = provenance.JobCompleted
	job.ResultDocID = docID
	job.UpdatedAt = time.Now().UTC()
	_ = m.store.UpdateJob(ctx, job)
	m.cacheStatus(ctx, job)
	ev, err := m.bus.Emit(ctx, job.JobID, provenance.StageComplete, 100, "completed", map[string]int{})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("terminal_emit_failed")
		return
	}
	m.publishTerminal(ctx, ev)
}

func (m *Manager) fail(ctx context.Context, job provenance.Job) {
	job.Status = provenance.JobFailed
	job.UpdatedAt = time.Now().UTC()
	_ = m.store.UpdateJob(ctx, job)
	m.cacheStatus(ctx, job)
	m.finishTerminal(ctx, job, provenance.StageError, job.LastError)
}

func (m *Manager) finishTerminal(ctx context.Context, job provenance.Job, stage provenance.Stage, message string) {
	// Negative percent freezes the last reported value.
	ev, err := m.bus.Emit(ctx, job.JobID, stage, -1, message, nil)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("terminal_emit_failed")
		return
	}
	m.publishTerminal(ctx, ev)
}

func (m *Manager) publishTerminal(ctx context.Context, ev provenance.ProgressEvent) {
	if m.pub == nil {
		return
	}
	if err := m.pub.PublishTerminal(ctx, ev); err != nil {
		log.Warn().Err(err).Str("job_id", ev.JobID).Msg("terminal_publish_failed")
	}
}

func (m *Manager) cacheStatus(ctx context.Context, job provenance.Job) {
	if m.cache == nil {
		return
	}
	if data, err := json.Marshal(job); err == nil {
		_ = m.cache.Set(ctx, statusKey(job.JobID), data, statusTTL)
	}
}

func statusKey(jobID string) string { return "jobstatus:" + jobID }

// PruneExpired deletes terminal jobs and events older than the retention
// window. Scheduled from the daemon, never during ingestion.
func (m *Manager) PruneExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(m.cfg.JobRetentionSeconds) * time.Second)
	if _, err := m.store.DeleteJobsOlderThan(ctx, cutoff); err != nil {
		return err
	}
	_, err := m.store.PruneEventsOlderThan(ctx, cutoff)
	return err
}
