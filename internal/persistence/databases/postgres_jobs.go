package databases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"citegraph/internal/provenance"
)

type pgJobs struct{ pool *pgxpool.Pool }

// NewPostgresJobs creates the jobs, progress_events, and documents_meta
// tables if needed and returns a JobStore backed by the pool.
func NewPostgresJobs(ctx context.Context, pool *pgxpool.Pool) (JobStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
  job_id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  priority INT NOT NULL,
  status TEXT NOT NULL,
  attempt_count INT NOT NULL DEFAULT 0,
  max_attempts INT NOT NULL DEFAULT 3,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  heartbeat_at TIMESTAMPTZ,
  last_error TEXT NOT NULL DEFAULT '',
  result_doc_id TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS progress_events (
  job_id TEXT NOT NULL,
  seq BIGINT NOT NULL,
  emitted_at TIMESTAMPTZ NOT NULL,
  stage TEXT NOT NULL,
  percent INT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  counters JSONB,
  PRIMARY KEY (job_id, seq)
)`,
		`CREATE TABLE IF NOT EXISTS documents_meta (
  doc_id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  source_kind TEXT NOT NULL,
  tier TEXT NOT NULL,
  quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  byte_length BIGINT NOT NULL DEFAULT 0,
  ingested_at TIMESTAMPTZ NOT NULL
)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create jobs schema: %w", err)
		}
	}
	return &pgJobs{pool: pool}, nil
}

func (s *pgJobs) CreateJob(ctx context.Context, job provenance.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO jobs(job_id, url, priority, status, attempt_count, max_attempts, created_at, updated_at, last_error, result_doc_id)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (job_id) DO NOTHING
`, job.JobID, job.URL, job.Priority, string(job.Status), job.AttemptCount, job.MaxAttempts,
		job.CreatedAt, job.UpdatedAt, job.LastError, job.ResultDocID)
	return err
}

func (s *pgJobs) GetJob(ctx context.Context, jobID string) (provenance.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT job_id, url, priority, status, attempt_count, max_attempts, created_at, updated_at, last_error, result_doc_id
FROM jobs WHERE job_id=$1
`, jobID)
	var j provenance.Job
	var status string
	err := row.Scan(&j.JobID, &j.URL, &j.Priority, &status, &j.AttemptCount, &j.MaxAttempts,
		&j.CreatedAt, &j.UpdatedAt, &j.LastError, &j.ResultDocID)
	if errors.Is(err, pgx.ErrNoRows) {
		return provenance.Job{}, false, nil
	}
	if err != nil {
		return provenance.Job{}, false, err
	}
	j.Status = provenance.JobStatus(status)
	return j, true, nil
}

func (s *pgJobs) UpdateJob(ctx context.Context, job provenance.Job) error {
	_, err := s.pool.Exec(ctx, `
UPDATE jobs SET status=$2, attempt_count=$3, updated_at=$4, last_error=$5, result_doc_id=$6, priority=$7
WHERE job_id=$1
`, job.JobID, string(job.Status), job.AttemptCount, job.UpdatedAt, job.LastError, job.ResultDocID, job.Priority)
	return err
}

func (s *pgJobs) Heartbeat(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET heartbeat_at=$2 WHERE job_id=$1`, jobID, at)
	return err
}

func (s *pgJobs) RequeueAbandoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE jobs SET status='QUEUED', heartbeat_at=NULL, updated_at=now()
WHERE status IN ('EXTRACTING','TRANSFORMING','LOADING')
  AND (heartbeat_at IS NULL OR heartbeat_at < $1)
RETURNING job_id
`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgJobs) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM jobs
WHERE updated_at < $1 AND status IN ('COMPLETED','FAILED','CANCELLED')
`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgJobs) AppendEvent(ctx context.Context, ev provenance.ProgressEvent) error {
	var counters []byte
	if ev.Counters != nil {
		data, err := json.Marshal(ev.Counters)
		if err != nil {
			return err
		}
		counters = data
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO progress_events(job_id, seq, emitted_at, stage, percent, message, counters)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (job_id, seq) DO NOTHING
`, ev.JobID, ev.Seq, ev.EmittedAt, string(ev.Stage), ev.Percent, ev.Message, counters)
	return err
}

func (s *pgJobs) ListEvents(ctx context.Context, jobID string, fromSeq int64) ([]provenance.ProgressEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT job_id, seq, emitted_at, stage, percent, message, counters
FROM progress_events WHERE job_id=$1 AND seq >= $2 ORDER BY seq
`, jobID, fromSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []provenance.ProgressEvent
	for rows.Next() {
		var ev provenance.ProgressEvent
		var stage string
		var counters []byte
		if err := rows.Scan(&ev.JobID, &ev.Seq, &ev.EmittedAt, &stage, &ev.Percent, &ev.Message, &counters); err != nil {
			return nil, err
		}
		ev.Stage = provenance.Stage(stage)
		if len(counters) > 0 {
			_ = json.Unmarshal(counters, &ev.Counters)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *pgJobs) PruneEventsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM progress_events WHERE emitted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgJobs) UpsertDocumentMeta(ctx context.Context, doc provenance.Document) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO documents_meta(doc_id, url, title, source_kind, tier, quality_score, byte_length, ingested_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (doc_id) DO NOTHING
`, doc.DocID, doc.URL, doc.Title, string(doc.SourceKind), string(doc.Tier), doc.QualityScore, doc.ByteLength, doc.IngestedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgJobs) GetDocumentMeta(ctx context.Context, docID string) (provenance.Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT doc_id, url, title, source_kind, tier, quality_score, byte_length, ingested_at
FROM documents_meta WHERE doc_id=$1
`, docID)
	var d provenance.Document
	var kind, tier string
	err := row.Scan(&d.DocID, &d.URL, &d.Title, &kind, &tier, &d.QualityScore, &d.ByteLength, &d.IngestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return provenance.Document{}, false, nil
	}
	if err != nil {
		return provenance.Document{}, false, err
	}
	d.SourceKind = provenance.SourceKind(kind)
	d.Tier = provenance.Tier(tier)
	return d, true, nil
}

func (s *pgJobs) Close() { s.pool.Close() }
