package provenance

import "time"

// JobStatus is the job state machine's state set.
type JobStatus string

const (
	JobQueued       JobStatus = "QUEUED"
	JobExtracting   JobStatus = "EXTRACTING"
	JobTransforming JobStatus = "TRANSFORMING"
	JobLoading      JobStatus = "LOADING"
	JobCompleted    JobStatus = "COMPLETED"
	JobFailed       JobStatus = "FAILED"
	JobCancelled    JobStatus = "CANCELLED"
	JobRetrying     JobStatus = "RETRYING"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is one end-to-end unit of ingestion work.
type Job struct {
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	Priority     int       `json:"priority"` // 1 highest .. 10 lowest
	Status       JobStatus `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastError    string    `json:"last_error,omitempty"`
	ResultDocID  string    `json:"result_doc_id,omitempty"`
}

// Stage names the pipeline stage a progress event reports on.
type Stage string

const (
	StageQueued   Stage = "QUEUED"
	StageExtract  Stage = "EXTRACT"
	StageChunk    Stage = "CHUNK"
	StageCoref    Stage = "COREF"
	StageNER      Stage = "NER"
	StageLink     Stage = "LINK"
	StageRelate   Stage = "RELATE"
	StageEmbed    Stage = "EMBED"
	StageIndex    Stage = "INDEX"
	StageComplete Stage = "COMPLETE"
	StageError    Stage = "ERROR"
)

// Terminal reports whether this stage closes the job's event stream.
// CANCELLED jobs end with an ERROR-staged event carrying the cancellation
// message; COMPLETE and ERROR are the only terminal stages on the wire.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// ProgressEvent is one append-only log entry of a job's advancement.
// Seq starts at 0 and is strictly increasing per job; Percent never
// decreases.
type ProgressEvent struct {
	JobID     string         `json:"job_id"`
	Seq       int64          `json:"seq"`
	EmittedAt time.Time      `json:"emitted_at"`
	Stage     Stage          `json:"stage"`
	Percent   int            `json:"percent"`
	Message   string         `json:"message"`
	Counters  map[string]int `json:"counters,omitempty"`
}
