// -----------------------------------------------------------------------
// Research job model - request, lifecycle status and status events
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// ResearchRequest is the payload accepted at the submission boundary.
// It is stored as an immutable snapshot on the job record.
type ResearchRequest struct {
	Company    string `json:"company" validate:"required,max=200"`
	CompanyURL string `json:"company_url,omitempty" validate:"omitempty,url"`
	Industry   string `json:"industry,omitempty" validate:"max=200"`
	HQLocation string `json:"hq_location,omitempty" validate:"max=200"`
}

// JobStatus is the lifecycle state of a research job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// rank orders statuses for forward-only progression; terminal states share a rank
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// IsValid reports whether s is a known status
func (s JobStatus) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no transition may follow s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next respects forward-only progression.
// Re-asserting a non-terminal status (processing -> processing) is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// JobRecord is the in-memory belief about one job. Report and Error are mutually exclusive.
type JobRecord struct {
	JobID      string          `json:"job_id"`
	Status     JobStatus       `json:"status"`
	Request    ResearchRequest `json:"request"`
	Report     string          `json:"report,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUpdate time.Time       `json:"last_update"`
}

// Company returns the company named in the originating request
func (r JobRecord) Company() string {
	return r.Request.Company
}

// Result returns the result payload for a completed record, nil otherwise
func (r JobRecord) Result() *StatusResult {
	if r.Status != JobStatusCompleted || r.Report == "" {
		return nil
	}
	return &StatusResult{Report: r.Report, Company: r.Request.Company}
}

// StatusResult is the payload carried by a completed status event
type StatusResult struct {
	Report  string `json:"report"`
	Company string `json:"company"`
}

// StatusEvent is an immutable notification of a job's status, delivered to every subscriber of the job
type StatusEvent struct {
	JobID     string        `json:"job_id"`
	Status    JobStatus     `json:"status"`
	Message   string        `json:"message"`
	Stage     string        `json:"stage,omitempty"`
	Result    *StatusResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// IsProgress reports whether the event is an intermediate pipeline progress notification
func (e StatusEvent) IsProgress() bool {
	return e.Stage != "" && !e.Status.IsTerminal()
}

// NewStatusEvent builds an event stamped with the current time
func NewStatusEvent(jobID string, status JobStatus, message string) StatusEvent {
	return StatusEvent{
		JobID:     jobID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// SnapshotEvent converts a record into the event replayed to a newly attached subscriber
func SnapshotEvent(record JobRecord, message string) StatusEvent {
	event := NewStatusEvent(record.JobID, record.Status, message)
	event.Result = record.Result()
	event.Error = record.Error
	return event
}

// WSMessage is the websocket frame envelope
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WSMessageStatusUpdate is the frame type for StatusEvent payloads
const WSMessageStatusUpdate = "status_update"

// State is one partial pipeline state map; the pipeline yields a sequence of these
type State map[string]interface{}

// Well-known state keys understood by the job body
const (
	StateKeyReport = "report"
	StateKeyEditor = "editor"
	StateKeyError  = "error"
)

// Merge copies every key of update into s (shallow, last writer wins)
func (s State) Merge(update State) {
	for k, v := range update {
		s[k] = v
	}
}

// Keys returns the state keys, for diagnostics
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}
