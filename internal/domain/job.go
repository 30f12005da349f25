package domain

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindIngest JobKind = "ingest"
	JobKindReport JobKind = "report"
)

type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusRunning      JobStatus = "running"
	JobStatusRetrying     JobStatus = "retrying"
	JobStatusSucceeded    JobStatus = "succeeded"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeadLettered JobStatus = "dead_lettered"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDeadLettered
}

// Active reports whether a job with this status still occupies its
// idempotency key. Enqueueing the same logical work while an active job
// holds the key must return that job instead of creating a second one.
func (s JobStatus) Active() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusRetrying:
		return true
	default:
		return false
	}
}

// Job is the canonical async unit processed by worker pipelines.
type Job struct {
	ID             string
	Kind           JobKind
	TenantID       string
	IdempotencyKey string
	Payload        json.RawMessage
	Status         JobStatus
	Attempts       int
	LastError      string
	EnqueuedAt     time.Time
	UpdatedAt      time.Time
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID          string          `json:"job_id"`
	Kind           JobKind         `json:"kind"`
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	RequestedAt    time.Time       `json:"requested_at"`
}

// JobListFilter narrows and paginates job listings.
type JobListFilter struct {
	TenantID string
	Kind     JobKind
	Status   JobStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// IngestPayload describes an ingestion job for one tenant repository.
type IngestPayload struct {
	Repo       string `json:"repo"`
	FullResync bool   `json:"full_resync,omitempty"`
}

// ReportPayload describes a report job over a repository time window.
type ReportPayload struct {
	Repo        string    `json:"repo"`
	Prompt      string    `json:"prompt,omitempty"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	ScheduleID  string    `json:"schedule_id,omitempty"`
}
