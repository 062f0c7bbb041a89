package models

import "time"

// StoredJob is the durable representation of a research job
type StoredJob struct {
	ID        string          `json:"job_id" badgerhold:"key"`
	Status    JobStatus       `json:"status" badgerhold:"index"`
	Company   string          `json:"company"`
	Request   ResearchRequest `json:"request"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StoredReport is the durable representation of a completed report
type StoredReport struct {
	JobID     string    `json:"job_id"`
	Report    string    `json:"report"`
	CreatedAt time.Time `json:"created_at"`
}
