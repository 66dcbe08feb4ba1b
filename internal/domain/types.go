package domain

import "time"

type JobID string

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// JobStatus is the coarse state of a job's pipeline.
type JobStatus string

const (
	JobStatusSubmitted     JobStatus = "submitted"
	JobStatusInterpreting  JobStatus = "interpreting"
	JobStatusArchitecting  JobStatus = "architecting"
	JobStatusFillingSlides JobStatus = "filling_slides"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type Timestamp = time.Time
